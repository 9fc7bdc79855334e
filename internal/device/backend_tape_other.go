//go:build !linux

package device

import (
	"context"

	"github.com/tapecore/tapecore/internal/deverr"
)

// openTapeBackend has no ioctl-level implementation outside Linux; the
// null and file backends remain fully usable.
func openTapeBackend(ctx context.Context, path string, flags OpenFlags, self Handle) (Backend, error) {
	return nil, deverr.New(deverr.DeviceError, "device: tape backend requires linux")
}
