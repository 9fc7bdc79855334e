package tapetype

import (
	"context"

	"github.com/tapecore/tapecore/internal/device"
)

// DeviceWriter adapts an open device.Handle to the narrow Writer
// interface Prober needs, so the probe in the CLI can run against any
// backend (tape, file, rait) dispatched through internal/device rather
// than only a standalone test fake.
type DeviceWriter struct {
	Handle device.Handle
}

func (d DeviceWriter) Write(ctx context.Context, buf []byte) (int, error) {
	return device.Write(ctx, d.Handle, buf)
}

func (d DeviceWriter) WEOF(ctx context.Context, n int) error {
	return device.WEOF(ctx, d.Handle, n)
}

func (d DeviceWriter) Rewind(ctx context.Context) error {
	return device.Rewind(ctx, d.Handle)
}
