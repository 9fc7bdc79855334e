//go:build !linux

package scsi

import (
	"os"
	"time"
)

// fdTransport is a no-op stand-in on platforms without SG_IO. The device
// and changer layers still build and validate CDBs; only the actual
// ioctl is unavailable here.
type fdTransport struct {
	f *os.File
}

func OpenTransport(path string) (Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &fdTransport{f: f}, nil
}

func NewTransportFromFile(f *os.File) Transport {
	return &fdTransport{f: f}
}

func (t *fdTransport) Close() error {
	return t.f.Close()
}

func (t *fdTransport) Run(dir Direction, cdb []byte, data []byte, timeout time.Duration) (Result, error) {
	return Result{Outcome: Error}, ErrUnsupportedPlatform
}
