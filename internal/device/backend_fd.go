package device

import (
	"context"
	"io"
	"os"

	"github.com/tapecore/tapecore/internal/deverr"
)

// fdBackend passes an already-open file handle straight through as a
// tape-primitive backend. It has no concept of filemarks or
// positioning; rewind and friends are rejected rather than silently
// ignored, since a caller asking to rewind a pipe or a caller's stdout
// is a programming error.
type fdBackend struct {
	f     *os.File
	flags OpenFlags
}

// OpenFD registers f directly as a handle's backend, bypassing name
// parsing. Used where a caller already holds an open descriptor, e.g.
// directly-supplied RAIT children or a restore piping to stdout.
func OpenFD(f *os.File, flags OpenFlags, master *Handle) (Handle, error) {
	b := &fdBackend{f: f, flags: flags}
	h := reg.alloc()
	info := &Info{
		Handle:  h,
		Kind:    "fd",
		Name:    f.Name(),
		Flags:   flags,
		Master:  master,
		backend: b,
	}
	reg.mu.Lock()
	reg.entries[h] = info
	reg.mu.Unlock()
	return h, nil
}

func (b *fdBackend) Rewind(ctx context.Context) error {
	return deverr.New(deverr.InvalidArg, "device: fd backend does not support rewind")
}
func (b *fdBackend) FSF(ctx context.Context, n int) error {
	return deverr.New(deverr.InvalidArg, "device: fd backend does not support fsf")
}
func (b *fdBackend) BSF(ctx context.Context, n int) error {
	return deverr.New(deverr.InvalidArg, "device: fd backend does not support bsf")
}
func (b *fdBackend) WEOF(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return deverr.New(deverr.InvalidArg, "device: fd backend does not support weof")
}
func (b *fdBackend) Eject(ctx context.Context) error { return nil }

func (b *fdBackend) Status(ctx context.Context) (AmMtStatus, error) {
	return AmMtStatus{Online: BoolField{Valid: true, Value: true}}, nil
}

func (b *fdBackend) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := b.f.Read(buf)
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, deverr.Wrap(deverr.DeviceError, err, "device: fd read")
	}
	return n, nil
}

func (b *fdBackend) Write(ctx context.Context, buf []byte) (int, error) {
	if !b.flags.Write {
		return 0, deverr.New(deverr.Access, "device: write on read-only fd handle")
	}
	n, err := b.f.Write(buf)
	if err != nil {
		return n, deverr.Wrap(deverr.DeviceError, err, "device: fd write")
	}
	return n, nil
}

func (b *fdBackend) Stat(ctx context.Context) (Stat, error) {
	return Stat{Exists: true}, nil
}

func (b *fdBackend) Access(ctx context.Context, mode AccessMode) error {
	if mode == AccessWrite && !b.flags.Write {
		return deverr.New(deverr.Access, "device: fd handle not opened for write")
	}
	return nil
}

func (b *fdBackend) Close() error { return b.f.Close() }
