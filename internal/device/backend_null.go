package device

import (
	"context"
	"io"
)

// nullBackend discards all writes and reports immediate EOF on read,
// the tape-shaped equivalent of /dev/null.
type nullBackend struct{}

func openNullBackend(ctx context.Context, path string, flags OpenFlags, self Handle) (Backend, error) {
	return &nullBackend{}, nil
}

func (b *nullBackend) Rewind(ctx context.Context) error   { return nil }
func (b *nullBackend) FSF(ctx context.Context, n int) error { return nil }
func (b *nullBackend) BSF(ctx context.Context, n int) error { return nil }
func (b *nullBackend) WEOF(ctx context.Context, n int) error {
	if n < 0 {
		return errInvalidArg
	}
	return nil
}
func (b *nullBackend) Eject(ctx context.Context) error { return nil }

func (b *nullBackend) Status(ctx context.Context) (AmMtStatus, error) {
	return AmMtStatus{
		Online: BoolField{Valid: true, Value: true},
		BOT:    BoolField{Valid: true, Value: true},
		EOT:    BoolField{Valid: true, Value: true},
	}, nil
}

func (b *nullBackend) Read(ctx context.Context, buf []byte) (int, error) {
	return 0, io.EOF
}

func (b *nullBackend) Write(ctx context.Context, buf []byte) (int, error) {
	return len(buf), nil
}

func (b *nullBackend) Stat(ctx context.Context) (Stat, error) {
	return Stat{Exists: true}, nil
}

func (b *nullBackend) Access(ctx context.Context, mode AccessMode) error {
	return nil
}

func (b *nullBackend) Close() error { return nil }
