package device

import (
	"context"
	"io"
	"os"
	"testing"
)

func TestNullBackend(t *testing.T) {
	ctx := context.Background()
	h, err := Open(ctx, "null:ignored", OpenFlags{Write: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(h)

	n, err := Write(ctx, h, []byte("discarded"))
	if err != nil || n != len("discarded") {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	buf := make([]byte, 8)
	if _, err := Read(ctx, h, buf); err != io.EOF {
		t.Fatalf("read err = %v, want io.EOF", err)
	}
	if err := Rewind(ctx, h); err != nil {
		t.Fatalf("rewind: %v", err)
	}
}

func TestOpenFDPassthrough(t *testing.T) {
	ctx := context.Background()
	tmp, err := os.CreateTemp(t.TempDir(), "fdtest")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	h, err := OpenFD(tmp, OpenFlags{Write: true}, nil)
	if err != nil {
		t.Fatalf("OpenFD: %v", err)
	}
	defer Close(h)

	if _, err := Write(ctx, h, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Rewind(ctx, h); err == nil {
		t.Fatalf("expected rewind to be rejected on fd backend")
	}
	info, err := GetInfo(h)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Kind != "fd" {
		t.Fatalf("Kind = %q, want fd", info.Kind)
	}
}
