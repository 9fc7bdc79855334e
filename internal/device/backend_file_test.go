package device

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tapecore/tapecore/internal/deverr"
)

func TestFileBackendWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	h, err := Open(ctx, "file:"+dir, OpenFlags{Write: true, Create: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	blocks := [][]byte{
		bytes.Repeat([]byte("A"), 1024),
		bytes.Repeat([]byte("B"), 1024),
		bytes.Repeat([]byte("C"), 1024),
	}
	for _, blk := range blocks {
		n, err := Write(ctx, h, blk)
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if n != len(blk) {
			t.Fatalf("write n = %d, want %d", n, len(blk))
		}
	}
	if err := WEOF(ctx, h, 1); err != nil {
		t.Fatalf("weof: %v", err)
	}
	if err := Close(h); err != nil {
		t.Fatalf("close: %v", err)
	}

	info, err := os.ReadFile(filepath.Join(dir, "info"))
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if strings.TrimSpace(string(info)) != "position 1" {
		t.Fatalf("info = %q, want %q", info, "position 1")
	}

	h2, err := Open(ctx, "file:"+dir, OpenFlags{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := Rewind(ctx, h2); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	for i, want := range blocks {
		buf := make([]byte, 1024)
		n, err := Read(ctx, h2, buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if n != len(want) || !bytes.Equal(buf[:n], want) {
			t.Fatalf("read %d = %q, want %q", i, buf[:n], want)
		}
	}
	if err := Close(h2); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestFileBackendShortReadDiscardsTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	h, err := Open(ctx, "file:"+dir, OpenFlags{Write: true, Create: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	full := bytes.Repeat([]byte("x"), 1024)
	if _, err := Write(ctx, h, full); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WEOF(ctx, h, 1); err != nil {
		t.Fatalf("weof: %v", err)
	}
	if err := Close(h); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := Open(ctx, "file:"+dir, OpenFlags{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer Close(h2)
	if err := Rewind(ctx, h2); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	small := make([]byte, 16)
	n, err := Read(ctx, h2, small)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 {
		t.Fatalf("n = %d, want 16", n)
	}
	if !bytes.Equal(small, full[:16]) {
		t.Fatalf("short read content mismatch")
	}

	// The rest of the record was discarded: the next read is past the
	// only record and reports EOF, not the record's tail.
	if _, err := Read(ctx, h2, small); err != io.EOF {
		t.Fatalf("read after discarded tail = %v, want io.EOF", err)
	}
}

func TestFileBackendWriteOnReadOnlyFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	h, err := Open(ctx, "file:"+dir, OpenFlags{Create: true}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(h)
	_, err = Write(ctx, h, []byte("x"))
	if !deverr.Is(err, deverr.Access) {
		t.Fatalf("err = %v, want Access", err)
	}
}
