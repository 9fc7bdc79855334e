package rait

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/device"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// A name without braces opens exactly one child with data_children=1
// and no parity chunk.
func TestOpenSingleChildHasNoParity(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(ctx, "file:"+filepath.Join(dir, "only"), device.OpenFlags{Write: true, Create: true}, device.Handle(1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.ChildCount() != 1 || s.DataChildren() != 1 {
		t.Fatalf("got children=%d data=%d, want 1/1", s.ChildCount(), s.DataChildren())
	}
	if err := s.SetBlockSize(6); err != nil {
		t.Fatalf("set block size: %v", err)
	}
	if _, err := s.Write(ctx, mustHex(t, "010203040506")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// A 3-way write stripes the block across two data children and XORs
// their chunks into the parity child.
func TestWriteThreeWayParity(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	name := "file:" + filepath.Join(dir, "{a,b,c}")
	s, err := Open(ctx, name, device.OpenFlags{Write: true, Create: true}, device.Handle(1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.SetBlockSize(6); err != nil {
		t.Fatalf("set block size: %v", err)
	}
	if _, err := s.Write(ctx, mustHex(t, "010203040506")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := map[string]string{"a": "010203", "b": "040506", "c": "050705"}
	for _, letter := range []string{"a", "b", "c"} {
		data := readChildDataFile(t, filepath.Join(dir, letter))
		assert.Equalf(t, want[letter], hex.EncodeToString(data), "child %s", letter)
	}
}

// A degraded read reconstructs the missing data chunk from the
// surviving data chunk XOR the parity chunk.
func TestDegradedReadReconstructs(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	name := "file:" + filepath.Join(dir, "{a,b,c}")
	s, err := Open(ctx, name, device.OpenFlags{Write: true, Create: true}, device.Handle(1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.SetBlockSize(6); err != nil {
		t.Fatalf("set block size: %v", err)
	}
	if _, err := s.Write(ctx, mustHex(t, "010203040506")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Simulate child b (index 1) failing before the read.
	s.children[1].ok = false
	s.status = Degraded
	s.failedIndex = 1

	buf := make([]byte, 6)
	n, err := s.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "010203040506", hex.EncodeToString(buf))

	st, idx := s.StatusState()
	assert.Equal(t, Degraded, st)
	assert.Equal(t, 1, idx)
}

// A complete-mode read verifies parity; a corrupted parity byte must
// surface as XorMismatch, never silently succeed.
func TestCompleteReadDetectsParityMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	name := "file:" + filepath.Join(dir, "{a,b,c}")
	s, err := Open(ctx, name, device.OpenFlags{Write: true, Create: true}, device.Handle(1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.SetBlockSize(6); err != nil {
		t.Fatalf("set block size: %v", err)
	}
	if _, err := s.Write(ctx, mustHex(t, "010203040506")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Corrupt the parity child's on-disk data directly.
	corruptChildDataFile(t, filepath.Join(dir, "c"))

	buf := make([]byte, 6)
	_, err = s.Read(ctx, buf)
	if !deverr.Is(err, deverr.XorMismatch) {
		t.Fatalf("err = %v, want XorMismatch", err)
	}
}

func readChildDataFile(t *testing.T, root string) []byte {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("read data dir %s: %v", root, err)
	}
	for _, e := range entries {
		if len(e.Name()) > 6 && e.Name()[5] == '.' {
			data, err := os.ReadFile(filepath.Join(root, "data", e.Name()))
			if err != nil {
				t.Fatalf("read data file: %v", err)
			}
			return data
		}
	}
	t.Fatalf("no data file found under %s", root)
	return nil
}

func corruptChildDataFile(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "data"))
	if err != nil {
		t.Fatalf("read data dir: %v", err)
	}
	for _, e := range entries {
		if len(e.Name()) > 6 && e.Name()[5] == '.' {
			p := filepath.Join(root, "data", e.Name())
			data, err := os.ReadFile(p)
			if err != nil {
				t.Fatalf("read data file: %v", err)
			}
			data[0] ^= 0xff
			if err := os.WriteFile(p, data, 0o644); err != nil {
				t.Fatalf("write corrupted data file: %v", err)
			}
			return
		}
	}
	t.Fatalf("no data file found under %s", root)
}
