// Package device implements the virtual-tape dispatch layer: one opaque
// integer handle multiplexes several backends (real tape, null, on-disk
// file-tape, and — registered externally — RAIT) selected by a name
// prefix, each conforming to the same tape-primitive v-table.
package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tapecore/tapecore/internal/deverr"
)

// Handle is an opaque, process-unique identifier for an open device.
// Guaranteed unique across backends.
type Handle int64

// LabelIdentity is the label-identity portion of a handle's info: the
// fields a dump-file header needs to stamp the next file written
// through this handle.
type LabelIdentity struct {
	Host     string
	Disk     string
	Level    int
	Datestamp string
	Tapetype string
}

// Info is the per-handle attribute record. All attributes are cleared
// on Close; every live handle has exactly one backend by construction —
// Info.backend is set once at Open and never reassigned.
type Info struct {
	Handle    Handle
	Kind      BackendKind
	Name      string
	Flags     OpenFlags
	Label     LabelIdentity
	FakeLabel bool
	// IoctlFork marks handles whose backend requires process-isolated
	// ioctl execution (some vendor tape drivers misbehave when SCSI
	// passthrough ioctls are issued from a goroutine sharing a thread
	// with other blocking syscalls). Recorded on the handle only; no
	// backend reads it.
	IoctlFork bool
	// Master is the parent RAIT handle, if this handle is a RAIT child;
	// nil for top-level handles. A handle id, not a pointer to the
	// parent, so a child never extends its parent's lifetime.
	Master *Handle

	backend Backend
}

type table struct {
	mu      sync.RWMutex
	entries map[Handle]*Info
	next    int64
}

var reg = &table{entries: map[Handle]*Info{}}

func (t *table) alloc() Handle {
	return Handle(atomic.AddInt64(&t.next, 1))
}

// Open resolves name's backend prefix, constructs the backend, and
// registers a new handle. master, if non-nil, records the parent RAIT
// handle for a child device.
func Open(ctx context.Context, name string, flags OpenFlags, master *Handle) (Handle, error) {
	kind, path := ParseName(name)
	fn, err := lookupFactory(kind)
	if err != nil {
		return 0, deverr.Wrap(deverr.NotFound, err, "device: open "+name)
	}
	h := reg.alloc()
	b, err := fn(ctx, path, flags, h)
	if err != nil {
		return 0, err
	}
	info := &Info{
		Handle:  h,
		Kind:    kind,
		Name:    name,
		Flags:   flags,
		Master:  master,
		backend: b,
	}
	reg.mu.Lock()
	reg.entries[h] = info
	reg.mu.Unlock()
	return h, nil
}

func lookup(h Handle) (*Info, error) {
	reg.mu.RLock()
	info, ok := reg.entries[h]
	reg.mu.RUnlock()
	if !ok {
		return nil, deverr.New(deverr.InvalidArg, "device: unknown handle")
	}
	return info, nil
}

// GetInfo returns a copy of h's attribute record.
func GetInfo(h Handle) (Info, error) {
	info, err := lookup(h)
	if err != nil {
		return Info{}, err
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return *info, nil
}

// LabelAware is implemented by backends that fold label identity into
// on-disk naming (the file-tape backend). SetLabel keeps the handle
// table and such a backend's naming in sync.
type LabelAware interface {
	SetLabel(LabelIdentity)
}

// SetLabel updates h's label identity, consulted when stamping the next
// dump-file header written through this handle.
func SetLabel(h Handle, label LabelIdentity) error {
	info, err := lookup(h)
	if err != nil {
		return err
	}
	reg.mu.Lock()
	info.Label = label
	reg.mu.Unlock()
	if la, ok := info.backend.(LabelAware); ok {
		la.SetLabel(label)
	}
	return nil
}

// SetFakeLabel marks h as carrying a synthetic (not drive-read) label,
// e.g. for a freshly created file-tape volume.
func SetFakeLabel(h Handle, fake bool) error {
	info, err := lookup(h)
	if err != nil {
		return err
	}
	reg.mu.Lock()
	info.FakeLabel = fake
	reg.mu.Unlock()
	return nil
}

// Close releases h's backend resources and removes it from the table.
// All attributes are cleared; reusing h afterwards returns InvalidArg.
func Close(h Handle) error {
	reg.mu.Lock()
	info, ok := reg.entries[h]
	if ok {
		delete(reg.entries, h)
	}
	reg.mu.Unlock()
	if !ok {
		return deverr.New(deverr.InvalidArg, "device: unknown handle")
	}
	return info.backend.Close()
}

func backendOf(h Handle) (Backend, error) {
	info, err := lookup(h)
	if err != nil {
		return nil, err
	}
	return info.backend, nil
}

// Rewind positions h at the start of the volume.
func Rewind(ctx context.Context, h Handle) error {
	b, err := backendOf(h)
	if err != nil {
		return err
	}
	return b.Rewind(ctx)
}

// FSF skips forward n files.
func FSF(ctx context.Context, h Handle, n int) error {
	b, err := backendOf(h)
	if err != nil {
		return err
	}
	return b.FSF(ctx, n)
}

// BSF skips backward n files.
func BSF(ctx context.Context, h Handle, n int) error {
	b, err := backendOf(h)
	if err != nil {
		return err
	}
	return b.BSF(ctx, n)
}

// WEOF writes n filemarks. WEOF(0) is a no-op success; negative n is
// InvalidArg.
func WEOF(ctx context.Context, h Handle, n int) error {
	if n < 0 {
		return deverr.New(deverr.InvalidArg, "device: WEOF negative count")
	}
	b, err := backendOf(h)
	if err != nil {
		return err
	}
	return b.WEOF(ctx, n)
}

// Eject unloads the medium.
func Eject(ctx context.Context, h Handle) error {
	b, err := backendOf(h)
	if err != nil {
		return err
	}
	return b.Eject(ctx)
}

// Status reports drive/media state.
func Status(ctx context.Context, h Handle) (AmMtStatus, error) {
	b, err := backendOf(h)
	if err != nil {
		return AmMtStatus{}, err
	}
	return b.Status(ctx)
}

// Read reads one record into buf.
func Read(ctx context.Context, h Handle, buf []byte) (int, error) {
	b, err := backendOf(h)
	if err != nil {
		return 0, err
	}
	return b.Read(ctx, buf)
}

// Write writes one record from buf. Write on a read-only handle fails
// with Access.
func Write(ctx context.Context, h Handle, buf []byte) (int, error) {
	info, err := lookup(h)
	if err != nil {
		return 0, err
	}
	if !info.Flags.Write {
		return 0, deverr.New(deverr.Access, "device: write on read-only handle")
	}
	return info.backend.Write(ctx, buf)
}

// StatPath reports whether h's underlying volume is reachable.
func StatPath(ctx context.Context, h Handle) (Stat, error) {
	b, err := backendOf(h)
	if err != nil {
		return Stat{}, err
	}
	return b.Stat(ctx)
}

// Access checks h's backend for the requested permission.
func Access(ctx context.Context, h Handle, mode AccessMode) error {
	b, err := backendOf(h)
	if err != nil {
		return err
	}
	return b.Access(ctx, mode)
}
