//go:build linux

package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/scsi"
)

// tapeBackend drives a real sequential-access device node (e.g.
// /dev/nst0) via the Linux "st" driver's MTIOCTOP/MTIOCGET ioctls for
// positioning and status, and the SG_IO transport for TEST UNIT READY
// polling at open time.
type tapeBackend struct {
	path  string
	flags OpenFlags
	f     *os.File

	eofLatched bool
}

// Identity is the INQUIRY-derived product identity used to key the
// changer quirk dispatch and, when available, the VPD-page-0x80 unit
// serial number.
type Identity struct {
	Vendor    string
	Product   string
	Revision  string
	Serial    string
}

// Identify issues INQUIRY and, best-effort, a VPD page 0x80 unit-serial
// INQUIRY, over t. It does not require an open tapeBackend, so the
// changer driver (which talks to a different device node than the
// drive it loads) can call it directly against any transport.
func Identify(ctx context.Context, t scsi.Transport) (Identity, error) {
	buf := make([]byte, 96)
	res, err := t.Run(scsi.DirIn, scsi.Inquiry(byte(len(buf))), buf, 10*time.Second)
	if err != nil {
		return Identity{}, deverr.Wrap(deverr.DeviceError, err, "device: INQUIRY")
	}
	if res.Outcome != scsi.Ok && res.Outcome != scsi.Sense {
		return Identity{}, deverr.New(deverr.DeviceError, "device: INQUIRY failed")
	}
	id := Identity{}
	if len(buf) >= 36 {
		id.Vendor = strings.TrimSpace(string(buf[8:16]))
		id.Product = strings.TrimSpace(string(buf[16:32]))
		id.Revision = strings.TrimSpace(string(buf[32:36]))
	}

	vpd := make([]byte, 64)
	cdb := scsi.Inquiry(byte(len(vpd)))
	cdb[1] = 0x01 // EVPD
	cdb[2] = 0x80 // unit serial number page
	if res, err := t.Run(scsi.DirIn, cdb, vpd, 10*time.Second); err == nil && res.Outcome == scsi.Ok && len(vpd) > 4 {
		n := int(vpd[3])
		if n > 0 && 4+n <= len(vpd) {
			id.Serial = strings.TrimSpace(string(bytes.TrimRight(vpd[4:4+n], "\x00")))
		}
	}
	return id, nil
}

func openTapeBackend(ctx context.Context, path string, flags OpenFlags, self Handle) (Backend, error) {
	mode := os.O_RDONLY
	if flags.Write {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, deverr.Wrap(deverr.DeviceError, err, "device: open tape "+path)
	}

	t := scsi.NewTransportFromFile(f)
	waitCtx, cancel := context.WithTimeout(ctx, scsi.DefaultOpenTimeout)
	defer cancel()
	if err := scsi.WaitReady(waitCtx, t, scsi.DeviceIdent("tape"), scsi.DefaultRuntimeRetries); err != nil {
		f.Close()
		return nil, deverr.Wrap(deverr.DeviceError, err, "device: tape not ready")
	}

	return &tapeBackend{path: path, flags: flags, f: f}, nil
}

func (b *tapeBackend) ioctlOp(op int16, count int32) error {
	arg := mtOp{op: op, count: count}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), mtiocTop, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return deverr.Wrap(deverr.DeviceError, errno, "device: MTIOCTOP")
	}
	return nil
}

func (b *tapeBackend) Rewind(ctx context.Context) error {
	if err := b.ioctlOp(mtRew, 1); err != nil {
		return err
	}
	b.eofLatched = false
	return nil
}

func (b *tapeBackend) FSF(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	if err := b.ioctlOp(mtFSF, int32(n)); err != nil {
		return err
	}
	b.eofLatched = false
	return nil
}

func (b *tapeBackend) BSF(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	if err := b.ioctlOp(mtBSF, int32(n)); err != nil {
		return err
	}
	b.eofLatched = false
	return nil
}

func (b *tapeBackend) WEOF(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	if !b.flags.Write {
		return deverr.New(deverr.Access, "device: WEOF on read-only tape handle")
	}
	return b.ioctlOp(mtWEOF, int32(n))
}

func (b *tapeBackend) Eject(ctx context.Context) error {
	return b.ioctlOp(mtOffl, 0)
}

func (b *tapeBackend) Status(ctx context.Context) (AmMtStatus, error) {
	var g mtGet
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), mtiocGet, uintptr(unsafe.Pointer(&g)))
	if errno != 0 {
		return AmMtStatus{}, deverr.Wrap(deverr.DeviceError, errno, "device: MTIOCGET")
	}
	return AmMtStatus{
		Online:         BoolField{Valid: true, Value: g.mtGstat&gmtDrOpen == 0},
		BOT:            BoolField{Valid: true, Value: g.mtGstat&gmtBOT != 0},
		EOT:            BoolField{Valid: true, Value: g.mtGstat&gmtEOT != 0},
		WriteProtected: BoolField{Valid: true, Value: g.mtGstat&gmtWrProt != 0},
		FileNo:         IntField{Valid: true, Value: int(g.mtFileno)},
		BlockNo:        IntField{Valid: true, Value: int(g.mtBlkno)},
		Flags:          g.mtGstat,
		DeviceStatus:   int(g.mtDsreg),
		ErrorStatus:    int(g.mtErreg),
	}, nil
}

func (b *tapeBackend) Read(ctx context.Context, buf []byte) (int, error) {
	if b.eofLatched {
		return 0, deverr.New(deverr.DeviceError, "device: read past latched EOF, reposition first")
	}
	n, err := b.f.Read(buf)
	if err == io.EOF || n == 0 {
		b.eofLatched = true
		return n, io.EOF
	}
	if err != nil {
		return n, deverr.Wrap(deverr.DeviceError, err, "device: tape read")
	}
	return n, nil
}

func (b *tapeBackend) Write(ctx context.Context, buf []byte) (int, error) {
	if !b.flags.Write {
		return 0, deverr.New(deverr.Access, "device: write on read-only tape handle")
	}
	n, err := b.f.Write(buf)
	if err != nil {
		if errors.Is(err, unix.ENOSPC) {
			return n, deverr.Wrap(deverr.EomReached, err, "device: tape write at EOM")
		}
		return n, deverr.Wrap(deverr.DeviceError, err, "device: tape write")
	}
	return n, nil
}

func (b *tapeBackend) Stat(ctx context.Context) (Stat, error) {
	if _, err := os.Stat(b.path); err != nil {
		return Stat{Exists: false}, nil
	}
	return Stat{Exists: true}, nil
}

func (b *tapeBackend) Access(ctx context.Context, mode AccessMode) error {
	if mode == AccessWrite && !b.flags.Write {
		return deverr.New(deverr.Access, "device: tape handle not opened for write")
	}
	return nil
}

func (b *tapeBackend) Close() error {
	return b.f.Close()
}
