//go:build linux

package scsi

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// sg_io_hdr_t layout per the Linux SG v3 interface. Field order and
// sizes are load-bearing: this struct is passed by pointer straight
// into the kernel via ioctl(SG_IO).
type sgIOHeader struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

const (
	sgInterfaceID = 'S'
	sgIO          = 0x2285

	sgDxferNone      = -1
	sgDxferToDevice  = -2
	sgDxferFromDevice = -3

	sgInfoOkMask = 0x1
	sgInfoOk     = 0x0

	maxSenseLen = 64
)

// fdTransport issues CDBs via SG_IO against an already-open file
// descriptor for a SCSI generic or sequential-access device node.
type fdTransport struct {
	f *os.File
}

// OpenTransport opens path (e.g. /dev/sg3, /dev/nst0) for SCSI
// passthrough.
func OpenTransport(path string) (Transport, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "scsi: open %s", path)
	}
	return &fdTransport{f: f}, nil
}

// NewTransportFromFile wraps an already-open *os.File (e.g. one obtained
// by the device layer for a different reason) for SCSI passthrough.
func NewTransportFromFile(f *os.File) Transport {
	return &fdTransport{f: f}
}

func (t *fdTransport) Close() error {
	return t.f.Close()
}

func (t *fdTransport) Run(dir Direction, cdb []byte, data []byte, timeout time.Duration) (Result, error) {
	sense := make([]byte, maxSenseLen)

	hdr := sgIOHeader{
		interfaceID: sgInterfaceID,
		cmdLen:      uint8(len(cdb)),
		mxSBLen:     uint8(len(sense)),
		sbp:         uintptr(unsafe.Pointer(&sense[0])),
		cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		timeout:     uint32(timeout / time.Millisecond),
	}

	switch dir {
	case DirNone:
		hdr.dxferDirection = sgDxferNone
	case DirIn:
		hdr.dxferDirection = sgDxferFromDevice
	case DirOut:
		hdr.dxferDirection = sgDxferToDevice
	}
	if len(data) > 0 {
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = uintptr(unsafe.Pointer(&data[0]))
	}

	start := time.Now()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, t.f.Fd(), sgIO, uintptr(unsafe.Pointer(&hdr)))
	elapsed := time.Since(start)
	if errno != 0 {
		return Result{Outcome: Error, Duration: elapsed}, errors.Wrap(errno, "scsi: SG_IO ioctl")
	}

	senseLen := int(hdr.sbLenWr)
	res := Result{
		Status:   hdr.status,
		SenseBuf: sense[:senseLen],
		Resid:    int(hdr.resid),
		Duration: elapsed,
	}
	if hdr.info&sgInfoOkMask != sgInfoOk && hdr.hostStatus == 0 && hdr.driverStatus == 0 && senseLen == 0 {
		// Host/driver reported no error but info bit is clear and there is
		// no sense data: treat conservatively as a transport error rather
		// than silently succeeding.
		res.Outcome = Error
		return res, errors.Errorf("scsi: SG_IO indeterminate result, status=%#02x", hdr.status)
	}
	if hdr.hostStatus != 0 || hdr.driverStatus != 0 {
		res.Outcome = Error
		return res, errors.Errorf("scsi: host status %#04x driver status %#04x", hdr.hostStatus, hdr.driverStatus)
	}
	res.Outcome = classify(hdr.status, senseLen)
	return res, nil
}
