// Package scsi issues SCSI command descriptor blocks (CDBs) over a raw
// device handle via the kernel's passthrough interface (SG_IO on Linux)
// and classifies the outcome. All multi-byte CDB fields are big-endian
// per SCSI convention.
package scsi

import "fmt"

// Opcode identifies a SCSI command. Only the opcodes the tape and
// changer drivers issue are modeled; anything else is a programming
// error.
type Opcode byte

const (
	OpTestUnitReady            Opcode = 0x00
	OpRewind                   Opcode = 0x01
	OpRequestSense             Opcode = 0x03
	OpInitializeElementStatus  Opcode = 0x07
	OpInquiry                  Opcode = 0x12
	OpErase                    Opcode = 0x13
	OpModeSelect               Opcode = 0x15
	OpModeSense                Opcode = 0x1A
	OpUnload                   Opcode = 0x1B
	OpLogSense                 Opcode = 0x4D
	OpMoveMedium               Opcode = 0xA5
	OpReadElementStatus        Opcode = 0xB8
	OpVendorSDXAlignElements   Opcode = 0xE5
)

// cdbLength is the required CDB length per opcode. NewCDB always
// allocates exactly this length and panics on an opcode missing from
// the table.
var cdbLength = map[Opcode]int{
	OpTestUnitReady:           6,
	OpRewind:                  6,
	OpRequestSense:            6,
	OpInitializeElementStatus: 6,
	OpInquiry:                 6,
	OpErase:                   6,
	OpModeSelect:              6,
	OpModeSense:               6,
	OpUnload:                  6,
	OpLogSense:                10,
	OpMoveMedium:              12,
	OpReadElementStatus:       12,
	OpVendorSDXAlignElements:  12,
}

// NewCDB allocates a zeroed CDB of the correct length for op, with the
// opcode byte already set.
func NewCDB(op Opcode) []byte {
	n, ok := cdbLength[op]
	if !ok {
		panic(fmt.Sprintf("scsi: unknown opcode %#02x", byte(op)))
	}
	cdb := make([]byte, n)
	cdb[0] = byte(op)
	return cdb
}

func putBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putBE24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// TestUnitReady builds the 6-byte TEST UNIT READY CDB.
func TestUnitReady() []byte {
	return NewCDB(OpTestUnitReady)
}

// Rewind builds the REWIND CDB. immediate sets the IMMED bit so the
// target returns status before the mechanical rewind completes.
func Rewind(immediate bool) []byte {
	cdb := NewCDB(OpRewind)
	if immediate {
		cdb[1] = 0x01
	}
	return cdb
}

// RequestSense builds REQUEST SENSE with the given allocation length.
func RequestSense(allocLen byte) []byte {
	cdb := NewCDB(OpRequestSense)
	cdb[4] = allocLen
	return cdb
}

// InitializeElementStatus builds INITIALIZE ELEMENT STATUS.
func InitializeElementStatus() []byte {
	return NewCDB(OpInitializeElementStatus)
}

// Inquiry builds a standard INQUIRY CDB requesting allocLen bytes.
func Inquiry(allocLen byte) []byte {
	cdb := NewCDB(OpInquiry)
	cdb[4] = allocLen
	return cdb
}

// Erase builds ERASE; long selects a full (vs. short) erase.
func Erase(long bool) []byte {
	cdb := NewCDB(OpErase)
	if long {
		cdb[1] = 0x01
	}
	return cdb
}

// Unload builds UNLOAD (often called REWIND/UNLOAD on sequential-access
// devices); immediate behaves as in Rewind.
func Unload(immediate bool) []byte {
	cdb := NewCDB(OpUnload)
	if immediate {
		cdb[1] = 0x01
	}
	return cdb
}

// ModeSense6 builds MODE SENSE(6) for the given page code, requesting
// allocLen bytes of response.
func ModeSense6(pageCode byte, allocLen byte) []byte {
	cdb := NewCDB(OpModeSense)
	cdb[2] = pageCode & 0x3f
	cdb[4] = allocLen
	return cdb
}

// ModeSelect6 builds MODE SELECT(6) writing paramLen bytes from the data
// buffer supplied alongside the CDB.
func ModeSelect6(paramLen byte) []byte {
	cdb := NewCDB(OpModeSelect)
	cdb[1] = 0x10 // PF bit: page format
	cdb[4] = paramLen
	return cdb
}

// LogSense builds LOG SENSE for the given page code.
func LogSense(pageCode byte, allocLen uint16) []byte {
	cdb := NewCDB(OpLogSense)
	cdb[2] = pageCode & 0x3f
	putBE16(cdb[7:9], allocLen)
	return cdb
}

// MoveMedium builds MOVE MEDIUM(0xA5): transport element performs the
// move, reading a cartridge from sourceAddr and placing it at destAddr.
// invert requests the destination element be flipped (rarely used).
func MoveMedium(transportAddr, sourceAddr, destAddr uint16, invert bool) []byte {
	cdb := NewCDB(OpMoveMedium)
	putBE16(cdb[2:4], transportAddr)
	putBE16(cdb[4:6], sourceAddr)
	putBE16(cdb[6:8], destAddr)
	if invert {
		cdb[10] = 0x01
	}
	return cdb
}

// ElementType identifies which of the four element arrays READ ELEMENT
// STATUS should report on.
type ElementType byte

const (
	ElementAll               ElementType = 0
	ElementMediumTransport    ElementType = 1
	ElementStorage            ElementType = 2
	ElementImportExport       ElementType = 3
	ElementDataTransfer       ElementType = 4
)

// ReadElementStatus builds READ ELEMENT STATUS(0xB8). voltag requests
// volume-tag (barcode) data in the returned descriptors; allocLen is the
// byte count of the response buffer the caller has sized.
func ReadElementStatus(elementType ElementType, startAddr, count uint16, voltag bool, allocLen uint32) []byte {
	cdb := NewCDB(OpReadElementStatus)
	putBE16(cdb[2:4], startAddr)
	cdb[1] = byte(elementType) & 0x0f
	if voltag {
		cdb[1] |= 0x10
	}
	putBE16(cdb[4:6], count)
	putBE24(cdb[6:9], allocLen)
	return cdb
}

// VendorSDXAlignElements builds the SDX-specific ALIGN ELEMENTS command
// (0xE5) naming the (transport, data-transfer, storage) triple the
// upcoming MOVE MEDIUM will use.
func VendorSDXAlignElements(mte, dte, ste uint16) []byte {
	cdb := NewCDB(OpVendorSDXAlignElements)
	putBE16(cdb[2:4], mte)
	putBE16(cdb[4:6], dte)
	putBE16(cdb[6:8], ste)
	return cdb
}
