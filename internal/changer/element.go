// Package changer drives a SCSI medium-changer robot and owns the
// in-memory element model it refreshes status into: quirk dispatch keyed
// on the INQUIRY product id, mode-page decoding, READ ELEMENT STATUS
// with sense-driven recovery, MOVE MEDIUM, and barcode inventory over
// the four MTE/STE/IEE/DTE element arrays.
package changer

import "fmt"

// ElementType is one of the four SCSI medium-changer element classes.
type ElementType int

const (
	MediumTransport ElementType = iota // MTE: the robot arm
	Storage                            // STE: a library slot
	ImportExport                       // IEE: a mail slot
	DataTransfer                       // DTE: a drive
)

func (t ElementType) String() string {
	switch t {
	case MediumTransport:
		return "MTE"
	case Storage:
		return "STE"
	case ImportExport:
		return "IEE"
	case DataTransfer:
		return "DTE"
	default:
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
}

// Occupancy is whether an element currently holds a cartridge.
type Occupancy int

const (
	Empty Occupancy = iota
	Full
)

// Element is one slot/drive/arm/mail-slot descriptor. Source is -1 when
// invalid (no recorded last-move origin).
type Element struct {
	Type      ElementType
	Address   uint16
	Occupancy Occupancy
	Except    bool
	ASC       byte
	ASCQ      byte
	Source    int32
	VolTag    string // up to 36 characters
}

// newElement returns an Empty element with no recorded source, the zero
// value every freshly-sized array starts from.
func newElement(t ElementType, addr uint16) Element {
	return Element{Type: t, Address: addr, Source: -1}
}

// Table is the driver's four dynamic element arrays. Array indices are
// element-ordinal; addresses stay opaque to the upper layer.
type Table struct {
	MTE []Element
	STE []Element
	IEE []Element
	DTE []Element
}

func (tbl *Table) arrayFor(t ElementType) *[]Element {
	switch t {
	case MediumTransport:
		return &tbl.MTE
	case Storage:
		return &tbl.STE
	case ImportExport:
		return &tbl.IEE
	case DataTransfer:
		return &tbl.DTE
	default:
		panic(fmt.Sprintf("changer: unknown element type %v", t))
	}
}

// Resize grows/truncates the array for t to exactly n elements, assigning
// sequential addresses starting at firstAddr. Existing elements at
// surviving indices are preserved so a status refresh doesn't discard
// in-flight sense/source data for slots still present.
func (tbl *Table) Resize(t ElementType, firstAddr uint16, n int) {
	arr := tbl.arrayFor(t)
	next := make([]Element, n)
	for i := 0; i < n; i++ {
		addr := firstAddr + uint16(i)
		if i < len(*arr) && (*arr)[i].Address == addr {
			next[i] = (*arr)[i]
		} else {
			next[i] = newElement(t, addr)
		}
	}
	*arr = next
}

// ByAddress finds the element of type t with the given address.
func (tbl *Table) ByAddress(t ElementType, addr uint16) (*Element, bool) {
	arr := tbl.arrayFor(t)
	for i := range *arr {
		if (*arr)[i].Address == addr {
			return &(*arr)[i], true
		}
	}
	return nil, false
}

// FindEmptySTE returns the address of the first Empty storage element,
// used by Move when the destination needs an empty slot located
// automatically.
func (tbl *Table) FindEmptySTE() (uint16, bool) {
	for _, e := range tbl.STE {
		if e.Occupancy == Empty {
			return e.Address, true
		}
	}
	return 0, false
}

// At returns the element of type t at array index idx (not address).
func (tbl *Table) At(t ElementType, idx int) *Element {
	arr := tbl.arrayFor(t)
	return &(*arr)[idx]
}

// Len returns the current array length for t.
func (tbl *Table) Len(t ElementType) int {
	return len(*tbl.arrayFor(t))
}
