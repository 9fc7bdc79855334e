package changer

import (
	"encoding/binary"

	"github.com/tapecore/tapecore/internal/deverr"
)

// AddressAssignment is the decoded Element Address Assignment mode page
// (0x1D): the first address and count of each element type, used to size
// READ ELEMENT STATUS requests.
type AddressAssignment struct {
	MTEFirst, MTECount uint16
	STEFirst, STECount uint16
	IEEFirst, IEECount uint16
	DTEFirst, DTECount uint16
}

// DecodeAddressAssignment parses a MODE SENSE(6) page-0x1D payload.
// Layout: [page hdr 2][MTE first/count][STE first/count][IEE
// first/count][DTE first/count], each field a big-endian uint16. The
// ADIC DLT 448 quirk's +12-byte header skip is applied by the caller to
// the raw mode-sense response before page parsing, not here — see
// Driver.refreshAddressAssignment.
func DecodeAddressAssignment(data []byte) (AddressAssignment, error) {
	if len(data) < 2+16 {
		return AddressAssignment{}, deverr.New(deverr.DeviceError, "changer: element address assignment page too short")
	}
	body := data[2:]
	return AddressAssignment{
		MTEFirst: binary.BigEndian.Uint16(body[0:2]),
		MTECount: binary.BigEndian.Uint16(body[2:4]),
		STEFirst: binary.BigEndian.Uint16(body[4:6]),
		STECount: binary.BigEndian.Uint16(body[6:8]),
		IEEFirst: binary.BigEndian.Uint16(body[8:10]),
		IEECount: binary.BigEndian.Uint16(body[10:12]),
		DTEFirst: binary.BigEndian.Uint16(body[12:14]),
		DTECount: binary.BigEndian.Uint16(body[14:16]),
	}, nil
}

// FirstAndCount returns the (first address, count) pair for t, as
// GenericElementStatus needs to size its READ ELEMENT STATUS CDB.
func (a AddressAssignment) FirstAndCount(t ElementType) (uint16, uint16) {
	switch t {
	case MediumTransport:
		return a.MTEFirst, a.MTECount
	case Storage:
		return a.STEFirst, a.STECount
	case ImportExport:
		return a.IEEFirst, a.IEECount
	case DataTransfer:
		return a.DTEFirst, a.DTECount
	default:
		return 0, 0
	}
}

// DeviceCapabilities is the decoded Device Capabilities mode page (0x1F):
// the <SRC>2<DST> move-legality bit matrix CheckMove consults.
type DeviceCapabilities struct {
	present bool
	moveBit [4][4]bool // moveBit[src][dst]
}

// DecodeDeviceCapabilities parses a MODE SENSE(6) page-0x1F payload.
// Layout: [page hdr 2][reserved 2][MT-move-dst bits][ST-move-dst
// bits][IE-move-dst bits][DT-move-dst bits], one byte per source element
// type with bit0..3 = MT/ST/IE/DT destination legality.
func DecodeDeviceCapabilities(data []byte) (DeviceCapabilities, error) {
	if len(data) < 8 {
		return DeviceCapabilities{}, deverr.New(deverr.DeviceError, "changer: device capabilities page too short")
	}
	var c DeviceCapabilities
	c.present = true
	srcBytes := data[4:8]
	for src, b := range srcBytes {
		for dst := 0; dst < 4; dst++ {
			c.moveBit[src][dst] = b&(1<<uint(dst)) != 0
		}
	}
	return c, nil
}

// Allowed reports whether moving from src to dst is legal per the
// capabilities page. When the page itself is absent (!c.present),
// Allowed permissively returns true; refusing every move on a library
// that never answers the page would brick it. The warning for that
// fallback is raised by the caller (CheckMove), not here.
func (c DeviceCapabilities) Allowed(src, dst ElementType) bool {
	if !c.present {
		return true
	}
	return c.moveBit[src][dst]
}

// Present reports whether a capabilities page was actually decoded.
func (c DeviceCapabilities) Present() bool { return c.present }

// ParseModePages splits a MODE SENSE(6) page-0x3F ("return all pages")
// response into its constituent pages keyed by page code, skipping the
// 4-byte mode parameter header and block descriptor block.
func ParseModePages(data []byte) (map[byte][]byte, error) {
	if len(data) < 4 {
		return nil, deverr.New(deverr.DeviceError, "changer: mode sense response too short")
	}
	blockDescLen := int(data[3])
	offset := 4 + blockDescLen
	pages := map[byte][]byte{}
	for offset+2 <= len(data) {
		pageCode := data[offset] & 0x3f
		pageLen := int(data[offset+1])
		end := offset + 2 + pageLen
		if end > len(data) {
			end = len(data)
		}
		pages[pageCode] = data[offset:end]
		offset = end
	}
	return pages, nil
}

// elementStatusHeader is the fixed 8-byte header READ ELEMENT STATUS
// prefixes its page data with.
type elementStatusHeader struct {
	firstAddr uint16
	count     uint16
	byteCount uint32
}

func parseElementStatusHeader(data []byte) (elementStatusHeader, []byte, error) {
	if len(data) < 8 {
		return elementStatusHeader{}, nil, deverr.New(deverr.DeviceError, "changer: element status header too short")
	}
	h := elementStatusHeader{
		firstAddr: binary.BigEndian.Uint16(data[0:2]),
		count:     binary.BigEndian.Uint16(data[2:4]),
		byteCount: uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7]),
	}
	return h, data[8:], nil
}

// elementPageHeader is the per-type page header that precedes a run of
// same-sized element descriptors.
type elementPageHeader struct {
	voltag  bool
	descLen uint16
}

func parsePageHeader(data []byte) (elementPageHeader, []byte, error) {
	if len(data) < 6 {
		return elementPageHeader{}, nil, deverr.New(deverr.DeviceError, "changer: element page header too short")
	}
	h := elementPageHeader{
		voltag:  data[1]&0x80 != 0,
		descLen: binary.BigEndian.Uint16(data[2:4]),
	}
	return h, data[6:], nil
}

// decodedDescriptor is the subset of an element descriptor's fields this
// driver extracts: address, except/full bits, ASC/ASCQ and source
// address when the descriptor is long enough to carry them, and the
// volume tag when the page has voltag data.
type decodedDescriptor struct {
	Address uint16
	Full    bool
	Except  bool
	ASC     byte
	ASCQ    byte
	Source  int32
	VolTag  string
}

func decodeDescriptor(d []byte, voltag bool) decodedDescriptor {
	out := decodedDescriptor{Source: -1}
	if len(d) < 2 {
		return out
	}
	out.Address = binary.BigEndian.Uint16(d[0:2])
	if len(d) >= 3 {
		out.Full = d[2]&0x01 != 0
		out.Except = d[2]&0x04 != 0
	}
	if len(d) >= 5 {
		out.ASC = d[4]
	}
	if len(d) >= 6 {
		out.ASCQ = d[5]
	}
	if len(d) >= 12 {
		svalid := d[9]&0x80 != 0
		if svalid {
			out.Source = int32(binary.BigEndian.Uint16(d[10:12]))
		}
	}
	if voltag && len(d) >= 12+36 {
		out.VolTag = trimVolTag(d[12 : 12+36])
	}
	return out
}

func trimVolTag(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}

// decodeElementStatusPages walks the body following the 8-byte element
// status header, yielding every descriptor across however many
// same-type pages the response carries (normally one per READ ELEMENT
// STATUS call, since the CDB already filters to a single element type).
func decodeElementStatusPages(body []byte) ([]decodedDescriptor, error) {
	var out []decodedDescriptor
	for len(body) > 0 {
		ph, rest, err := parsePageHeader(body)
		if err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		descLen := int(ph.descLen)
		if descLen <= 0 {
			break
		}
		for len(rest) >= descLen {
			out = append(out, decodeDescriptor(rest[:descLen], ph.voltag))
			rest = rest[descLen:]
		}
		body = rest
	}
	return out, nil
}
