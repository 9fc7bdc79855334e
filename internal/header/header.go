// Package header implements the dump-file header: a fixed,
// line-oriented ASCII block prepended to each logical file on a volume,
// plus the volume-label read/write operations that sit on top of it.
// Build and Parse are mutual inverses for well-formed headers.
package header

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tapecore/tapecore/internal/deverr"
)

// Type is the dump-file variant tag.
type Type int

const (
	Unknown Type = iota
	TapeStart
	DumpFile
	ContDumpFile
	SplitDumpFile
	TapeEnd
)

func (t Type) String() string {
	switch t {
	case TapeStart:
		return "TAPESTART"
	case DumpFile:
		return "DUMPFILE"
	case ContDumpFile:
		return "CONT_DUMPFILE"
	case SplitDumpFile:
		return "SPLIT_DUMPFILE"
	case TapeEnd:
		return "TAPEEND"
	default:
		return "UNKNOWN"
	}
}

func parseType(s string) Type {
	switch s {
	case "TAPESTART":
		return TapeStart
	case "DUMPFILE":
		return DumpFile
	case "CONT_DUMPFILE":
		return ContDumpFile
	case "SPLIT_DUMPFILE":
		return SplitDumpFile
	case "TAPEEND":
		return TapeEnd
	default:
		return Unknown
	}
}

// Header is one dump-file header.
type Header struct {
	Type Type

	Datestamp string // 14-digit
	Name      string // volume name/label
	Host      string
	Disk      string
	DumpLevel int

	PartNum    int // SPLIT only; 1 <= PartNum <= TotalParts
	TotalParts int // -1 means unknown total

	Compressed bool
	CompSuffix string
	Encrypted  bool
	EncSuffix  string

	Application string
	DLEStr      string // possibly multi-line, ENDDLE-delimited
	Program     string

	CompressCmd   string
	UncompressCmd string
	EncryptCmd    string
	DecryptCmd    string

	ContFilename string // continuation filename
}

// Validate checks the cross-field invariants. Called by Build so a
// malformed header never round-trips silently.
func (h *Header) Validate() error {
	if h.Type == TapeStart || h.Type == TapeEnd {
		if h.Disk != "" || h.Host != "" {
			return deverr.New(deverr.VolumeError, "header: TAPESTART/TAPEEND must have empty disk/host")
		}
	}
	if h.Type == SplitDumpFile {
		if h.TotalParts != -1 && (h.PartNum < 1 || h.PartNum > h.TotalParts) {
			return deverr.New(deverr.VolumeError, "header: SPLIT_DUMPFILE partnum out of range")
		}
	}
	if h.Compressed != (h.CompSuffix != "") {
		return deverr.New(deverr.VolumeError, "header: compressed flag and suffix must agree")
	}
	return nil
}

const enddleSentinel = "ENDDLE"

// Build renders h as a line-oriented ASCII header zero-padded to
// exactly size bytes. size must be <= 32768.
func Build(h *Header, size int) ([]byte, error) {
	if size > 32*1024 {
		return nil, deverr.New(deverr.InvalidArg, "header: size exceeds 32 KiB maximum")
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "AMANDA: %s %s", h.Type, h.Datestamp)
	if h.Name != "" {
		fmt.Fprintf(&b, " %s", h.Name)
	}
	b.WriteByte('\n')

	if h.Type == DumpFile || h.Type == ContDumpFile || h.Type == SplitDumpFile {
		fmt.Fprintf(&b, "DISK %s\n", h.Disk)
		fmt.Fprintf(&b, "HOST %s\n", h.Host)
		fmt.Fprintf(&b, "DUMPLEVEL %d\n", h.DumpLevel)
		if h.Type == SplitDumpFile {
			fmt.Fprintf(&b, "PART %d/%d\n", h.PartNum, h.TotalParts)
		}
		if h.Compressed {
			fmt.Fprintf(&b, "COMPRESS %s\n", h.CompSuffix)
		}
		if h.Encrypted {
			fmt.Fprintf(&b, "ENCRYPT %s\n", h.EncSuffix)
		}
		if h.Application != "" {
			fmt.Fprintf(&b, "APPLICATION %s\n", h.Application)
		}
		if h.Program != "" {
			fmt.Fprintf(&b, "PROGRAM %s\n", h.Program)
		}
		if h.CompressCmd != "" {
			fmt.Fprintf(&b, "COMPRESS_CMD %s\n", h.CompressCmd)
		}
		if h.UncompressCmd != "" {
			fmt.Fprintf(&b, "UNCOMPRESS_CMD %s\n", h.UncompressCmd)
		}
		if h.EncryptCmd != "" {
			fmt.Fprintf(&b, "ENCRYPT_CMD %s\n", h.EncryptCmd)
		}
		if h.DecryptCmd != "" {
			fmt.Fprintf(&b, "DECRYPT_CMD %s\n", h.DecryptCmd)
		}
		if h.ContFilename != "" {
			fmt.Fprintf(&b, "CONT_FILENAME %s\n", h.ContFilename)
		}
		if h.DLEStr != "" {
			fmt.Fprintf(&b, "DLE\n%s\n%s\n", h.DLEStr, enddleSentinel)
		}
	}

	out := make([]byte, size)
	copy(out, b.String())
	if b.Len() > size {
		return nil, deverr.New(deverr.VolumeError, "header: rendered header exceeds requested size")
	}
	return out, nil
}

// Parse decodes a header rendered by Build out of buf[:n]. It never
// fails on unrecognised variants; an unparseable buffer or one without
// the AMANDA: tag yields a Header{Type: Unknown} rather than an error,
// so callers can treat any first block as a candidate header.
func Parse(buf []byte, n int) *Header {
	if n > len(buf) {
		n = len(buf)
	}
	text := string(buf[:n])
	// Stop at the first NUL, mirroring a C string buffer.
	if i := strings.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	lines := strings.Split(text, "\n")
	h := &Header{Type: Unknown}
	if len(lines) == 0 {
		return h
	}

	first := strings.Fields(lines[0])
	if len(first) < 3 || first[0] != "AMANDA:" {
		return h
	}
	h.Type = parseType(first[1])
	h.Datestamp = first[2]
	if len(first) > 3 {
		h.Name = strings.Join(first[3:], " ")
	}

	inDLE := false
	var dle []string
	for _, line := range lines[1:] {
		if inDLE {
			if line == enddleSentinel {
				inDLE = false
				h.DLEStr = strings.Join(dle, "\n")
				continue
			}
			dle = append(dle, line)
			continue
		}
		key, rest, ok := cutField(line)
		if !ok {
			continue
		}
		switch key {
		case "DISK":
			h.Disk = rest
		case "HOST":
			h.Host = rest
		case "DUMPLEVEL":
			h.DumpLevel, _ = strconv.Atoi(rest)
		case "PART":
			parts := strings.SplitN(rest, "/", 2)
			if len(parts) == 2 {
				h.PartNum, _ = strconv.Atoi(parts[0])
				h.TotalParts, _ = strconv.Atoi(parts[1])
			}
		case "COMPRESS":
			h.Compressed = true
			h.CompSuffix = rest
		case "ENCRYPT":
			h.Encrypted = true
			h.EncSuffix = rest
		case "APPLICATION":
			h.Application = rest
		case "PROGRAM":
			h.Program = rest
		case "COMPRESS_CMD":
			h.CompressCmd = rest
		case "UNCOMPRESS_CMD":
			h.UncompressCmd = rest
		case "ENCRYPT_CMD":
			h.EncryptCmd = rest
		case "DECRYPT_CMD":
			h.DecryptCmd = rest
		case "CONT_FILENAME":
			h.ContFilename = rest
		case "DLE":
			inDLE = true
			dle = nil
		}
	}
	return h
}

func cutField(line string) (key, rest string, ok bool) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, "", line != ""
	}
	return line[:i], line[i+1:], true
}
