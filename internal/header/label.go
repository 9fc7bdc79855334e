package header

import (
	"context"

	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/device"
)

// MaxHeaderSize is the largest a header block may be.
const MaxHeaderSize = 32 * 1024

// Rdlabel rewinds h and reads its first block, parsing it as a
// TAPESTART header. Any other variant, a read error, or a too-short
// read yields VolumeUnlabeled.
func Rdlabel(ctx context.Context, h device.Handle) (datestamp, label string, err error) {
	if err := device.Rewind(ctx, h); err != nil {
		return "", "", deverr.Wrap(deverr.VolumeUnlabeled, err, "header: rewind before rdlabel")
	}
	buf := make([]byte, MaxHeaderSize)
	n, err := device.Read(ctx, h, buf)
	if err != nil && !deverr.Is(err, deverr.SuccessButShort) {
		return "", "", deverr.Wrap(deverr.VolumeUnlabeled, err, "header: read label block")
	}
	hdr := Parse(buf, n)
	if hdr.Type != TapeStart {
		return "", "", deverr.New(deverr.VolumeUnlabeled, "header: volume does not start with TAPESTART")
	}
	return hdr.Datestamp, hdr.Name, nil
}

// Wrlabel rewinds h and writes a TAPESTART header of exactly size
// bytes, then marks the handle with a synthetic label identity for the
// dump files that follow.
func Wrlabel(ctx context.Context, h device.Handle, datestamp, label string, size int) error {
	if err := device.Rewind(ctx, h); err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "header: rewind before wrlabel")
	}
	hdr := &Header{Type: TapeStart, Datestamp: datestamp, Name: label}
	buf, err := Build(hdr, size)
	if err != nil {
		return err
	}
	if _, err := device.Write(ctx, h, buf); err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "header: write label block")
	}
	return device.SetLabel(h, device.LabelIdentity{Datestamp: datestamp})
}

// Wrendmark writes a TAPEEND header of exactly size bytes at the
// handle's current position.
func Wrendmark(ctx context.Context, h device.Handle, datestamp string, size int) error {
	hdr := &Header{Type: TapeEnd, Datestamp: datestamp}
	buf, err := Build(hdr, size)
	if err != nil {
		return err
	}
	if _, err := device.Write(ctx, h, buf); err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "header: write end-of-tape block")
	}
	return nil
}
