package changer

import (
	"context"
	"time"

	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/header"
)

// Reader is the minimal label-read surface Inventory needs from a
// mounted drive, kept as a local interface so the driver does not
// depend on internal/device just for label recovery.
type Reader interface {
	Rewind(ctx context.Context) error
	ReadFirstBlock(ctx context.Context) ([]byte, error)
}

// Inventory iterates every storage element, loading each into drive in
// turn to recover its label when the library lacks a physical barcode
// reader but EmuBarcode is enabled. reader must correspond to the drive
// address supplied.
func (d *Driver) Inventory(ctx context.Context, drive uint16, reader Reader) error {
	if !d.EmuBarcode || d.LabelMap == nil {
		return deverr.New(deverr.InvalidArg, "changer: inventory requires EmuBarcode and a LabelMap")
	}
	if err := d.LabelMap.Update(ctx, ActionResetValid, 0, "", ""); err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "changer: reset barcode map")
	}

	for i := range d.Table.STE {
		ste := &d.Table.STE[i]
		if ste.Occupancy != Full {
			continue
		}
		if err := d.Load(ctx, drive, ste.Address); err != nil {
			d.Warnings = append(d.Warnings, "changer: inventory load failed for slot")
			continue
		}
		if err := reader.Rewind(ctx); err != nil {
			d.Warnings = append(d.Warnings, "changer: inventory rewind failed")
			if uerr := d.Unload(ctx, drive, ste.Address); uerr != nil {
				d.Warnings = append(d.Warnings, "changer: inventory unload-after-failure failed")
			}
			continue
		}
		block, err := reader.ReadFirstBlock(ctx)
		label := ""
		if err == nil {
			h := header.Parse(block, len(block))
			if h.Type == header.TapeStart {
				label = h.Name
			}
		}
		if err := d.Unload(ctx, drive, ste.Address); err != nil {
			d.Warnings = append(d.Warnings, "changer: inventory unload failed")
			continue
		}
		if label != "" {
			if uerr := d.LabelMap.Update(ctx, ActionUpdateSlot, ste.Address, ste.VolTag, label); uerr != nil {
				d.Warnings = append(d.Warnings, "changer: barcode map update failed")
			}
		}
		// Give the robot a brief settle before the next move.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}
