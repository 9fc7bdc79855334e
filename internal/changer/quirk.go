package changer

import (
	"fmt"
	"strings"
)

// Quirk is one per-product dispatch entry: the handful of behavioural
// flags the driver's generic functions branch on, registered in an open
// table keyed by INQUIRY product-id prefix so new library models can be
// added without touching the driver itself.
type Quirk struct {
	// Name is the INQUIRY product-id prefix this quirk matches.
	Name string
	// AdicHeaderSkip requires skipping 12 bytes of the raw mode-sense
	// response before page parsing (ADIC DLT 448 prepends a vendor
	// header).
	AdicHeaderSkip bool
	// SDX enables the vendor ALIGN ELEMENTS pre-move and
	// eject-loaded-DTE-before-move behavior.
	SDX bool
	// HasBarcodeReader means READ ELEMENT STATUS's VolTag bit returns
	// real barcode data; when false and EmuBarcode is set on the
	// Driver, Inventory synthesizes tags by mounting and reading labels.
	HasBarcodeReader bool
	// SenseDevice is the sense-interpreter device identity passed to
	// sense.Lookup for this product. Every built-in entry uses "changer";
	// sense quirks registered under another identity apply only when
	// SenseDevice names that identity.
	SenseDevice string
}

var quirks = map[string]Quirk{}

// RegisterQuirk installs q under q.Name, matched by INQUIRY product-id
// prefix at driver construction time.
func RegisterQuirk(q Quirk) {
	quirks[q.Name] = q
}

func init() {
	RegisterQuirk(Quirk{Name: "ADIC DLT 448", AdicHeaderSkip: true, SenseDevice: "changer"})
	RegisterQuirk(Quirk{Name: "STK", SenseDevice: "changer"})
	RegisterQuirk(Quirk{Name: "SDX", SDX: true, SenseDevice: "changer"})
}

// lookupQuirk finds the longest matching registered prefix for
// productID; unknown products fall back to a generic entry keyed by the
// device's SCSI peripheral type.
func lookupQuirk(productID string, peripheralType byte) Quirk {
	best := ""
	var bestQuirk Quirk
	for name, q := range quirks {
		if strings.HasPrefix(productID, name) && len(name) > len(best) {
			best = name
			bestQuirk = q
		}
	}
	if best != "" {
		return bestQuirk
	}
	return Quirk{
		Name:        fmt.Sprintf("generic_%d", peripheralType),
		SenseDevice: "changer",
	}
}
