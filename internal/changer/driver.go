package changer

import (
	"context"
	"strings"
	"time"

	"github.com/tapecore/tapecore/internal/deverr"
	"github.com/tapecore/tapecore/internal/scsi"
	"github.com/tapecore/tapecore/internal/sense"
)

// DefaultRewindRetryBudget bounds how long GenericRewind polls TEST UNIT
// READY before issuing REWIND. Some libraries need the full budget after
// a cartridge load; kept configurable rather than hardcoded.
const DefaultRewindRetryBudget = 180 * time.Second

// MapBarCode is the external barcode/label-database collaborator.
// Action identifies what Inventory is asking the map to do with a
// freshly-read label.
type MapBarCode interface {
	Update(ctx context.Context, action BarcodeAction, slotAddr uint16, volTag, label string) error
}

// BarcodeAction is the action set Inventory passes to MapBarCode.
type BarcodeAction int

const (
	ActionResetValid BarcodeAction = iota
	ActionUpdateSlot
	ActionFindSlot
	ActionBarcodeBarcode
)

// Identity is the quirk-dispatch key: an INQUIRY product id plus the
// SCSI peripheral device type used for the generic_<type> fallback.
type Identity struct {
	ProductID      string
	PeripheralType byte
}

// DecodeInquiry extracts the Identity from a standard INQUIRY response:
// byte0 low 5 bits = peripheral device type, bytes8-15 vendor id,
// bytes16-31 product id.
func DecodeInquiry(data []byte) Identity {
	var id Identity
	if len(data) > 0 {
		id.PeripheralType = data[0] & 0x1f
	}
	if len(data) >= 32 {
		id.ProductID = strings.TrimRight(string(data[16:32]), " \x00")
	}
	return id
}

// Driver drives one medium-changer robot over a SCSI transport, owning
// the element model it refreshes status into.
type Driver struct {
	Transport scsi.Transport
	Quirk     Quirk
	Table     Table

	RewindRetryBudget time.Duration

	EmuBarcode bool
	LabelMap   MapBarCode

	addrAssign       AddressAssignment
	addrAssignLoaded bool
	capabilities     DeviceCapabilities

	Warnings []string
}

// NewDriver issues INQUIRY over t, matches the product id against the
// quirk table, and returns a ready-to-use Driver.
func NewDriver(ctx context.Context, t scsi.Transport) (*Driver, error) {
	buf := make([]byte, 96)
	res, err := scsi.Run(ctx, t, scsi.DirIn, scsi.Inquiry(96), buf, 10*time.Second)
	if err != nil {
		return nil, deverr.Wrap(deverr.DeviceError, err, "changer: INQUIRY transport error")
	}
	if res.Outcome == scsi.Error {
		return nil, deverr.New(deverr.DeviceError, "changer: INQUIRY failed")
	}
	id := DecodeInquiry(buf)
	q := lookupQuirk(id.ProductID, id.PeripheralType)
	return &Driver{
		Transport:         t,
		Quirk:             q,
		RewindRetryBudget: DefaultRewindRetryBudget,
	}, nil
}

func (d *Driver) senseDevice() string {
	if d.Quirk.SenseDevice != "" {
		return d.Quirk.SenseDevice
	}
	return "changer"
}

// dispatchSense interprets a Result carrying sense data and returns the
// action.
func (d *Driver) dispatchSense(res scsi.Result) sense.Action {
	sd := sense.Parse(res.SenseBuf)
	return sense.Lookup(d.senseDevice(), sd.SenseKey, sd.ASC, sd.ASCQ)
}

// refreshAddressAssignment issues MODE SENSE(0x1A) page 0x3F once and
// caches the Element Address Assignment (0x1D) and Device Capabilities
// (0x1F) pages.
func (d *Driver) refreshAddressAssignment(ctx context.Context) error {
	if d.addrAssignLoaded {
		return nil
	}
	buf := make([]byte, 255)
	cdb := scsi.ModeSense6(0x3f, 255)
	res, err := scsi.Run(ctx, d.Transport, scsi.DirIn, cdb, buf, 10*time.Second)
	if err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "changer: MODE SENSE transport error")
	}
	if res.Outcome == scsi.Error {
		return deverr.New(deverr.Fatal, "changer: MODE SENSE(0x3F) failed, cannot size element arrays")
	}
	raw := buf
	if d.Quirk.AdicHeaderSkip && len(raw) > 12 {
		raw = raw[12:]
	}
	pages, err := ParseModePages(raw)
	if err != nil {
		return deverr.Wrap(deverr.Fatal, err, "changer: decode mode page list")
	}
	aaPage, ok := pages[0x1d]
	if !ok {
		return deverr.New(deverr.Fatal, "changer: element address assignment page (0x1D) missing")
	}
	aa, err := DecodeAddressAssignment(aaPage)
	if err != nil {
		return deverr.Wrap(deverr.Fatal, err, "changer: decode element address assignment")
	}
	d.addrAssign = aa
	d.addrAssignLoaded = true

	if capPage, ok := pages[0x1f]; ok {
		if cap, cerr := DecodeDeviceCapabilities(capPage); cerr == nil {
			d.capabilities = cap
		}
	}
	// d.capabilities.present stays false if the page was absent; CheckMove
	// consults Allowed(), which is permissive in that case.
	return nil
}

// readElementStatusOnce issues one READ ELEMENT STATUS for t and applies
// the decoded descriptors onto the Table, without sense-driven retry
// (the caller, refreshType, owns the retry loop).
func (d *Driver) readElementStatusOnce(ctx context.Context, t ElementType) ([]decodedDescriptor, scsi.Result, error) {
	first, count := d.addrAssign.FirstAndCount(t)
	d.Table.Resize(t, first, int(count))
	if count == 0 {
		return nil, scsi.Result{Outcome: scsi.Ok}, nil
	}
	voltag := d.Quirk.HasBarcodeReader
	allocLen := uint32(8 + int(count)*64)
	buf := make([]byte, allocLen)
	cdb := scsi.ReadElementStatus(wireElementType(t), first, count, voltag, allocLen)
	res, err := scsi.Run(ctx, d.Transport, scsi.DirIn, cdb, buf, 30*time.Second)
	if err != nil {
		return nil, res, deverr.Wrap(deverr.DeviceError, err, "changer: READ ELEMENT STATUS transport error")
	}
	if res.Outcome == scsi.Error {
		return nil, res, deverr.New(deverr.DeviceError, "changer: READ ELEMENT STATUS failed")
	}
	if res.Outcome == scsi.Sense {
		return nil, res, nil
	}
	_, body, err := parseElementStatusHeader(buf)
	if err != nil {
		return nil, res, deverr.Wrap(deverr.DeviceError, err, "changer: decode element status header")
	}
	descs, err := decodeElementStatusPages(body)
	if err != nil {
		return nil, res, deverr.Wrap(deverr.DeviceError, err, "changer: decode element descriptors")
	}
	return descs, res, nil
}

func wireElementType(t ElementType) scsi.ElementType {
	switch t {
	case MediumTransport:
		return scsi.ElementMediumTransport
	case Storage:
		return scsi.ElementStorage
	case ImportExport:
		return scsi.ElementImportExport
	case DataTransfer:
		return scsi.ElementDataTransfer
	default:
		return scsi.ElementAll
	}
}

func applyDescriptors(tbl *Table, t ElementType, descs []decodedDescriptor) {
	for _, d := range descs {
		el, ok := tbl.ByAddress(t, d.Address)
		if !ok {
			continue
		}
		el.Except = d.Except
		el.ASC = d.ASC
		el.ASCQ = d.ASCQ
		if d.Full {
			el.Occupancy = Full
		} else {
			el.Occupancy = Empty
		}
		if d.Source >= 0 {
			el.Source = d.Source
		}
		if d.VolTag != "" {
			el.VolTag = d.VolTag
		}
	}
}

// refreshType reads element status for one element type, handling the
// sense-driven IES/ABORT dispatch: up to two attempts, each followed by
// one INITIALIZE ELEMENT STATUS when its sense or a per-element ASC
// requests it. A second attempt that still requests it gets its
// INITIALIZE ELEMENT STATUS but no further read. A DTE whose ASC maps
// to tape-not-online is recorded as Empty.
func (d *Driver) refreshType(ctx context.Context, t ElementType) error {
	const maxAttempts = 2
	for attempt := 0; attempt < maxAttempts; attempt++ {
		descs, res, err := d.readElementStatusOnce(ctx, t)
		if err != nil {
			return err
		}
		if res.Outcome == scsi.Sense {
			act := d.dispatchSense(res)
			switch act {
			case sense.ActionInitializeElementStatus:
				if ierr := d.initializeElementStatus(ctx); ierr != nil {
					return ierr
				}
				continue
			case sense.ActionAbort:
				return deverr.New(deverr.Fatal, "changer: element status refresh aborted by sense handler")
			default:
				continue
			}
		}

		needsReinit := false
		for i, desc := range descs {
			if desc.ASC > 0 {
				act := sense.Lookup(d.senseDevice(), 0, desc.ASC, desc.ASCQ)
				switch act {
				case sense.ActionInitializeElementStatus:
					needsReinit = true
				case sense.ActionAbort:
					return deverr.New(deverr.Fatal, "changer: element carries unrecoverable sense condition")
				case sense.ActionTapeNotOnline:
					if t == DataTransfer {
						descs[i].Full = false
					}
				}
			}
		}
		applyDescriptors(&d.Table, t, descs)
		if !needsReinit {
			return nil
		}
		if err := d.initializeElementStatus(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) initializeElementStatus(ctx context.Context) error {
	res, err := scsi.Run(ctx, d.Transport, scsi.DirNone, scsi.InitializeElementStatus(), nil, 180*time.Second)
	if err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "changer: INITIALIZE ELEMENT STATUS transport error")
	}
	if res.Outcome == scsi.Error {
		return deverr.New(deverr.Fatal, "changer: INITIALIZE ELEMENT STATUS failed")
	}
	return nil
}

// GenericElementStatus refreshes all four element arrays. For every
// element with ASC>0, IES requests a full INITIALIZE ELEMENT STATUS plus
// retry; ABORT is fatal; everything else clears silently. When every
// element's ASC is 0, no INITIALIZE ELEMENT STATUS is issued at all.
func (d *Driver) GenericElementStatus(ctx context.Context) error {
	if err := d.refreshAddressAssignment(ctx); err != nil {
		return err
	}
	for _, t := range []ElementType{MediumTransport, Storage, ImportExport, DataTransfer} {
		if err := d.refreshType(ctx, t); err != nil {
			return err
		}
	}
	return d.recoverJammedDrives(ctx)
}

// recoverJammedDrives handles a DTE that remained in error after the
// status refresh: if the drive reports Empty, a self-move (DTE to DTE)
// can dislodge a jammed ejected tape.
func (d *Driver) recoverJammedDrives(ctx context.Context) error {
	for i := range d.Table.DTE {
		dte := &d.Table.DTE[i]
		if !dte.Except {
			continue
		}
		if dte.Occupancy == Empty {
			if err := d.Move(ctx, dte.Address, dte.Address); err != nil {
				d.Warnings = append(d.Warnings, "changer: jammed-drive self-move failed: "+err.Error())
			}
		}
	}
	return nil
}

// CheckMove consults the Device Capabilities page for <src>2<dst>
// legality. When the page was never decoded, the move is permissively
// allowed but a warning is recorded.
func (d *Driver) CheckMove(src, dst ElementType) bool {
	if !d.capabilities.Present() {
		d.Warnings = append(d.Warnings, "changer: device capabilities page unavailable, permitting move without legality check")
		return true
	}
	return d.capabilities.Allowed(src, dst)
}

// Move issues MOVE MEDIUM to relocate the cartridge at "from" to "to".
// If the destination is Full, an Empty storage element is located
// automatically and used instead; an Empty source is rejected with
// InvalidArg and no substitute is searched for. SDX-quirked
// libraries issue a vendor ALIGN ELEMENTS command first and eject a
// loaded DTE source before the move.
func (d *Driver) Move(ctx context.Context, from, to uint16) error {
	srcEl, srcType, ok := d.findElement(from)
	if !ok {
		return deverr.New(deverr.InvalidArg, "changer: unknown source address")
	}
	dstEl, dstType, ok := d.findElement(to)
	if !ok {
		return deverr.New(deverr.InvalidArg, "changer: unknown destination address")
	}

	if srcEl.Occupancy == Empty {
		return deverr.New(deverr.InvalidArg, "changer: move source is empty")
	}
	if dstEl.Occupancy == Full {
		empty, found := d.Table.FindEmptySTE()
		if !found {
			return deverr.New(deverr.DeviceError, "changer: move destination full, no empty storage element available")
		}
		to = empty
		dstEl, dstType, _ = d.findElement(to)
	}
	if !d.CheckMove(srcType, dstType) {
		return deverr.New(deverr.InvalidArg, "changer: move not permitted by device capabilities page")
	}

	if d.Quirk.SDX {
		mte := d.firstAddressOf(MediumTransport)
		if srcType == DataTransfer && srcEl.Occupancy == Full {
			if _, err := d.runMoveCDB(ctx, scsi.Unload(false), nil); err != nil {
				return deverr.Wrap(deverr.DeviceError, err, "changer: SDX pre-move eject failed")
			}
		}
		if _, err := d.runMoveCDB(ctx, scsi.VendorSDXAlignElements(mte, from, to), nil); err != nil {
			return deverr.Wrap(deverr.DeviceError, err, "changer: SDX ALIGN ELEMENTS failed")
		}
	}

	mte := d.firstAddressOf(MediumTransport)
	if _, err := d.runMoveCDB(ctx, scsi.MoveMedium(mte, from, to, false), nil); err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "changer: MOVE MEDIUM failed")
	}

	srcEl.Occupancy = Empty
	srcEl.Source = -1
	dstEl.Occupancy = Full
	dstEl.Source = int32(from)
	return nil
}

func (d *Driver) runMoveCDB(ctx context.Context, cdb []byte, data []byte) (scsi.Result, error) {
	res, err := scsi.Run(ctx, d.Transport, scsi.DirNone, cdb, data, 60*time.Second)
	if err != nil {
		return res, err
	}
	if res.Outcome == scsi.Sense {
		act := d.dispatchSense(res)
		if act == sense.ActionAbort {
			return res, deverr.New(deverr.Fatal, "changer: move command aborted by sense handler")
		}
	}
	if res.Outcome == scsi.Error {
		return res, deverr.New(deverr.DeviceError, "changer: move command failed")
	}
	return res, nil
}

func (d *Driver) firstAddressOf(t ElementType) uint16 {
	if d.Table.Len(t) == 0 {
		return 0
	}
	return d.Table.At(t, 0).Address
}

func (d *Driver) findElement(addr uint16) (*Element, ElementType, bool) {
	for _, t := range []ElementType{MediumTransport, Storage, ImportExport, DataTransfer} {
		if el, ok := d.Table.ByAddress(t, addr); ok {
			return el, t, true
		}
	}
	return nil, 0, false
}

// Load moves the cartridge at slot into drive and refreshes status. It
// does not read the loaded tape's label or touch LabelMap; Inventory is
// the path that records labels.
func (d *Driver) Load(ctx context.Context, drive, slot uint16) error {
	if err := d.Move(ctx, slot, drive); err != nil {
		return err
	}
	return d.GenericElementStatus(ctx)
}

// Unload moves the cartridge in drive back to slot (or the first
// available empty storage element if slot is Full), then refreshes
// status.
func (d *Driver) Unload(ctx context.Context, drive, slot uint16) error {
	dstEl, _, ok := d.findElement(slot)
	if ok && dstEl.Occupancy == Full {
		if empty, found := d.Table.FindEmptySTE(); found {
			slot = empty
		}
	}
	if err := d.Move(ctx, drive, slot); err != nil {
		return err
	}
	return d.GenericElementStatus(ctx)
}

// GenericRewind polls TEST UNIT READY up to RewindRetryBudget before
// issuing REWIND. Libraries that report not-ready for minutes after a
// load need the long poll; everything else clears on the first probe.
func (d *Driver) GenericRewind(ctx context.Context) error {
	budget := d.RewindRetryBudget
	if budget <= 0 {
		budget = DefaultRewindRetryBudget
	}
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		res, err := scsi.Run(ctx, d.Transport, scsi.DirNone, scsi.TestUnitReady(), nil, 5*time.Second)
		if err != nil {
			return deverr.Wrap(deverr.DeviceError, err, "changer: TEST UNIT READY transport error")
		}
		if res.Outcome == scsi.Ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scsi.DefaultTURBackoff):
		}
	}
	res, err := scsi.Run(ctx, d.Transport, scsi.DirNone, scsi.Rewind(false), nil, 30*time.Second)
	if err != nil {
		return deverr.Wrap(deverr.DeviceError, err, "changer: REWIND transport error")
	}
	if res.Outcome == scsi.Error {
		return deverr.New(deverr.DeviceError, "changer: REWIND failed")
	}
	return nil
}
