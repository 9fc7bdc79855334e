// Package sense interprets SCSI request-sense data (sense key, ASC,
// ASCQ) for a given device identity into one of a small action set: a
// closed enum of verdicts over a keyed lookup table with wildcard
// fallback, so vendor-specific sense quirks can be registered without
// touching the generic entries.
package sense

import "fmt"

// Action is the outcome of interpreting a sense triple.
type Action int

const (
	// ActionNone means no special handling is required.
	ActionNone Action = iota
	// ActionRetry means the caller should retry the command.
	ActionRetry
	// ActionAbort means the command cannot be recovered.
	ActionAbort
	// ActionIgnore means the sense condition is expected and harmless.
	ActionIgnore
	// ActionInitializeElementStatus requests INITIALIZE ELEMENT STATUS
	// followed by a retry of the failing element-status read.
	ActionInitializeElementStatus
	// ActionTapeNotOnline means the drive reported not-ready; on a DTE
	// this is treated as Empty rather than an error.
	ActionTapeNotOnline
	// ActionTapeNotUnloaded means a move target still has a tape loaded.
	ActionTapeNotUnloaded
	// ActionChangeElementStatus requests a changer element-status refresh.
	ActionChangeElementStatus
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NO"
	case ActionRetry:
		return "RETRY"
	case ActionAbort:
		return "ABORT"
	case ActionIgnore:
		return "IGNORE"
	case ActionInitializeElementStatus:
		return "IES"
	case ActionTapeNotOnline:
		return "TAPE_NOT_ONLINE"
	case ActionTapeNotUnloaded:
		return "TAPE_NOT_UNLOADED"
	case ActionChangeElementStatus:
		return "CHG_ELEMENT_STATUS"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Key identifies sense triple for lookup. Device is a free-form identity
// string (typically an INQUIRY product id or generic device type such as
// "tape" or "changer"); Wild device entries are stored under deviceWild.
type Key struct {
	Device string
	ASC    byte
	ASCQ   byte
	// ASCQWild marks this entry as matching any ASCQ for the given ASC.
	ASCQWild bool
}

const deviceWild = "*"

// table is keyed first on device, falling back to deviceWild; within a
// device's map, keyed on (ASC, ASCQ) then (ASC, wildcard ASCQ).
var table = map[string]map[[2]byte]Action{}
var tableASCOnly = map[string]map[byte]Action{}

func register(device string, asc, ascq byte, action Action) {
	m, ok := table[device]
	if !ok {
		m = map[[2]byte]Action{}
		table[device] = m
	}
	m[[2]byte{asc, ascq}] = action
}

func registerASCOnly(device string, asc byte, action Action) {
	m, ok := tableASCOnly[device]
	if !ok {
		m = map[byte]Action{}
		tableASCOnly[device] = m
	}
	m[asc] = action
}

func init() {
	// NO SENSE.
	registerASCOnly(deviceWild, 0x00, ActionNone)

	// Unit attention conditions: a not-ready-to-ready transition is
	// ignored, a power-on/reset is retried.
	register(deviceWild, 0x28, 0x00, ActionIgnore) // not-ready to ready transition, already settled
	register(deviceWild, 0x29, 0x00, ActionRetry)  // power on, reset, or bus device reset

	// Logical unit not ready, becoming ready / initializing command
	// required — transient, retry after the poll backoff.
	register(deviceWild, 0x04, 0x01, ActionRetry)
	register(deviceWild, 0x04, 0x02, ActionRetry)

	// Logical unit not ready, manual intervention required: drive is
	// empty or the door is open.
	register(deviceWild, 0x04, 0x03, ActionTapeNotOnline)
	register(deviceWild, 0x3a, 0x00, ActionTapeNotOnline) // medium not present

	// Changer-specific: element status refresh needed because the
	// library's inventory is stale.
	register("changer", 0x28, 0x00, ActionInitializeElementStatus)

	// Hardware and medium errors are not recoverable by this layer.
	registerASCOnly(deviceWild, 0x03, ActionAbort) // peripheral device write fault
	registerASCOnly(deviceWild, 0x11, ActionAbort) // unrecovered read error
	registerASCOnly(deviceWild, 0x44, ActionAbort) // internal target failure
	registerASCOnly(deviceWild, 0x40, ActionAbort) // diagnostic failure

	// Target already has a tape loaded where the mover expected empty.
	register(deviceWild, 0x3b, 0x0d, ActionTapeNotUnloaded) // medium destination element full
}

// Lookup returns the action for (device, key, asc, ascq). device should be
// either an INQUIRY product identity the caller has registered quirks for,
// or a generic class such as "tape" / "changer". Lookup tries, in order:
//  1. (device, asc, ascq) exact
//  2. (*, asc, ascq) exact
//  3. (device, asc, *) — ASC-only entry for device
//  4. (*, asc, *) — ASC-only wildcard
//
// An unknown triple maps to ActionAbort, never to silent success: an
// unrecognized sense condition must not be ignored.
func Lookup(device string, senseKey byte, asc, ascq byte) Action {
	if senseKey == 0x00 {
		// SCSI sense key 0 (NO SENSE) with a non-zero ASC can still carry
		// diagnostic information, but with ASC 0 it is unambiguously benign.
		if asc == 0x00 {
			return ActionNone
		}
	}
	if m, ok := table[device]; ok {
		if a, ok := m[[2]byte{asc, ascq}]; ok {
			return a
		}
	}
	if m, ok := table[deviceWild]; ok {
		if a, ok := m[[2]byte{asc, ascq}]; ok {
			return a
		}
	}
	if m, ok := tableASCOnly[device]; ok {
		if a, ok := m[asc]; ok {
			return a
		}
	}
	if m, ok := tableASCOnly[deviceWild]; ok {
		if a, ok := m[asc]; ok {
			return a
		}
	}
	return ActionAbort
}

// RegisterQuirk lets a changer quirk module add device-specific sense
// overrides at init time (e.g. a library that reports ASC/ASCQ the
// generic table misclassifies).
func RegisterQuirk(device string, asc, ascq byte, action Action) {
	register(device, asc, ascq, action)
}
