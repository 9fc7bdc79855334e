// Package deverr defines the error taxonomy shared by the device, rait,
// header, and restore packages. A single closed set of kinds lets callers
// across backend boundaries dispatch on error class without depending on
// concrete backend error types.
package deverr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error classes a storage-layer operation can fail
// with.
type Kind int

const (
	_ Kind = iota
	// DeviceError is an I/O or SCSI-transport failure, device-specific.
	DeviceError
	// VolumeError is a label mismatch or corruption.
	VolumeError
	// VolumeUnlabeled means the first read of a volume did not yield a
	// TAPESTART header.
	VolumeUnlabeled
	// SuccessButShort means a read returned fewer bytes than the record
	// size; the data received is still valid.
	SuccessButShort
	// XorMismatch means a RAIT parity check failed in Complete mode.
	XorMismatch
	// EomReached means a write would exceed the volume boundary.
	EomReached
	// InvalidArg is a standard POSIX-flavoured invalid-argument error.
	InvalidArg
	// Access is a standard POSIX-flavoured permission error (e.g. write
	// on a read-only handle).
	Access
	// NotFound is a standard POSIX-flavoured missing-resource error.
	NotFound
	// Fatal is an invariant violation; it propagates to process exit
	// code 2 at the CLI boundary.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case DeviceError:
		return "DeviceError"
	case VolumeError:
		return "VolumeError"
	case VolumeUnlabeled:
		return "VolumeUnlabeled"
	case SuccessButShort:
		return "SuccessButShort"
	case XorMismatch:
		return "XorMismatch"
	case EomReached:
		return "EomReached"
	case InvalidArg:
		return "InvalidArg"
	case Access:
		return "Access"
	case NotFound:
		return "NotFound"
	case Fatal:
		return "Fatal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error pairs a Kind with a message and optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var de *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			de = e
			break
		}
		err = errors.Unwrap(err)
	}
	return de != nil && de.Kind == kind
}
