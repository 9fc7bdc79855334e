// Package property implements the typed named-property plane: devices
// expose properties with a value, a surety, and a source, and callers
// (mainly RAIT aggregation and device introspection) read and write
// them through a uniform API.
package property

import "fmt"

// ID names a concrete device property.
type ID int

const (
	BlockSize ID = iota
	MinBlockSize
	MaxBlockSize
	Concurrency
	Streaming
	Appendable
	PartialDeletion
	FullDeletion
	FullDeletionWithPool
	LEOM
	MediumAccessType
	MaxVolumeUsage
	Comment
	Compression
	ReadBufferSize
)

func (id ID) String() string {
	switch id {
	case BlockSize:
		return "BLOCK_SIZE"
	case MinBlockSize:
		return "MIN_BLOCK_SIZE"
	case MaxBlockSize:
		return "MAX_BLOCK_SIZE"
	case Concurrency:
		return "CONCURRENCY"
	case Streaming:
		return "STREAMING"
	case Appendable:
		return "APPENDABLE"
	case PartialDeletion:
		return "PARTIAL_DELETION"
	case FullDeletion:
		return "FULL_DELETION"
	case FullDeletionWithPool:
		return "FULL_DELETION_WITH_POOL"
	case LEOM:
		return "LEOM"
	case MediumAccessType:
		return "MEDIUM_ACCESS_TYPE"
	case MaxVolumeUsage:
		return "MAX_VOLUME_USAGE"
	case Comment:
		return "COMMENT"
	case Compression:
		return "COMPRESSION"
	case ReadBufferSize:
		return "READ_BUFFER_SIZE"
	default:
		return fmt.Sprintf("ID(%d)", int(id))
	}
}

// Surety is how confident the current value is.
type Surety int

const (
	Bad Surety = iota
	Good
)

// Source is where the current value came from.
type Source int

const (
	Default Source = iota
	Detected
	User
)

// ConcurrencyLevel orders the three concurrency classes from most to
// least restrictive; RAIT aggregation takes the minimum.
type ConcurrencyLevel int

const (
	ConcurrencyExclusive ConcurrencyLevel = iota
	ConcurrencySharedRead
	ConcurrencyRandomAccess
)

// StreamingLevel orders the three streaming classes from least to most
// demanding; RAIT aggregation takes the maximum.
type StreamingLevel int

const (
	StreamingNone StreamingLevel = iota
	StreamingDesired
	StreamingRequired
)

// AccessType is the read/write legality class used for conflict
// detection when aggregating RAIT children.
type AccessType int

const (
	AccessReadWrite AccessType = iota
	AccessReadOnly
	AccessWriteOnly
)

// Property is one (id, value, surety, source) record.
type Property struct {
	ID     ID
	Value  interface{}
	Surety Surety
	Source Source
}

// Set holds a device's properties keyed by ID.
type Set struct {
	props    map[ID]*Property
	warnings []string
}

// NewSet returns an empty property set.
func NewSet() *Set {
	return &Set{props: map[ID]*Property{}}
}

// Get returns the property for id, if present.
func (s *Set) Get(id ID) (Property, bool) {
	p, ok := s.props[id]
	if !ok {
		return Property{}, false
	}
	return *p, true
}

// Set installs a value for id from source with the given surety.
//
// Once a property's source is User, later writes from a lower-priority
// source may only reduce surety, never raise it, and must never replace
// the User-sourced value. A User write always takes effect.
func (s *Set) Set(id ID, value interface{}, surety Surety, source Source) {
	existing, ok := s.props[id]
	if ok && existing.Source == User && source != User {
		if surety < existing.Surety {
			existing.Surety = surety
		}
		return
	}
	s.props[id] = &Property{ID: id, Value: value, Surety: surety, Source: source}
}

// Warn records a non-fatal property-plane warning, e.g. conflicting
// medium access types across RAIT children.
func (s *Set) Warn(msg string) {
	s.warnings = append(s.warnings, msg)
}

// Warnings returns all warnings recorded so far.
func (s *Set) Warnings() []string {
	return append([]string(nil), s.warnings...)
}

// All returns every property currently set, for introspection.
func (s *Set) All() []Property {
	out := make([]Property, 0, len(s.props))
	for _, p := range s.props {
		out = append(out, *p)
	}
	return out
}
