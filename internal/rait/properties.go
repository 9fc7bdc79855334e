package rait

import "github.com/tapecore/tapecore/internal/property"

// Aggregate combines each child's property set into the parent's: sizes
// take the per-child minimum scaled by the data-child count, concurrency
// takes the most restrictive level, streaming the most demanding, and
// the boolean capabilities the logical AND. dataChildren is the N-1 (or
// 1) divisor BLOCK_SIZE and MAX_VOLUME_USAGE scale by.
func Aggregate(children []*property.Set, dataChildren int) *property.Set {
	out := property.NewSet()
	if len(children) == 0 {
		return out
	}

	if v, ok := minInt(children, property.BlockSize); ok {
		out.Set(property.BlockSize, v*dataChildren, property.Good, property.Detected)
	}
	if v, ok := minInt(children, property.MaxVolumeUsage); ok {
		out.Set(property.MaxVolumeUsage, v*dataChildren, property.Good, property.Detected)
	}

	if v, ok := minConcurrency(children); ok {
		out.Set(property.Concurrency, v, property.Good, property.Detected)
	}
	if v, ok := maxStreaming(children); ok {
		out.Set(property.Streaming, v, property.Good, property.Detected)
	}

	for _, id := range []property.ID{
		property.Appendable,
		property.PartialDeletion,
		property.FullDeletion,
		property.FullDeletionWithPool,
		property.LEOM,
	} {
		if v, ok := andBool(children, id); ok {
			out.Set(id, v, property.Good, property.Detected)
		}
	}

	if v, warn, ok := intersectMediumAccess(children); ok {
		out.Set(property.MediumAccessType, v, property.Good, property.Detected)
		if warn != "" {
			out.Warn(warn)
		}
	}

	return out
}

func minInt(children []*property.Set, id property.ID) (int, bool) {
	min := 0
	found := false
	for _, c := range children {
		p, ok := c.Get(id)
		if !ok {
			continue
		}
		v, ok := p.Value.(int)
		if !ok {
			continue
		}
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found
}

func minConcurrency(children []*property.Set) (property.ConcurrencyLevel, bool) {
	min := property.ConcurrencyRandomAccess
	found := false
	for _, c := range children {
		p, ok := c.Get(property.Concurrency)
		if !ok {
			continue
		}
		v, ok := p.Value.(property.ConcurrencyLevel)
		if !ok {
			continue
		}
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found
}

func maxStreaming(children []*property.Set) (property.StreamingLevel, bool) {
	max := property.StreamingNone
	found := false
	for _, c := range children {
		p, ok := c.Get(property.Streaming)
		if !ok {
			continue
		}
		v, ok := p.Value.(property.StreamingLevel)
		if !ok {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found
}

func andBool(children []*property.Set, id property.ID) (bool, bool) {
	result := true
	found := false
	for _, c := range children {
		p, ok := c.Get(id)
		if !ok {
			continue
		}
		v, ok := p.Value.(bool)
		if !ok {
			continue
		}
		result = result && v
		found = true
	}
	return result, found
}

// intersectMediumAccess combines each child's access-type restriction.
// A read-only child alongside a write-only child is a conflict,
// reported as a warning alongside the more restrictive value seen so
// the caller can decide whether to refuse the set.
func intersectMediumAccess(children []*property.Set) (property.AccessType, string, bool) {
	sawReadOnly, sawWriteOnly := false, false
	result := property.AccessReadWrite
	found := false
	for _, c := range children {
		p, ok := c.Get(property.MediumAccessType)
		if !ok {
			continue
		}
		v, ok := p.Value.(property.AccessType)
		if !ok {
			continue
		}
		found = true
		switch v {
		case property.AccessReadOnly:
			sawReadOnly = true
			result = property.AccessReadOnly
		case property.AccessWriteOnly:
			sawWriteOnly = true
			result = property.AccessWriteOnly
		}
	}
	if sawReadOnly && sawWriteOnly {
		return result, "rait: conflicting child medium access types (read-only and write-only both present)", found
	}
	return result, "", found
}
