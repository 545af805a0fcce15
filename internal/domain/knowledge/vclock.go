package knowledge

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Ordering is the causal relation between two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// VectorClock maps writer ids to per-writer logical counters.
// A nil clock is the zero clock.
type VectorClock map[string]uint64

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc)+1)
	maps.Copy(out, vc)
	return out
}

// Tick returns a copy with the writer's counter advanced by one.
func (vc VectorClock) Tick(writer string) VectorClock {
	out := vc.Clone()
	out[writer]++
	return out
}

// Merge returns the pointwise maximum of vc and other.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Compare reports how vc relates to other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false
	for k, v := range vc {
		switch o := other[k]; {
		case v < o:
			less = true
		case v > o:
			greater = true
		}
	}
	for k, o := range other {
		if _, ok := vc[k]; !ok && o > 0 {
			less = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Dominates reports whether vc is strictly causally after other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == After
}

// Descends reports whether vc is equal to or after other.
func (vc VectorClock) Descends(other VectorClock) bool {
	o := vc.Compare(other)
	return o == After || o == Equal
}

// String renders the clock deterministically, e.g. "{a:2,b:1}".
func (vc VectorClock) String() string {
	keys := slices.Sorted(maps.Keys(vc))
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(vc[k], 10))
	}
	b.WriteByte('}')
	return b.String()
}
