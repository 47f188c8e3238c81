package region

import (
	"fmt"
	"math"
)

// Kind groups Spaces whose coordinates measure the same thing.
// Positions and Sizes only convert between Spaces of the same Kind.
type Kind string

const (
	// KindIndex is the Kind of element-indexed spaces such as Array.
	KindIndex Kind = "index"

	// KindTime is the Kind of spaces whose steps are durations.
	KindTime Kind = "time"
)

// Space is a coordinate system over int64 indices.
type Space struct {
	name   string
	kind   Kind
	unit   float64 // base units per step, used for cross-space conversion
	origin int64
	min    int64
	max    int64
}

var (
	// Array is the standard 0-based element index space.
	Array = MustSpace("array", KindIndex, 1, 0, 0, math.MaxInt64)

	// Nanoseconds is a relative time space with one nanosecond steps.
	Nanoseconds = MustSpace("nanoseconds", KindTime, 1, 0, 0, math.MaxInt64)

	// Milliseconds is a relative time space with one millisecond steps.
	Milliseconds = MustSpace("milliseconds", KindTime, 1e6, 0, 0, math.MaxInt64/1_000_000)
)

// NewSpace creates a Space. unit is the number of base units of the Kind that
// one step of the Space covers; origin must lie within [min, max].
func NewSpace(name string, kind Kind, unit float64, origin, min, max int64) (*Space, error) {
	if name == "" || kind == "" || !(unit > 0) || math.IsInf(unit, 0) ||
		min > max || origin < min || origin > max {
		return nil, fmt.Errorf("%w: name=%q kind=%q unit=%v origin=%d min=%d max=%d",
			ErrInvalidSpace, name, kind, unit, origin, min, max)
	}
	return &Space{
		name:   name,
		kind:   kind,
		unit:   unit,
		origin: origin,
		min:    min,
		max:    max,
	}, nil
}

// MustSpace is like NewSpace but panics on an invalid definition.
// It is intended for package-level Space singletons.
func MustSpace(name string, kind Kind, unit float64, origin, min, max int64) *Space {
	s, err := NewSpace(name, kind, unit, origin, min, max)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the Space's name.
func (s *Space) Name() string { return s.name }

// Kind returns the Space's Kind.
func (s *Space) Kind() Kind { return s.kind }

// Unit returns the number of base units per step.
func (s *Space) Unit() float64 { return s.unit }

// Position returns the Position at index, or OutOfBounds when index lies
// outside [min, max].
func (s *Space) Position(index int64) Position {
	if index < s.min || index > s.max {
		return s.OutOfBounds()
	}
	return Position{space: s, index: index, valid: true}
}

// Origin returns the Position all cross-space conversions are relative to.
func (s *Space) Origin() Position { return s.Position(s.origin) }

// Min returns the lowest Position in the Space.
func (s *Space) Min() Position { return s.Position(s.min) }

// Max returns the highest Position in the Space.
func (s *Space) Max() Position { return s.Position(s.max) }

// OutOfBounds returns the sentinel Position produced by arithmetic that
// leaves the Space.
func (s *Space) OutOfBounds() Position { return Position{space: s} }

// Size returns a Size of length steps. Negative lengths yield an invalid Size.
func (s *Space) Size(length int64) Size {
	if length < 0 {
		return Size{space: s}
	}
	return Size{space: s, length: length, valid: true}
}

// None returns the zero Size.
func (s *Space) None() Size { return s.Size(0) }

// One returns the unit Size.
func (s *Space) One() Size { return s.Size(1) }

// Compare orders two Positions of this Space. Out-of-bounds Positions sort
// after every valid Position.
func (s *Space) Compare(a, b Position) int { return a.Compare(b) }

// From converts a Position from another Space into this one.
// It is the identity for Positions that already belong to this Space.
func (s *Space) From(p Position) Position {
	if p.space == s {
		return p
	}
	if p.space == nil || !p.valid || p.space.kind != s.kind {
		return s.OutOfBounds()
	}
	steps := (float64(p.index) - float64(p.space.origin)) * p.space.unit / s.unit
	idx := math.Round(float64(s.origin) + steps)
	if idx < math.MinInt64 || idx >= math.MaxInt64 {
		return s.OutOfBounds()
	}
	return s.Position(int64(idx))
}

// FromSize converts a Size from another Space into this one.
// Sizes from an incompatible Space yield an invalid Size.
func (s *Space) FromSize(sz Size) Size {
	if sz.space == s {
		return sz
	}
	if sz.space == nil || !sz.valid || sz.space.kind != s.kind {
		return Size{space: s}
	}
	length := math.Round(float64(sz.length) * sz.space.unit / s.unit)
	if length >= math.MaxInt64 {
		return Size{space: s}
	}
	return s.Size(int64(length))
}

// FromRegion converts a Region from another Space into this one.
func (s *Space) FromRegion(r Region) Region {
	if r.Space() == s {
		return r
	}
	if r.IsEmpty() {
		return s.Empty()
	}
	start := s.From(r.start)
	end := start.Add(s.FromSize(r.Size())).Previous()
	return s.Region(start, end)
}

// Region returns the inclusive Region [start, end]. Positions from another
// Space, out-of-bounds Positions and start > end all yield the empty Region.
func (s *Space) Region(start, end Position) Region {
	if start.space != s || end.space != s || !start.valid || !end.valid || start.index > end.index {
		return s.Empty()
	}
	return Region{start: start, end: end}
}

// Range is shorthand for Region(Position(start), Position(end)).
func (s *Space) Range(start, end int64) Region {
	return s.Region(s.Position(start), s.Position(end))
}

// Empty returns the empty Region of this Space.
func (s *Space) Empty() Region {
	return Region{start: s.OutOfBounds(), end: s.OutOfBounds()}
}

// All returns the Region spanning [min, max].
func (s *Space) All() Region { return s.Region(s.Min(), s.Max()) }

func (s *Space) String() string {
	if s == nil {
		return "<nil space>"
	}
	return s.name
}

// Position is a point in a Space. The zero value is out of bounds of no Space.
type Position struct {
	space *Space
	index int64
	valid bool
}

// Space returns the Space the Position belongs to.
func (p Position) Space() *Space { return p.space }

// Index returns the Position's index. It is meaningless when IsOutOfBounds.
func (p Position) Index() int64 { return p.index }

// IsOutOfBounds reports whether p is the out-of-bounds sentinel.
func (p Position) IsOutOfBounds() bool { return !p.valid }

// Add returns p moved forward by sz. Sizes from another Space of the same
// Kind are converted first.
func (p Position) Add(sz Size) Position {
	if p.space == nil {
		return p
	}
	sz = p.space.FromSize(sz)
	if !p.valid || !sz.valid {
		return p.space.OutOfBounds()
	}
	sum, ok := addInt64(p.index, sz.length)
	if !ok {
		return p.space.OutOfBounds()
	}
	return p.space.Position(sum)
}

// Subtract returns p moved backward by sz.
func (p Position) Subtract(sz Size) Position {
	if p.space == nil {
		return p
	}
	sz = p.space.FromSize(sz)
	if !p.valid || !sz.valid {
		return p.space.OutOfBounds()
	}
	diff, ok := addInt64(p.index, -sz.length)
	if !ok {
		return p.space.OutOfBounds()
	}
	return p.space.Position(diff)
}

// Next returns the following Position.
func (p Position) Next() Position {
	if p.space == nil {
		return p
	}
	return p.Add(p.space.One())
}

// Previous returns the preceding Position.
func (p Position) Previous() Position {
	if p.space == nil {
		return p
	}
	return p.Subtract(p.space.One())
}

// Distance returns the Size from p forward to q. It is invalid when q lies
// before p or either Position is out of bounds.
func (p Position) Distance(q Position) Size {
	if p.space == nil {
		return Size{}
	}
	q = p.space.From(q)
	if !p.valid || !q.valid || q.index < p.index {
		return Size{space: p.space}
	}
	d, ok := addInt64(q.index, -p.index)
	if !ok {
		return Size{space: p.space}
	}
	return p.space.Size(d)
}

// Compare returns -1, 0 or +1. Out-of-bounds sorts after everything else.
func (p Position) Compare(q Position) int {
	switch {
	case !p.valid && !q.valid:
		return 0
	case !p.valid:
		return 1
	case !q.valid:
		return -1
	case p.index < q.index:
		return -1
	case p.index > q.index:
		return 1
	default:
		return 0
	}
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool { return p.Compare(q) < 0 }

// After reports whether p sorts strictly after q.
func (p Position) After(q Position) bool { return p.Compare(q) > 0 }

// Equal reports whether p and q are the same Position of the same Space.
func (p Position) Equal(q Position) bool {
	return p.space == q.space && p.Compare(q) == 0
}

func (p Position) String() string {
	if !p.valid {
		return fmt.Sprintf("%s[out of bounds]", p.space)
	}
	return fmt.Sprintf("%s[%d]", p.space, p.index)
}

// Size is a non-negative magnitude measured in steps of a Space.
type Size struct {
	space  *Space
	length int64
	valid  bool
}

// Space returns the Space the Size is measured in.
func (sz Size) Space() *Space { return sz.space }

// Length returns the number of steps. It is 0 for an invalid Size.
func (sz Size) Length() int64 { return sz.length }

// IsValid reports whether the Size resulted from defined arithmetic.
func (sz Size) IsValid() bool { return sz.valid }

// Add returns sz + o, or an invalid Size on overflow.
func (sz Size) Add(o Size) Size {
	if sz.space == nil {
		return sz
	}
	o = sz.space.FromSize(o)
	if !sz.valid || !o.valid {
		return Size{space: sz.space}
	}
	sum, ok := addInt64(sz.length, o.length)
	if !ok {
		return Size{space: sz.space}
	}
	return sz.space.Size(sum)
}

// Subtract returns sz - o, or an invalid Size if the result is negative.
func (sz Size) Subtract(o Size) Size {
	if sz.space == nil {
		return sz
	}
	o = sz.space.FromSize(o)
	if !sz.valid || !o.valid {
		return Size{space: sz.space}
	}
	return sz.space.Size(sz.length - o.length)
}

// Multiply scales sz by factor, rounding to the nearest step.
func (sz Size) Multiply(factor float64) Size {
	if sz.space == nil {
		return sz
	}
	if !sz.valid || math.IsNaN(factor) || factor < 0 {
		return Size{space: sz.space}
	}
	length := math.Round(float64(sz.length) * factor)
	if length >= math.MaxInt64 {
		return Size{space: sz.space}
	}
	return sz.space.Size(int64(length))
}

// Ratio returns sz / o. It returns 0 when o is zero or either Size is invalid.
func (sz Size) Ratio(o Size) float64 {
	if sz.space == nil {
		return 0
	}
	o = sz.space.FromSize(o)
	if !sz.valid || !o.valid || o.length == 0 {
		return 0
	}
	return float64(sz.length) / float64(o.length)
}

// Compare returns -1, 0 or +1. Invalid Sizes sort after valid ones.
func (sz Size) Compare(o Size) int {
	if sz.space != nil {
		o = sz.space.FromSize(o)
	}
	switch {
	case !sz.valid && !o.valid:
		return 0
	case !sz.valid:
		return 1
	case !o.valid:
		return -1
	case sz.length < o.length:
		return -1
	case sz.length > o.length:
		return 1
	default:
		return 0
	}
}

func (sz Size) String() string {
	if !sz.valid {
		return fmt.Sprintf("%s{invalid size}", sz.space)
	}
	return fmt.Sprintf("%s{%d}", sz.space, sz.length)
}

// addInt64 adds a and b, returning ok = false on overflow.
func addInt64(a, b int64) (int64, bool) {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return 0, false
	case b < 0 && a < math.MinInt64-b:
		return 0, false
	default:
		return a + b, true
	}
}
