package region

import "fmt"

// NotFound is returned by Search when a Position lies in no section.
const NotFound = -1

// Span is the read-only view shared by Region and SparseRegion.
type Span interface {
	// Space returns the Space the span belongs to (nil for the zero Region).
	Space() *Space

	// Start returns the first Position, or out-of-bounds when empty.
	Start() Position

	// End returns the last Position, or out-of-bounds when empty.
	End() Position

	// Size returns the number of Positions covered, excluding gaps.
	Size() Size

	// IsEmpty reports whether the span covers no Positions.
	IsEmpty() bool

	// Contains reports whether p lies inside one of the span's sections.
	Contains(p Position) bool

	// Search returns the index of the section containing p, or NotFound.
	Search(p Position) int

	// NumRegions returns the number of contiguous sections.
	NumRegions() int

	// Region returns section i, or the empty Region when i is out of range.
	Region(i int) Region
}

// Region is an inclusive, contiguous [start, end] range of one Space.
type Region struct {
	start Position
	end   Position
}

var _ Span = Region{}

// Space returns the Region's Space.
func (r Region) Space() *Space { return r.start.space }

// Start returns the first Position.
func (r Region) Start() Position { return r.start }

// End returns the last Position.
func (r Region) End() Position { return r.end }

// IsEmpty reports whether the Region covers no Positions.
func (r Region) IsEmpty() bool { return !r.start.valid || !r.end.valid }

// Size returns end - start + 1.
func (r Region) Size() Size {
	if r.start.space == nil {
		return Size{}
	}
	if r.IsEmpty() {
		return r.start.space.None()
	}
	return r.start.Distance(r.end).Add(r.start.space.One())
}

// Contains reports whether p lies within [start, end].
func (r Region) Contains(p Position) bool {
	if r.IsEmpty() || p.space != r.start.space || !p.valid {
		return false
	}
	return r.start.index <= p.index && p.index <= r.end.index
}

// Search returns 0 when the Region contains p, otherwise NotFound.
func (r Region) Search(p Position) int {
	if r.Contains(p) {
		return 0
	}
	return NotFound
}

// NumRegions returns 1, or 0 for the empty Region.
func (r Region) NumRegions() int {
	if r.IsEmpty() {
		return 0
	}
	return 1
}

// Region returns r itself for index 0.
func (r Region) Region(i int) Region {
	if i != 0 || r.IsEmpty() {
		if r.start.space == nil {
			return Region{}
		}
		return r.start.space.Empty()
	}
	return r
}

// ContainsRegion reports whether o lies entirely within r.
func (r Region) ContainsRegion(o Region) bool {
	return !o.IsEmpty() && r.Contains(o.start) && r.Contains(o.end)
}

// Overlaps reports whether r and o share at least one Position.
func (r Region) Overlaps(o Region) bool {
	if r.IsEmpty() || o.IsEmpty() || r.Space() != o.Space() {
		return false
	}
	return r.start.index <= o.end.index && o.start.index <= r.end.index
}

// Intersect returns the Positions common to r and o, possibly empty.
func (r Region) Intersect(o Region) Region {
	if !r.Overlaps(o) {
		if r.start.space == nil {
			return Region{}
		}
		return r.start.space.Empty()
	}
	start, end := r.start, r.end
	if o.start.index > start.index {
		start = o.start
	}
	if o.end.index < end.index {
		end = o.end
	}
	return Region{start: start, end: end}
}

// Equal reports whether r and o cover the same Positions of the same Space.
func (r Region) Equal(o Region) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return r.IsEmpty() && o.IsEmpty()
	}
	return r.start.Equal(o.start) && r.end.Equal(o.end)
}

func (r Region) String() string {
	if r.IsEmpty() {
		return fmt.Sprintf("%s[]", r.Space())
	}
	return fmt.Sprintf("%s[%d-%d]", r.Space(), r.start.index, r.end.index)
}
