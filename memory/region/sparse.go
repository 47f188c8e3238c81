package region

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// SparseRegion is an ordered union of disjoint Regions with gaps between them.
//
// Sections are sorted by start and never overlap. Adjacent sections are kept
// apart, so a SparseRegion built from non-overlapping pages has exactly one
// section per page.
type SparseRegion struct {
	space    *Space
	sections []Region
	size     Size
}

var _ Span = (*SparseRegion)(nil)

// NewSparseRegion builds a SparseRegion from candidate spans, which may be
// unordered, overlapping or themselves sparse. A nil candidate fails with
// ErrMissingRegion; a candidate from another Space fails with
// ErrSpaceMismatch. Empty candidates are ignored.
func NewSparseRegion(space *Space, spans ...Span) (*SparseRegion, error) {
	if space == nil {
		return nil, fmt.Errorf("%w: nil space", ErrInvalidSpace)
	}

	flat := make([]Region, 0, len(spans))
	for i, sp := range spans {
		if isNilSpan(sp) {
			return nil, fmt.Errorf("%w: element %d", ErrMissingRegion, i)
		}
		if sp.IsEmpty() {
			continue
		}
		if sp.Space() != space {
			return nil, fmt.Errorf("%w: element %d is in %s, want %s",
				ErrSpaceMismatch, i, sp.Space(), space)
		}
		for j := range sp.NumRegions() {
			flat = append(flat, sp.Region(j))
		}
	}

	slices.SortFunc(flat, func(a, b Region) int {
		if c := a.start.Compare(b.start); c != 0 {
			return c
		}
		return a.end.Compare(b.end)
	})

	merged := make([]Region, 0, len(flat))
	for _, r := range flat {
		n := len(merged)
		if n > 0 && r.start.index <= merged[n-1].end.index {
			// Contained sections change nothing; partial overlap extends the end.
			if r.end.index > merged[n-1].end.index {
				merged[n-1].end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}

	total := space.None()
	for _, r := range merged {
		total = total.Add(r.Size())
	}

	return &SparseRegion{space: space, sections: merged, size: total}, nil
}

// EmptySparse returns a SparseRegion with no sections.
func EmptySparse(space *Space) *SparseRegion {
	return &SparseRegion{space: space, size: space.None()}
}

func isNilSpan(sp Span) bool {
	if sp == nil {
		return true
	}
	s, ok := sp.(*SparseRegion)
	return ok && s == nil
}

// Space returns the SparseRegion's Space.
func (s *SparseRegion) Space() *Space { return s.space }

// Start returns the start of the first section.
func (s *SparseRegion) Start() Position {
	if len(s.sections) == 0 {
		return s.space.OutOfBounds()
	}
	return s.sections[0].start
}

// End returns the end of the last section.
func (s *SparseRegion) End() Position {
	if len(s.sections) == 0 {
		return s.space.OutOfBounds()
	}
	return s.sections[len(s.sections)-1].end
}

// Size returns the sum of the section sizes; gaps are not counted.
func (s *SparseRegion) Size() Size { return s.size }

// IsEmpty reports whether there are no sections.
func (s *SparseRegion) IsEmpty() bool { return len(s.sections) == 0 }

// NumRegions returns the number of sections.
func (s *SparseRegion) NumRegions() int { return len(s.sections) }

// Region returns section i, or the empty Region when i is out of range.
func (s *SparseRegion) Region(i int) Region {
	if i < 0 || i >= len(s.sections) {
		return s.space.Empty()
	}
	return s.sections[i]
}

// Regions returns a copy of the sections.
func (s *SparseRegion) Regions() []Region {
	return slices.Clone(s.sections)
}

// Contains reports whether p lies inside a section.
func (s *SparseRegion) Contains(p Position) bool {
	return s.Search(p) >= 0
}

// Search binary-searches the sections for the one containing p.
// It returns NotFound when p lies in a gap or outside [Start, End].
func (s *SparseRegion) Search(p Position) int {
	if p.space != s.space || !p.valid || len(s.sections) == 0 {
		return NotFound
	}
	i := sort.Search(len(s.sections), func(i int) bool {
		return s.sections[i].end.index >= p.index
	})
	if i < len(s.sections) && s.sections[i].start.index <= p.index {
		return i
	}
	return NotFound
}

// Overlapping returns the inclusive index range [first, last] of the sections
// intersecting r. Both are NotFound when no section intersects r.
func (s *SparseRegion) Overlapping(r Region) (first, last int) {
	if r.IsEmpty() || r.Space() != s.space || len(s.sections) == 0 {
		return NotFound, NotFound
	}
	n := len(s.sections)
	first = sort.Search(n, func(i int) bool {
		return s.sections[i].end.index >= r.start.index
	})
	last = sort.Search(n, func(i int) bool {
		return s.sections[i].start.index > r.end.index
	}) - 1
	if first >= n || last < 0 || first > last {
		return NotFound, NotFound
	}
	return first, last
}

// Intersect returns the parts of s that lie within r.
func (s *SparseRegion) Intersect(r Region) *SparseRegion {
	first, last := s.Overlapping(r)
	if first == NotFound {
		return EmptySparse(s.space)
	}
	out := &SparseRegion{space: s.space, size: s.space.None()}
	for _, sec := range s.sections[first : last+1] {
		part := sec.Intersect(r)
		out.sections = append(out.sections, part)
		out.size = out.size.Add(part.Size())
	}
	return out
}

// Equal reports whether both SparseRegions have identical sections.
func (s *SparseRegion) Equal(o *SparseRegion) bool {
	if s.space != o.space || len(s.sections) != len(o.sections) {
		return false
	}
	for i := range s.sections {
		if !s.sections[i].Equal(o.sections[i]) {
			return false
		}
	}
	return true
}

func (s *SparseRegion) String() string {
	parts := make([]string, len(s.sections))
	for i, r := range s.sections {
		parts[i] = fmt.Sprintf("%d-%d", r.start.index, r.end.index)
	}
	return fmt.Sprintf("%s{%s}", s.space, strings.Join(parts, ","))
}

// Builder accumulates spans for a SparseRegion.
//
// NOT thread-safe.
type Builder struct {
	space *Space
	spans []Span
}

// NewBuilder creates a Builder for space.
func NewBuilder(space *Space) *Builder {
	return &Builder{space: space}
}

// Concatenate adds spans to the pending region.
func (b *Builder) Concatenate(spans ...Span) *Builder {
	b.spans = append(b.spans, spans...)
	return b
}

// Build constructs the SparseRegion from everything concatenated so far.
func (b *Builder) Build() (*SparseRegion, error) {
	return NewSparseRegion(b.space, b.spans...)
}
