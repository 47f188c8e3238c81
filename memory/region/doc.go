// Package region provides the coordinate algebra used by the memory stack.
//
// # Overview
//
// A Space is a coordinate system: it hands out Positions, Sizes and Regions,
// knows its origin, its min/max bounds and an out-of-bounds sentinel, and
// orders its Positions. Spaces are immutable and are usually package-level
// singletons such as Array.
//
// All arithmetic is total. Adding a Size to a Position that would leave the
// Space (or overflow int64) yields the Space's out-of-bounds Position rather
// than panicking or returning an error:
//
//	p := region.Array.Position(10)
//	q := p.Add(region.Array.Size(5))   // array[15]
//	r := p.Subtract(region.Array.Size(11)) // out of bounds
//
// # Regions and Spans
//
// Region is an inclusive [start, end] range. SparseRegion is an ordered union
// of disjoint Regions ("sections") with gaps between them. Both satisfy Span,
// so code that only needs Contains/Search/Region(i) works with either.
//
// SparseRegion construction flattens nested sparse inputs, sorts the
// sections by start and merges overlapping or contained sections. Adjacent
// sections ([0,9] and [10,19]) are NOT merged, which keeps one section per
// page when a page table builds its region view.
//
// # Cross-space conversion
//
// Spaces of the same Kind convert into one another by translating through
// their origins and scaling by their unit. Converting from a Space of a
// different Kind yields out-of-bounds (or an invalid Size) instead of an
// error.
//
// # Thread Safety
//
// Every type in this package is an immutable value and safe to share.
package region
