// Package dirty tracks modified byte ranges of a mapped store file and
// flushes them to disk.
//
// Ranges are recorded cheaply with Add and only page-aligned, sorted and
// merged when Flush runs, so a store can mark every slot write without
// paying for a sync each time.
package dirty

import (
	"context"
	"slices"
)

const (
	defaultRangeCapacity = 64
	standardPageSize     = 4096
)

// Mapping is the mapped file a Tracker flushes.
type Mapping interface {
	Bytes() []byte
	FD() int
}

// Range is a dirty byte range of the mapping.
type Range struct {
	Off int64
	Len int64
}

// Tracker accumulates dirty ranges and flushes them.
//
// NOT thread-safe. The owning store serializes access.
type Tracker struct {
	m        Mapping
	ranges   []Range
	pageSize int64
}

// NewTracker creates a Tracker for m.
func NewTracker(m Mapping) *Tracker {
	return &Tracker{
		m:        m,
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: standardPageSize,
	}
}

// Add records length bytes at off as dirty.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: int64(off), Len: int64(length)})
}

// Pending reports whether any ranges await a flush.
func (t *Tracker) Pending() bool { return len(t.ranges) > 0 }

// Flush syncs every dirty range and then the file descriptor, and clears the
// tracker. On failure the ranges are kept for the next attempt.
func (t *Tracker) Flush(ctx context.Context) error {
	if len(t.ranges) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := t.m.Bytes()
	if len(data) == 0 {
		t.ranges = t.ranges[:0]
		return nil
	}
	if err := t.flushRanges(ctx, data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fdatasync(t.m); err != nil {
		return err
	}

	t.ranges = t.ranges[:0]
	return nil
}

// Reset drops all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Coalesced returns the page-aligned, sorted and merged ranges Flush would
// sync.
func (t *Tracker) Coalesced() []Range {
	return t.coalesce()
}

func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize
		end := r.Off + r.Len
		if end%t.pageSize != 0 {
			end = (end/t.pageSize + 1) * t.pageSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	slices.SortFunc(aligned, func(a, b Range) int {
		switch {
		case a.Off < b.Off:
			return -1
		case a.Off > b.Off:
			return 1
		default:
			return 0
		}
	})

	// Adjacent ranges merge here, unlike memory regions: one msync is cheaper
	// than two.
	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			end := max(current.Off+current.Len, next.Off+next.Len)
			current.Len = end - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// clip bounds r to a mapping of n bytes.
func clip(r Range, n int) (start, end int, ok bool) {
	start = int(r.Off)
	end = int(r.Off + r.Len)
	if start >= n {
		return 0, 0, false
	}
	return start, min(end, n), true
}
