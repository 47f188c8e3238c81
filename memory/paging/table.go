package paging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/jtienhaara/musaico-sub031/memory/region"
)

// Table is the page table of one paged area.
type Table struct {
	mu     sync.RWMutex
	swap   SwapSystem
	space  *region.Space
	pages  []Page
	region *region.SparseRegion
}

// NewTable creates an empty Table for the Space shared by every SwapState of
// swap.
func NewTable(swap SwapSystem) (*Table, error) {
	if swap == nil {
		return nil, fmt.Errorf("%w: nil swap system", ErrInvalidArgument)
	}
	states := swap.SwapStates()
	if len(states) == 0 {
		return nil, ErrNoSwapStates
	}

	var space *region.Space
	for i, st := range states {
		if st == nil || st.Space() == nil {
			return nil, fmt.Errorf("%w: swap state %d is nil or has no space", ErrInvalidArgument, i)
		}
		if space == nil {
			space = st.Space()
			continue
		}
		if st.Space() != space {
			return nil, fmt.Errorf("%w: swap state %q is in %s, want %s",
				ErrSpaceMismatch, st.Name(), st.Space(), space)
		}
	}

	return &Table{
		swap:   swap,
		space:  space,
		region: region.EmptySparse(space),
	}, nil
}

// Space returns the Space of every Page in the table.
func (t *Table) Space() *region.Space { return t.space }

// SwapSystem returns the swap system the table was built for.
func (t *Table) SwapSystem() SwapSystem { return t.swap }

// Region returns the union of the Pages' Regions.
func (t *Table) Region() *region.SparseRegion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.region
}

// Len returns the number of Pages.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pages)
}

// Put inserts pages, replacing every stored Page that intersects one of them.
//
// The table is unchanged when Put fails.
func (t *Table) Put(pages ...Page) error {
	if err := t.validate(pages); err != nil {
		return err
	}

	incoming := slices.Clone(pages)
	slices.SortFunc(incoming, func(a, b Page) int {
		return a.Region().Start().Compare(b.Region().Start())
	})
	for i := 1; i < len(incoming); i++ {
		if incoming[i-1].Region().Overlaps(incoming[i].Region()) {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingPages,
				incoming[i-1].Region(), incoming[i].Region())
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var replaced []Page
	for _, p := range incoming {
		for _, old := range t.pagesLocked(p.Region()) {
			if !slices.Contains(replaced, old) {
				replaced = append(replaced, old)
			}
		}
	}

	next := slices.Clone(t.pages)
	for _, p := range incoming {
		next = insertSorted(next, p)
	}

	for _, old := range replaced {
		i := slices.Index(next, old)
		if i < 0 {
			return fmt.Errorf("%w: replaced page %s vanished during put", ErrInconsistent, old.Region())
		}
		next = slices.Delete(next, i, i+1)
	}

	sr, err := regionOf(t.space, next)
	if err != nil {
		return err
	}
	if sr.NumRegions() != len(next) {
		return fmt.Errorf("%w: %d pages but %d sections", ErrInconsistent, len(next), sr.NumRegions())
	}

	t.pages = next
	t.region = sr
	return nil
}

// insertSorted places p before the first Page that starts after it.
func insertSorted(pages []Page, p Page) []Page {
	start := p.Region().Start()
	n := len(pages)
	switch {
	case n == 0:
		return append(pages, p)
	case p.Region().End().Before(pages[0].Region().Start()):
		return slices.Insert(pages, 0, p)
	case start.After(pages[n-1].Region().End()):
		return append(pages, p)
	}
	i := sort.Search(n, func(i int) bool {
		return pages[i].Region().Start().After(start)
	})
	return slices.Insert(pages, i, p)
}

func (t *Table) validate(pages []Page) error {
	if len(pages) == 0 {
		return fmt.Errorf("%w: no pages", ErrInvalidArgument)
	}
	for i, p := range pages {
		if p == nil {
			return fmt.Errorf("%w: page %d is nil", ErrInvalidArgument, i)
		}
		r := p.Region()
		if r.IsEmpty() {
			return fmt.Errorf("%w: page %d has an empty region", ErrInvalidArgument, i)
		}
		if r.Space() != t.space {
			return fmt.Errorf("%w: page %s is not in %s", ErrSpaceMismatch, r, t.space)
		}
	}
	return nil
}

// Remove deletes pages from the table. It fails without changing anything
// if any of them is not present.
func (t *Table) Remove(pages ...Page) error {
	if len(pages) == 0 {
		return fmt.Errorf("%w: no pages", ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := slices.Clone(t.pages)
	for _, p := range pages {
		i := slices.Index(next, p)
		if i < 0 {
			desc := "<nil>"
			if p != nil {
				desc = p.Region().String()
			}
			return fmt.Errorf("%w: %s", ErrPageNotPresent, desc)
		}
		next = slices.Delete(next, i, i+1)
	}

	sr, err := regionOf(t.space, next)
	if err != nil {
		return err
	}
	t.pages = next
	t.region = sr
	return nil
}

// Page returns the Page containing p.
func (t *Table) Page(p region.Position) (Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := t.region.Search(p)
	if i < 0 || i >= len(t.pages) {
		return nil, fmt.Errorf("%w: %s", ErrNoPage, p)
	}
	return t.pages[i], nil
}

// Pages returns, in order, every Page intersecting r. The result is empty
// when r lies in a gap or outside the table.
func (t *Table) Pages(r region.Region) []Page {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pagesLocked(r)
}

func (t *Table) pagesLocked(r region.Region) []Page {
	first, last := t.region.Overlapping(r)
	if first == region.NotFound || last >= len(t.pages) {
		return []Page{}
	}
	out := make([]Page, 0, last-first+1)
	for i := first; i <= last; i++ {
		out = append(out, t.pages[i])
	}
	return out
}

// All returns every Page in order.
func (t *Table) All() []Page {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.pages)
}

// CleanRegion returns the parts of r covered by clean Pages in one of states.
func (t *Table) CleanRegion(r region.Region, states ...SwapState) (*region.SparseRegion, error) {
	return t.filter(r, false, states)
}

// DirtyRegion returns the parts of r covered by dirty Pages in one of states.
func (t *Table) DirtyRegion(r region.Region, states ...SwapState) (*region.SparseRegion, error) {
	return t.filter(r, true, states)
}

func (t *Table) filter(r region.Region, dirty bool, states []SwapState) (*region.SparseRegion, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: no swap states", ErrInvalidArgument)
	}
	if !r.IsEmpty() && r.Space() != t.space {
		return nil, fmt.Errorf("%w: %s is not in %s", ErrSpaceMismatch, r, t.space)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var spans []region.Span
	for _, p := range t.pagesLocked(r) {
		if !HasState(p.SwapState(), states...) || p.Paging().IsDirty(p) != dirty {
			continue
		}
		spans = append(spans, p.Region().Intersect(r))
	}
	return region.NewSparseRegion(t.space, spans...)
}

// CleanAll asks each dirty Page intersecting r, in one of states, to be
// cleaned by its KernelPaging. Every failure is reported.
func (t *Table) CleanAll(ctx context.Context, r region.Region, states ...SwapState) error {
	return t.each(r, true, states, func(p Page) error {
		return p.Paging().Clean(ctx, p)
	})
}

// DirtyAll marks each clean Page intersecting r, in one of states, dirty.
func (t *Table) DirtyAll(r region.Region, states ...SwapState) error {
	return t.each(r, false, states, func(p Page) error {
		return p.Paging().Dirty(p)
	})
}

func (t *Table) each(r region.Region, dirty bool, states []SwapState, fn func(Page) error) error {
	if len(states) == 0 {
		return fmt.Errorf("%w: no swap states", ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, p := range t.pagesLocked(r) {
		if !HasState(p.SwapState(), states...) || p.Paging().IsDirty(p) != dirty {
			continue
		}
		if err := fn(p); err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", p.Region(), err))
		}
	}
	return errors.Join(errs...)
}

func regionOf(space *region.Space, pages []Page) (*region.SparseRegion, error) {
	spans := make([]region.Span, len(pages))
	for i, p := range pages {
		spans[i] = p.Region()
	}
	sr, err := region.NewSparseRegion(space, spans...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInconsistent, err)
	}
	return sr, nil
}
