// Package area implements paged areas: the memory behind one segment.
//
// An Area divides its Region into pages of a fixed number of Fields, keeps
// them in a paging.Table, and moves them between the swap.System's stored
// and fields states. Pages start out stored; the first access to a stored
// page faults it in. At most MaxResident pages stay resident, tracked by an
// LRU; the least recently used page is swapped out, written back first if
// dirty, when a fault would exceed the bound.
//
// Area is safe for concurrent use; one mutex serializes its operations.
package area

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/swap"
)

const (
	DefaultPageSize    = 64
	DefaultMaxResident = 128
)

var ErrFreed = errors.New("area: freed")

// Options configure an Area.
type Options struct {
	ID          string // Default: a random UUID
	PageSize    int64  // Fields per page. Default: DefaultPageSize
	MaxResident int    // Resident page bound. Default: DefaultMaxResident
}

// Area is a paged, swappable range of Fields.
type Area struct {
	id       string
	pageSize int64
	sys      *swap.System
	table    *paging.Table

	mu       sync.Mutex
	region   region.Region
	resident *lru.Cache[*swap.FieldPage, struct{}]
	evicted  []*swap.FieldPage
	freed    bool
}

// New creates an empty Area over sys.
func New(sys *swap.System, opts Options) (*Area, error) {
	if sys == nil {
		return nil, fmt.Errorf("%w: nil swap system", paging.ErrInvalidArgument)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxResident == 0 {
		opts.MaxResident = DefaultMaxResident
	}
	if opts.PageSize < 0 || opts.MaxResident < 0 {
		return nil, fmt.Errorf("%w: page size %d, max resident %d",
			paging.ErrInvalidArgument, opts.PageSize, opts.MaxResident)
	}

	table, err := paging.NewTable(sys)
	if err != nil {
		return nil, err
	}
	a := &Area{
		id:       opts.ID,
		pageSize: opts.PageSize,
		sys:      sys,
		table:    table,
		region:   table.Space().Empty(),
	}
	a.resident, err = lru.NewWithEvict(opts.MaxResident, func(fp *swap.FieldPage, _ struct{}) {
		a.evicted = append(a.evicted, fp)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ID returns the Area's identifier, used as the store key prefix.
func (a *Area) ID() string { return a.id }

// PageSize returns the number of Fields per page.
func (a *Area) PageSize() int64 { return a.pageSize }

// Space returns the Space of the Area's Positions.
func (a *Area) Space() *region.Space { return a.table.Space() }

// Table returns the page table.
func (a *Area) Table() *paging.Table { return a.table }

// System returns the swap system.
func (a *Area) System() *swap.System { return a.sys }

// Region returns the Positions the Area covers.
func (a *Area) Region() region.Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.region
}

// Resize covers r with whole pages laid out from r's start and returns the
// previous Region. Pages that stay on the new layout keep their Fields;
// pages past the new end are released. An empty r releases every page.
func (a *Area) Resize(ctx context.Context, r region.Region) (region.Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return region.Region{}, ErrFreed
	}
	space := a.table.Space()
	if !r.IsEmpty() && r.Space() != space {
		return region.Region{}, fmt.Errorf("%w: %s is not in %s", paging.ErrSpaceMismatch, r, space)
	}

	old := a.region
	layout, covered, err := a.layout(r)
	if err != nil {
		return region.Region{}, err
	}

	var drop []paging.Page
	for _, p := range a.table.All() {
		if !onLayout(p.Region(), covered, a.pageSize) {
			drop = append(drop, p)
		}
	}
	// Release errors are reported once the new layout is in place.
	releaseErr := a.release(ctx, drop)

	var fresh []paging.Page
	for _, pr := range layout {
		if _, err := a.table.Page(pr.Start()); err == nil {
			continue
		}
		sp, err := a.sys.NewStoredPage(swap.Key(a.id, pr), pr)
		if err != nil {
			return region.Region{}, err
		}
		fresh = append(fresh, sp)
	}
	if len(fresh) > 0 {
		if err := a.table.Put(fresh...); err != nil {
			return region.Region{}, err
		}
	}

	a.region = covered
	logger.L.Debug("area resized", "area", a.id, "from", old.String(), "to", covered.String(), "pages", a.table.Len())
	if releaseErr != nil {
		logger.L.Warn("resize left stored pages behind", "area", a.id, "err", releaseErr)
		return old, releaseErr
	}
	return old, nil
}

// layout returns the page Regions covering r and their union.
func (a *Area) layout(r region.Region) ([]region.Region, region.Region, error) {
	space := a.table.Space()
	if r.IsEmpty() {
		return nil, space.Empty(), nil
	}
	length := r.Size().Length()
	n := (length + a.pageSize - 1) / a.pageSize
	start := r.Start()
	end := start.Add(space.Size(n*a.pageSize - 1))
	if end.IsOutOfBounds() {
		return nil, region.Region{}, fmt.Errorf("%w: %d pages from %s leave %s",
			paging.ErrInvalidArgument, n, start, space)
	}

	pages := make([]region.Region, 0, n)
	ps := space.Size(a.pageSize)
	for p := start; !p.IsOutOfBounds() && !p.After(end); p = p.Add(ps) {
		pages = append(pages, space.Region(p, p.Add(space.Size(a.pageSize-1))))
	}
	return pages, space.Region(start, end), nil
}

// onLayout reports whether page r is one of the pages of covered.
func onLayout(r, covered region.Region, pageSize int64) bool {
	if !covered.ContainsRegion(r) || r.Size().Length() != pageSize {
		return false
	}
	return (r.Start().Index()-covered.Start().Index())%pageSize == 0
}

// release removes pages from the table and the resident set and deletes
// their stored copies.
func (a *Area) release(ctx context.Context, pages []paging.Page) error {
	if len(pages) == 0 {
		return nil
	}
	if err := a.table.Remove(pages...); err != nil {
		return err
	}
	var errs []error
	for _, p := range pages {
		if fp, ok := p.(*swap.FieldPage); ok {
			a.resident.Remove(fp)
		}
		if err := a.sys.Release(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	a.evicted = a.evicted[:0]
	return errors.Join(errs...)
}

// fault returns the resident page holding pos, swapping it in if needed.
func (a *Area) fault(ctx context.Context, pos region.Position) (*swap.FieldPage, error) {
	p, err := a.table.Page(pos)
	if err != nil {
		return nil, err
	}

	switch pg := p.(type) {
	case *swap.FieldPage:
		if _, ok := a.resident.Get(pg); !ok {
			a.resident.Add(pg, struct{}{})
			a.drain(ctx, pg)
		}
		return pg, nil
	case *swap.StoredPage:
		fp, err := a.sys.SwapIn(ctx, pg)
		if err != nil {
			return nil, err
		}
		if err := a.table.Put(fp); err != nil {
			return nil, err
		}
		a.resident.Add(fp, struct{}{})
		a.drain(ctx, fp)
		return fp, nil
	default:
		return nil, fmt.Errorf("%w: %T", swap.ErrUnknownPage, p)
	}
}

// drain swaps out the pages the LRU evicted, except keep.
//
// A page whose write-back fails stays resident and dirty; it rejoins the
// LRU on its next access.
func (a *Area) drain(ctx context.Context, keep *swap.FieldPage) {
	pending := a.evicted
	a.evicted = nil
	for _, fp := range pending {
		if fp == keep {
			continue
		}
		if cur, err := a.table.Page(fp.Region().Start()); err != nil || cur != paging.Page(fp) {
			continue
		}
		sp, err := a.sys.SwapOut(ctx, fp)
		if err == nil {
			err = a.table.Put(sp)
		}
		if err != nil {
			logger.L.Error("swap out failed", "area", a.id, "page", fp.Region().String(), "err", err)
		}
	}
}

// ReadField returns the Field at pos.
func (a *Area) ReadField(ctx context.Context, pos region.Position) (buffer.Field, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return buffer.NullField, ErrFreed
	}
	fp, err := a.fault(ctx, pos)
	if err != nil {
		return buffer.NullField, err
	}
	return fp.Get(pos), nil
}

// WriteField stores f at pos and dirties its page.
func (a *Area) WriteField(ctx context.Context, pos region.Position, f buffer.Field) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return ErrFreed
	}
	fp, err := a.fault(ctx, pos)
	if err != nil {
		return err
	}
	fp.Set(pos, f)
	return nil
}

// Read copies the Fields of from into to, starting at to's first Position.
// It returns the part of from actually read, which is empty when from lies
// outside the Area or to has no room.
//
// to is written after the Area's lock is released, so it may be a buffer
// backed by this Area.
func (a *Area) Read(ctx context.Context, from region.Region, to buffer.Buffer) (region.Region, error) {
	src, dst, fields, err := a.collect(ctx, from, to.Region())
	if err != nil {
		return region.Region{}, err
	}
	one := to.Region().Space().One()
	q := dst
	for _, f := range fields {
		to.Set(q, f)
		q = q.Add(one)
	}
	return src, nil
}

// collect returns the clipped source region, the matching start in room and
// the Fields read from the Area.
func (a *Area) collect(ctx context.Context, from, room region.Region) (region.Region, region.Position, []buffer.Field, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return region.Region{}, region.Position{}, nil, ErrFreed
	}
	src, dst := a.span(from, room)
	if src.IsEmpty() {
		return src, dst, nil, nil
	}

	fields := make([]buffer.Field, 0, src.Size().Length())
	var fp *swap.FieldPage
	one := a.table.Space().One()
	for p := src.Start(); !p.After(src.End()); p = p.Add(one) {
		if fp == nil || !fp.Region().Contains(p) {
			var err error
			if fp, err = a.fault(ctx, p); err != nil {
				return region.Region{}, region.Position{}, nil, err
			}
		}
		fields = append(fields, fp.Get(p))
	}
	return src, dst, fields, nil
}

// Write copies the Fields of from into the Area starting at to's first
// Position. It returns the part of the Area written.
//
// from is read before the Area's lock is taken, so it may be a buffer
// backed by this Area.
func (a *Area) Write(ctx context.Context, from buffer.Buffer, to region.Region) (region.Region, error) {
	fields := snapshot(from, to)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return region.Region{}, ErrFreed
	}
	dst, src := a.span(to, from.Region())
	if dst.IsEmpty() {
		return dst, nil
	}

	var fp *swap.FieldPage
	one := a.table.Space().One()
	k := from.Region().Start().Distance(src).Length()
	for p := dst.Start(); !p.After(dst.End()); p, k = p.Add(one), k+1 {
		if fp == nil || !fp.Region().Contains(p) {
			var err error
			if fp, err = a.fault(ctx, p); err != nil {
				return region.Region{}, err
			}
		}
		fp.Set(p, fields[k])
	}
	return dst, nil
}

// snapshot copies the leading Fields of from that a write to r can use.
func snapshot(from buffer.Buffer, r region.Region) []buffer.Field {
	fr := from.Region()
	if r.IsEmpty() || fr.IsEmpty() {
		return nil
	}
	n := min(r.Size().Length(), fr.Size().Length())
	out := make([]buffer.Field, 0, n)
	one := fr.Space().One()
	for q := fr.Start(); int64(len(out)) < n && !q.IsOutOfBounds() && !q.After(fr.End()); q = q.Add(one) {
		out = append(out, from.Get(q))
	}
	return out
}

// span clips r to the Area and to the room in other. It returns the clipped
// part of r and the Position in other matching its start.
func (a *Area) span(r, other region.Region) (region.Region, region.Position) {
	space := a.table.Space()
	clip := a.region.Intersect(r)
	if clip.IsEmpty() || other.IsEmpty() {
		return space.Empty(), region.Position{}
	}
	skip := r.Start().Distance(clip.Start())
	q := other.Start().Add(other.Space().FromSize(skip))
	if q.IsOutOfBounds() || !other.Contains(q) {
		return space.Empty(), region.Position{}
	}
	room := q.Distance(other.End()).Length() + 1
	n := min(clip.Size().Length(), room)
	return space.Region(clip.Start(), clip.Start().Add(space.Size(n-1))), q
}

// Sync writes every dirty resident page back to the store.
func (a *Area) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return ErrFreed
	}
	if err := a.table.CleanAll(ctx, a.region, a.sys.Fields()); err != nil {
		return err
	}
	if s, ok := a.sys.Store().(interface{ Sync(context.Context) error }); ok {
		return s.Sync(ctx)
	}
	return nil
}

// Free releases every page. Any later operation fails with ErrFreed.
func (a *Area) Free(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return ErrFreed
	}
	a.freed = true
	err := a.release(ctx, a.table.All())
	a.resident.Purge()
	a.evicted = nil
	a.region = a.table.Space().Empty()
	return err
}

// Stats summarize an Area's pages.
type Stats struct {
	Pages    int
	Resident int
	Dirty    int64 // Positions covered by dirty pages
}

// Stats returns the current page counts.
func (a *Area) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Pages: a.table.Len(), Resident: a.resident.Len()}
	if d, err := a.table.DirtyRegion(a.region, a.sys.Fields()); err == nil {
		st.Dirty = d.Size().Length()
	}
	return st
}
