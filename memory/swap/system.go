package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jtienhaara/musaico-sub031/internal/fieldcodec"
	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/internal/metrics"
	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
)

// State is a SwapState of a System.
type State struct {
	name  string
	space *region.Space
}

var _ paging.SwapState = (*State)(nil)

func (s *State) Name() string         { return s.name }
func (s *State) Space() *region.Space { return s.space }
func (s *State) String() string       { return s.name }

// Option configures a System.
type Option func(*System)

// WithCompression snappy-compresses page bodies written to the store.
func WithCompression(on bool) Option {
	return func(s *System) { s.codec.Compress = on }
}

// WithMetrics records swap-ins, swap-outs and write-backs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

// System is the swap system and KernelPaging authority for pages of one
// Space.
//
// Safe for concurrent use. It never calls back into a page table, so tables
// may call it while holding their own lock.
type System struct {
	fields  *State
	stored  *State
	store   Store
	codec   fieldcodec.Options
	metrics *metrics.Metrics

	mu    sync.Mutex
	dirty map[*FieldPage]struct{}
}

var (
	_ paging.SwapSystem   = (*System)(nil)
	_ paging.KernelPaging = (*System)(nil)
)

// NewSystem creates a System for space backed by store.
func NewSystem(space *region.Space, store Store, opts ...Option) (*System, error) {
	if space == nil {
		return nil, fmt.Errorf("%w: nil space", paging.ErrInvalidArgument)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", paging.ErrInvalidArgument)
	}
	s := &System{
		fields: &State{name: "fields", space: space},
		stored: &State{name: "stored", space: space},
		store:  store,
		dirty:  make(map[*FieldPage]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SwapStates returns the fields and stored states, in that order.
func (s *System) SwapStates() []paging.SwapState {
	return []paging.SwapState{s.fields, s.stored}
}

// Fields returns the state of resident pages.
func (s *System) Fields() *State { return s.fields }

// Stored returns the state of pages held by the Store.
func (s *System) Stored() *State { return s.stored }

// Store returns the backing store.
func (s *System) Store() Store { return s.store }

// NewFieldPage creates a clean resident page of NullFields covering r.
func (s *System) NewFieldPage(key string, r region.Region) (*FieldPage, error) {
	if r.IsEmpty() || r.Space() != s.fields.space {
		return nil, fmt.Errorf("%w: page region %s", paging.ErrInvalidArgument, r)
	}
	return &FieldPage{sys: s, key: key, fields: buffer.NewFields(r)}, nil
}

// NewStoredPage creates a placeholder for r whose Fields are fetched from
// the store on SwapIn. Nothing is written until the page is dirtied.
func (s *System) NewStoredPage(key string, r region.Region) (*StoredPage, error) {
	if r.IsEmpty() || r.Space() != s.stored.space {
		return nil, fmt.Errorf("%w: page region %s", paging.ErrInvalidArgument, r)
	}
	return &StoredPage{sys: s, key: key, region: r}, nil
}

// IsDirty reports whether p was written since it was last cleaned.
func (s *System) IsDirty(p paging.Page) bool {
	fp, ok := p.(*FieldPage)
	if !ok || fp.sys != s {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, dirty := s.dirty[fp]
	return dirty
}

// Dirty marks a resident page as modified. Stored pages cannot be dirty.
func (s *System) Dirty(p paging.Page) error {
	fp, err := s.own(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty[fp] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Clean writes a dirty resident page back to the store. Clean pages and
// stored pages need nothing.
func (s *System) Clean(ctx context.Context, p paging.Page) error {
	if sp, ok := p.(*StoredPage); ok && sp.sys == s {
		return nil
	}
	fp, err := s.own(p)
	if err != nil {
		return err
	}

	// Clear the flag before the snapshot so a concurrent Set re-dirties.
	s.mu.Lock()
	_, dirty := s.dirty[fp]
	delete(s.dirty, fp)
	s.mu.Unlock()
	if !dirty {
		return nil
	}

	if err := s.writeBack(ctx, fp); err != nil {
		s.mu.Lock()
		s.dirty[fp] = struct{}{}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *System) writeBack(ctx context.Context, fp *FieldPage) error {
	data, err := fieldcodec.Encode(fp.fields.Snapshot(), s.codec)
	if err != nil {
		return fmt.Errorf("swap: encode %s: %w", fp.key, err)
	}
	if err := s.store.Save(ctx, fp.key, data); err != nil {
		return fmt.Errorf("swap: write back %s: %w", fp.key, err)
	}
	s.metrics.WriteBack()
	logger.L.Debug("page written back", "key", fp.key, "region", fp.Region().String(), "bytes", len(data))
	return nil
}

// SwapOut cleans fp and returns the StoredPage that replaces it.
func (s *System) SwapOut(ctx context.Context, fp *FieldPage) (*StoredPage, error) {
	if err := s.Clean(ctx, fp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.dirty, fp)
	s.mu.Unlock()

	s.metrics.SwapOut()
	logger.L.Debug("page swapped out", "key", fp.key, "region", fp.Region().String())
	return &StoredPage{sys: s, key: fp.key, region: fp.Region()}, nil
}

// SwapIn loads sp from the store into a clean resident page. A page that
// was never written back comes in as NullFields.
func (s *System) SwapIn(ctx context.Context, sp *StoredPage) (*FieldPage, error) {
	if sp == nil || sp.sys != s {
		return nil, ErrUnknownPage
	}
	fp := &FieldPage{sys: s, key: sp.key, fields: buffer.NewFields(sp.region)}

	data, err := s.store.Load(ctx, sp.key)
	switch {
	case errors.Is(err, ErrNotStored):
	case err != nil:
		return nil, fmt.Errorf("swap: load %s: %w", sp.key, err)
	default:
		decoded, err := fieldcodec.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("swap: decode %s: %w", sp.key, err)
		}
		fp.fields.Load(decoded)
	}

	s.metrics.PageFault()
	logger.L.Debug("page swapped in", "key", sp.key, "region", sp.region.String())
	return fp, nil
}

// Release forgets p and deletes its stored copy.
func (s *System) Release(ctx context.Context, p paging.Page) error {
	var key string
	switch pg := p.(type) {
	case *FieldPage:
		if pg.sys != s {
			return ErrUnknownPage
		}
		s.mu.Lock()
		delete(s.dirty, pg)
		s.mu.Unlock()
		key = pg.key
	case *StoredPage:
		if pg.sys != s {
			return ErrUnknownPage
		}
		key = pg.key
	default:
		return ErrUnknownPage
	}
	return s.store.Delete(ctx, key)
}

func (s *System) own(p paging.Page) (*FieldPage, error) {
	fp, ok := p.(*FieldPage)
	if !ok || fp == nil || fp.sys != s {
		return nil, fmt.Errorf("%w: %T", ErrUnknownPage, p)
	}
	return fp, nil
}
