// Package virtual allocates Buffers backed by paged, swappable segments.
//
// Memory.Allocate creates a Segment over a fresh paged area, sizes it with a
// Resize request and hands back a Buffer. Buffer.Get and Buffer.Set issue
// field requests against the Segment and wait for them with a fixed
// timeout; what happens when a request fails is the Buffer's FailurePolicy.
//
// Allocate and Free always report failures. A failed Allocate leaves no
// Segment behind, and Free of a Buffer the Memory does not hold fails with
// ErrNotAllocated.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/internal/metrics"
	"github.com/jtienhaara/musaico-sub031/memory/area"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/request"
	"github.com/jtienhaara/musaico-sub031/memory/security"
	"github.com/jtienhaara/musaico-sub031/memory/segment"
	"github.com/jtienhaara/musaico-sub031/memory/swap"
)

var (
	ErrNotAllocated = errors.New("virtual: buffer not allocated by this memory")
	ErrOutOfRange   = errors.New("virtual: position outside buffer")
)

const (
	DefaultRequestTimeout  = time.Second
	DefaultAllocateTimeout = time.Second
)

// Options configure a Memory. Zero values take defaults.
type Options struct {
	PageSize        int64
	MaxResident     int
	RequestTimeout  time.Duration
	AllocateTimeout time.Duration
	Policy          FailurePolicy
	Gate            security.Gate    // Default: security.AllowAll
	Listener        segment.Listener // Default: segment.Inline
	Metrics         *metrics.Metrics

	// Factory creates the Segment behind each Buffer. When nil, one is built
	// from System and the fields above.
	Factory *segment.Factory
}

// Memory allocates and frees virtual Buffers.
//
// Safe for concurrent use. Allocate and Free hold one lock for their whole
// duration.
type Memory struct {
	id      string
	sys     *swap.System
	opts    Options
	factory *segment.Factory

	mu      sync.Mutex
	buffers map[*Buffer]struct{}
}

// New creates a Memory whose segments page through sys.
func New(sys *swap.System, opts Options) (*Memory, error) {
	if sys == nil {
		return nil, fmt.Errorf("%w: nil swap system", paging.ErrInvalidArgument)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.AllocateTimeout <= 0 {
		opts.AllocateTimeout = DefaultAllocateTimeout
	}
	if opts.Gate == nil {
		opts.Gate = security.AllowAll{}
	}
	factory := opts.Factory
	if factory == nil {
		factory = &segment.Factory{
			System: sys,
			Area:   area.Options{PageSize: opts.PageSize, MaxResident: opts.MaxResident},
			Segment: segment.Options{
				Gate:     opts.Gate,
				Listener: opts.Listener,
				Metrics:  opts.Metrics,
			},
		}
	}
	return &Memory{
		id:      uuid.NewString(),
		sys:     sys,
		opts:    opts,
		factory: factory,
		buffers: make(map[*Buffer]struct{}),
	}, nil
}

// ID identifies the Memory as a security target for FlagAllocate.
func (m *Memory) ID() string { return m.id }

func (m *Memory) Space() *region.Space { return m.sys.Fields().Space() }

// Len returns the number of live Buffers.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// Buffers returns the live Buffers in no particular order.
func (m *Memory) Buffers() []*Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Buffer, 0, len(m.buffers))
	for b := range m.buffers {
		out = append(out, b)
	}
	return out
}

// Allocate creates a Buffer covering r owned by creds.
func (m *Memory) Allocate(ctx context.Context, creds security.Credentials, r region.Region) (*Buffer, error) {
	if r.IsEmpty() {
		return nil, fmt.Errorf("%w: allocate of an empty region", paging.ErrInvalidArgument)
	}
	perm := security.Permissions{Credentials: creds, Target: m.id, Flags: security.FlagAllocate}
	if err := security.Check(m.opts.Gate, perm); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seg, err := m.factory.New(creds)
	if err != nil {
		return nil, fmt.Errorf("virtual: allocate %s: %w", r, err)
	}

	rs := request.NewResize(creds, seg.ID(), m.opts.AllocateTimeout, r)
	err = seg.Request(rs)
	if err == nil {
		err = rs.Wait(ctx)
	}
	if err == nil {
		err = seg.Open(creds)
	}
	if err != nil {
		if ferr := seg.Free(context.WithoutCancel(ctx), creds); ferr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", ferr))
		}
		logger.L.Warn("allocate failed", "region", r.String(), "err", err)
		return nil, fmt.Errorf("virtual: allocate %s: %w", r, err)
	}

	b := &Buffer{
		memory:  m,
		seg:     seg,
		owner:   creds,
		region:  r,
		policy:  m.opts.Policy,
		timeout: m.opts.RequestTimeout,
	}
	m.buffers[b] = struct{}{}
	m.opts.Metrics.Allocated()
	logger.L.Debug("buffer allocated", "segment", seg.ID(), "region", r.String(), "owner", creds.String())
	return b, nil
}

// Free releases b and its Segment.
func (m *Memory) Free(ctx context.Context, creds security.Credentials, b *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeLocked(ctx, creds, b)
}

func (m *Memory) freeLocked(ctx context.Context, creds security.Credentials, b *Buffer) error {
	if _, ok := m.buffers[b]; !ok {
		return ErrNotAllocated
	}
	perm := security.Permissions{Credentials: creds, Target: b.seg.ID(), Flags: security.FlagClose | security.FlagFree}
	if err := security.Check(m.opts.Gate, perm); err != nil {
		return err
	}

	delete(m.buffers, b)
	m.opts.Metrics.Freed()

	var errs []error
	if err := b.seg.Close(creds); err != nil {
		errs = append(errs, err)
	}
	if err := b.seg.Free(ctx, creds); err != nil {
		errs = append(errs, err)
	}
	logger.L.Debug("buffer freed", "segment", b.seg.ID(), "region", b.region.String())
	return errors.Join(errs...)
}

// Close frees every live Buffer on behalf of its owner.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for b := range m.buffers {
		if err := m.freeLocked(ctx, b.owner, b); err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", b.seg.ID(), err))
		}
	}
	return errors.Join(errs...)
}
