// Package segment provides Segments: named, access-controlled memory ranges
// that service memory requests against one paged area.
//
// # Requests
//
// Request queues a memory request and notifies the Segment's Listener. The
// Listener decides where the request is serviced: Inline services it in the
// submitting goroutine, Dispatcher hands it to background workers. Either
// way HandleOneRequest runs the same steps:
//
//  1. A request already past its deadline fails with request.ErrTimeout.
//  2. The Gate is asked for the permission the request kind needs; a denial
//     fails the request before any page is touched.
//  3. The request is applied to the area under a context bounded by the
//     request's deadline, and completed with the result.
//
// # Lifecycle
//
// Open and Close maintain a reference count. Free releases the area and
// fails every queued request; later requests fail with ErrSegmentFreed.
package segment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/internal/metrics"
	"github.com/jtienhaara/musaico-sub031/memory/area"
	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/request"
	"github.com/jtienhaara/musaico-sub031/memory/security"
	"github.com/jtienhaara/musaico-sub031/memory/swap"
)

var (
	ErrSegmentFreed   = errors.New("segment: freed")
	ErrAlreadyClosed  = errors.New("segment: already closed")
	ErrUnknownRequest = errors.New("segment: unknown request type")
)

// Listener is told when a Segment has queued req. Notify must not block
// past req's deadline.
type Listener interface {
	Notify(s *Segment, req request.Request)
}

// Options configure a Segment.
type Options struct {
	Name     string
	Gate     security.Gate    // Default: security.AllowAll
	Listener Listener         // Default: Inline
	Metrics  *metrics.Metrics // Optional
}

// Segment services memory requests against one area.
type Segment struct {
	id       string
	name     string
	owner    security.Credentials
	area     *area.Area
	gate     security.Gate
	listener Listener
	metrics  *metrics.Metrics
	refs     buffer.RefCount

	mu    sync.Mutex
	queue []request.Request
	freed bool
}

// New creates a Segment over a, identified by a's ID.
func New(a *area.Area, owner security.Credentials, opts Options) *Segment {
	if opts.Gate == nil {
		opts.Gate = security.AllowAll{}
	}
	if opts.Listener == nil {
		opts.Listener = Inline{}
	}
	if opts.Name == "" {
		opts.Name = a.ID()
	}
	return &Segment{
		id:       a.ID(),
		name:     opts.Name,
		owner:    owner,
		area:     a,
		gate:     opts.Gate,
		listener: opts.Listener,
		metrics:  opts.Metrics,
	}
}

func (s *Segment) ID() string                  { return s.id }
func (s *Segment) Name() string                { return s.name }
func (s *Segment) Owner() security.Credentials { return s.owner }
func (s *Segment) Area() *area.Area            { return s.area }
func (s *Segment) Space() *region.Space        { return s.area.Space() }
func (s *Segment) Region() region.Region       { return s.area.Region() }
func (s *Segment) References() int64           { return s.refs.Count() }

// Pending returns the number of queued requests.
func (s *Segment) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Request queues req and notifies the Listener. A request that cannot be
// queued is failed as well as reported.
func (s *Segment) Request(req request.Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", request.ErrInvalidRequest)
	}
	if req.SegmentID() != s.id {
		err := fmt.Errorf("%w: request for segment %q sent to %q", request.ErrInvalidRequest, req.SegmentID(), s.id)
		req.Fail(err)
		return err
	}

	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		req.Fail(ErrSegmentFreed)
		return ErrSegmentFreed
	}
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	s.listener.Notify(s, req)
	return nil
}

// HandleOneRequest services the oldest queued request. It reports whether
// there was one.
func (s *Segment) HandleOneRequest(ctx context.Context) bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	req := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.mu.Unlock()

	s.handle(ctx, req)
	return true
}

// HandleAll services queued requests until none remain and returns how many
// it handled.
func (s *Segment) HandleAll(ctx context.Context) int {
	n := 0
	for s.HandleOneRequest(ctx) {
		n++
	}
	return n
}

func (s *Segment) handle(ctx context.Context, req request.Request) {
	kind := req.Kind().String()
	outcome := metrics.OutcomeOK
	defer func() {
		s.metrics.Request(kind, outcome, time.Since(req.Created()))
	}()

	if !time.Now().Before(req.Deadline()) {
		outcome = metrics.OutcomeTimeout
		req.Fail(fmt.Errorf("%w: %s request %s expired before it was handled", request.ErrTimeout, kind, req.ID()))
		return
	}

	perm := security.Permissions{Credentials: req.Credentials(), Target: s.id, Flags: flagFor(req.Kind())}
	if err := security.Check(s.gate, perm); err != nil {
		outcome = metrics.OutcomeDenied
		logger.L.Warn("request denied", "segment", s.id, "kind", kind, "credentials", req.Credentials().String())
		req.Fail(err)
		return
	}

	ctx, cancel := context.WithDeadline(ctx, req.Deadline())
	defer cancel()

	if err := s.apply(ctx, req); err != nil {
		outcome = metrics.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
			err = fmt.Errorf("%w: %w", request.ErrTimeout, err)
		}
		logger.L.Debug("request failed", "segment", s.id, "kind", kind, "err", err)
		req.Fail(err)
	}
}

func (s *Segment) apply(ctx context.Context, req request.Request) error {
	switch r := req.(type) {
	case *request.ReadField:
		f, err := s.area.ReadField(ctx, r.Position)
		if err != nil {
			return err
		}
		r.Succeed(f)
	case *request.WriteField:
		if err := s.area.WriteField(ctx, r.Position, r.Field); err != nil {
			return err
		}
		r.Succeed()
	case *request.Read:
		if r.To == nil {
			return fmt.Errorf("%w: read without a destination buffer", request.ErrInvalidRequest)
		}
		affected, err := s.area.Read(ctx, r.From, r.To)
		if err != nil {
			return err
		}
		r.Succeed(affected)
	case *request.Write:
		if r.From == nil {
			return fmt.Errorf("%w: write without a source buffer", request.ErrInvalidRequest)
		}
		affected, err := s.area.Write(ctx, r.From, r.To)
		if err != nil {
			return err
		}
		r.Succeed(affected)
	case *request.Resize:
		if _, err := s.area.Resize(ctx, r.Region); err != nil {
			return err
		}
		r.Succeed()
	default:
		return fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
	return nil
}

func flagFor(k request.Kind) security.Flag {
	switch k {
	case request.KindReadField, request.KindRead:
		return security.FlagRead
	case request.KindWriteField, request.KindWrite:
		return security.FlagWrite
	case request.KindResize:
		return security.FlagResize
	default:
		return security.FlagAll
	}
}

// Open takes a reference on behalf of creds.
func (s *Segment) Open(creds security.Credentials) error {
	if err := s.check(creds, security.FlagOpen); err != nil {
		return err
	}
	s.refs.Increment()
	return nil
}

// Close drops a reference taken by Open.
func (s *Segment) Close(creds security.Credentials) error {
	if err := s.check(creds, security.FlagClose); err != nil {
		return err
	}
	if s.refs.Decrement() < 0 {
		s.refs.Increment()
		return ErrAlreadyClosed
	}
	return nil
}

// Sync writes dirty pages back to the store.
func (s *Segment) Sync(ctx context.Context, creds security.Credentials) error {
	if err := s.check(creds, security.FlagWrite); err != nil {
		return err
	}
	return s.area.Sync(ctx)
}

// Free releases the area and fails every queued request.
func (s *Segment) Free(ctx context.Context, creds security.Credentials) error {
	if err := s.check(creds, security.FlagFree); err != nil {
		return err
	}

	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		return ErrSegmentFreed
	}
	s.freed = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, req := range queued {
		req.Fail(ErrSegmentFreed)
	}
	if refs := s.refs.Count(); refs > 0 {
		logger.L.Warn("segment freed while open", "segment", s.id, "references", refs)
	}
	return s.area.Free(ctx)
}

// expire takes req off the queue and fails it with request.ErrTimeout. It
// reports false when req was no longer queued.
func (s *Segment) expire(req request.Request) bool {
	if !s.withdraw(req) {
		return false
	}
	kind := req.Kind().String()
	req.Fail(fmt.Errorf("%w: %s request %s was not picked up in time", request.ErrTimeout, kind, req.ID()))
	s.metrics.Request(kind, metrics.OutcomeTimeout, time.Since(req.Created()))
	return true
}

// withdraw removes req from the queue and reports whether it was there.
func (s *Segment) withdraw(req request.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.queue, req)
	if i < 0 {
		return false
	}
	s.queue = slices.Delete(s.queue, i, i+1)
	return true
}

// failPending fails every queued request with err.
func (s *Segment) failPending(err error) {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, req := range queued {
		req.Fail(err)
	}
}

func (s *Segment) check(creds security.Credentials, flag security.Flag) error {
	s.mu.Lock()
	freed := s.freed
	s.mu.Unlock()
	if freed {
		return ErrSegmentFreed
	}
	return security.Check(s.gate, security.Permissions{Credentials: creds, Target: s.id, Flags: flag})
}

// Factory creates Segments over fresh paged areas of one swap system.
type Factory struct {
	System  *swap.System
	Area    area.Options // ID is ignored; every area gets a new one
	Segment Options
}

// New creates an empty Segment owned by owner.
func (f *Factory) New(owner security.Credentials) (*Segment, error) {
	opts := f.Area
	opts.ID = ""
	a, err := area.New(f.System, opts)
	if err != nil {
		return nil, err
	}
	return New(a, owner, f.Segment), nil
}
