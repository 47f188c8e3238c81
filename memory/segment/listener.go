package segment

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/memory/request"
)

var ErrDispatcherStopped = errors.New("segment: dispatcher stopped")

// Inline services each request in the goroutine that submitted it.
type Inline struct{}

func (Inline) Notify(s *Segment, _ request.Request) {
	s.HandleOneRequest(context.Background())
}

// Dispatcher services requests on a fixed pool of worker goroutines.
//
// Notify blocks while the queue is full, but no longer than the request's
// deadline; a request still waiting for a worker then is withdrawn and fails
// with request.ErrTimeout. Requests notified after Stop fail with
// ErrDispatcherStopped.
type Dispatcher struct {
	workers int
	ch      chan *Segment

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	cancel    context.CancelFunc
	g         *errgroup.Group
}

// NewDispatcher creates a Dispatcher with workers goroutines and room for
// depth pending notifications.
func NewDispatcher(workers, depth int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	return &Dispatcher{
		workers: workers,
		ch:      make(chan *Segment, depth),
		stopped: make(chan struct{}),
	}
}

// Start launches the workers. They run until ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		ctx, d.cancel = context.WithCancel(ctx)
		d.g, ctx = errgroup.WithContext(ctx)
		for range d.workers {
			d.g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case s := <-d.ch:
						s.HandleOneRequest(ctx)
					}
				}
			})
		}
		logger.L.Debug("dispatcher started", "workers", d.workers)
	})
}

// Notify queues s for a worker.
func (d *Dispatcher) Notify(s *Segment, req request.Request) {
	select {
	case <-d.stopped:
		s.failPending(ErrDispatcherStopped)
		return
	default:
	}

	timer := time.NewTimer(time.Until(req.Deadline()))
	defer timer.Stop()
	select {
	case d.ch <- s:
	case <-d.stopped:
		s.failPending(ErrDispatcherStopped)
	case <-req.Done():
		s.withdraw(req)
	case <-timer.C:
		if s.expire(req) {
			logger.L.Debug("request expired waiting for a worker", "segment", s.ID(), "request", req.ID())
		}
	}
}

// Stop cancels the workers, waits for them to exit and fails every request
// still waiting for a worker.
func (d *Dispatcher) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		close(d.stopped)
		if d.cancel != nil {
			d.cancel()
			err = d.g.Wait()
		}
		for {
			select {
			case s := <-d.ch:
				s.failPending(ErrDispatcherStopped)
			default:
				logger.L.Debug("dispatcher stopped")
				return
			}
		}
	})
	return err
}
