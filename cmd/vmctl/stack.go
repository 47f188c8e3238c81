package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jtienhaara/musaico-sub031/internal/config"
	"github.com/jtienhaara/musaico-sub031/internal/metrics"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/segment"
	"github.com/jtienhaara/musaico-sub031/memory/swap"
	"github.com/jtienhaara/musaico-sub031/memory/virtual"
)

const initialSlots = 16

// stack is the memory stack built from a Config.
type stack struct {
	store      swap.Store
	sys        *swap.System
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	dispatcher *segment.Dispatcher
	memory     *virtual.Memory
}

func openStore(c config.Config) (swap.Store, error) {
	switch c.Store.Kind {
	case config.StoreMemory:
		return swap.NewMemoryStore(), nil
	case config.StoreBolt:
		return swap.OpenBoltStore(c.Store.Path)
	case config.StoreMapped:
		return swap.OpenMappedStore(c.Store.Path, int(c.Store.SlotSize.Bytes()), initialSlots)
	default:
		return nil, fmt.Errorf("%w: unknown store.kind %q", config.ErrInvalid, c.Store.Kind)
	}
}

// newStack opens the store and wires the swap system, metrics and
// allocator. Workers > 0 services requests on a Dispatcher.
func newStack(ctx context.Context, c config.Config) (*stack, error) {
	policy, err := virtual.ParsePolicy(c.FailurePolicy)
	if err != nil {
		return nil, err
	}
	store, err := openStore(c)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.Store.Kind, err)
	}

	s := &stack{store: store, registry: prometheus.NewRegistry()}
	s.metrics = metrics.New(s.registry)

	s.sys, err = swap.NewSystem(region.Array, store,
		swap.WithCompression(c.Store.Compress), swap.WithMetrics(s.metrics))
	if err != nil {
		store.Close()
		return nil, err
	}

	var listener segment.Listener
	if c.Workers > 0 {
		s.dispatcher = segment.NewDispatcher(c.Workers, c.Workers*4)
		s.dispatcher.Start(ctx)
		listener = s.dispatcher
	}

	s.memory, err = virtual.New(s.sys, virtual.Options{
		PageSize:        c.PageSize,
		MaxResident:     c.MaxResidentPages,
		RequestTimeout:  c.RequestTimeout,
		AllocateTimeout: c.AllocateTimeout,
		Policy:          policy,
		Listener:        listener,
		Metrics:         s.metrics,
	})
	if err != nil {
		return nil, errors.Join(err, s.Close(ctx))
	}
	return s, nil
}

// Close frees every live buffer, stops the workers and closes the store.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	if s.memory != nil {
		errs = append(errs, s.memory.Close(ctx))
	}
	if s.dispatcher != nil {
		errs = append(errs, s.dispatcher.Stop())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// counters returns every counter and gauge value in the registry, keyed by
// metric name plus labels.
func (s *stack) counters() (map[string]float64, error) {
	families, err := s.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%s}", l.GetName(), l.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[name+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
