// Package physical allocates Buffers whose Fields are always resident.
//
// It keeps the allocate and free contract of package virtual without paging:
// each Buffer is a buffer.Fields owned by the allocating Credentials.
package physical

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/internal/metrics"
	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/security"
)

var ErrNotAllocated = errors.New("physical: buffer not allocated by this memory")

// Options configure a Memory.
type Options struct {
	Gate    security.Gate // Default: security.AllowAll
	Metrics *metrics.Metrics
}

// Buffer is a resident buffer.Fields with an owner.
type Buffer struct {
	*buffer.Fields
	owner security.Credentials
}

func (b *Buffer) Owner() security.Credentials { return b.owner }

// Memory allocates and frees resident Buffers. Safe for concurrent use.
type Memory struct {
	id      string
	gate    security.Gate
	metrics *metrics.Metrics

	mu      sync.Mutex
	buffers map[*Buffer]struct{}
}

func New(opts Options) *Memory {
	if opts.Gate == nil {
		opts.Gate = security.AllowAll{}
	}
	return &Memory{
		id:      uuid.NewString(),
		gate:    opts.Gate,
		metrics: opts.Metrics,
		buffers: make(map[*Buffer]struct{}),
	}
}

func (m *Memory) ID() string { return m.id }

// Len returns the number of live Buffers.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// Allocate creates a Buffer of null Fields covering r.
func (m *Memory) Allocate(creds security.Credentials, r region.Region) (*Buffer, error) {
	if r.IsEmpty() {
		return nil, fmt.Errorf("%w: allocate of an empty region", paging.ErrInvalidArgument)
	}
	perm := security.Permissions{Credentials: creds, Target: m.id, Flags: security.FlagAllocate}
	if err := security.Check(m.gate, perm); err != nil {
		return nil, err
	}

	b := &Buffer{Fields: buffer.NewFields(r), owner: creds}

	m.mu.Lock()
	m.buffers[b] = struct{}{}
	m.mu.Unlock()

	m.metrics.Allocated()
	logger.L.Debug("physical buffer allocated", "region", r.String(), "owner", creds.String())
	return b, nil
}

// Free releases b.
func (m *Memory) Free(creds security.Credentials, b *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[b]; !ok {
		return ErrNotAllocated
	}
	perm := security.Permissions{Credentials: creds, Target: m.id, Flags: security.FlagFree}
	if err := security.Check(m.gate, perm); err != nil {
		return err
	}
	delete(m.buffers, b)
	m.metrics.Freed()
	return nil
}
