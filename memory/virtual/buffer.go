package virtual

import (
	"context"
	"fmt"
	"time"

	"github.com/jtienhaara/musaico-sub031/internal/logger"
	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/request"
	"github.com/jtienhaara/musaico-sub031/memory/security"
	"github.com/jtienhaara/musaico-sub031/memory/segment"
)

// Buffer is a handle onto a Segment, owned by one set of Credentials.
//
// Buffer is not safe for concurrent use; the Segment behind it is.
type Buffer struct {
	memory  *Memory
	seg     *segment.Segment
	owner   security.Credentials
	region  region.Region
	policy  FailurePolicy
	timeout time.Duration
	err     error
}

var _ buffer.Buffer = (*Buffer)(nil)

// Region returns the region requested at allocation.
func (b *Buffer) Region() region.Region { return b.region }

func (b *Buffer) Segment() *segment.Segment { return b.seg }

func (b *Buffer) Owner() security.Credentials { return b.owner }

func (b *Buffer) Policy() FailurePolicy { return b.policy }

// References returns the open count of the Segment.
func (b *Buffer) References() int64 { return b.seg.References() }

// Err returns the failure kept by the Strict policy.
func (b *Buffer) Err() error { return b.err }

// TryGet reads the Field at p.
func (b *Buffer) TryGet(ctx context.Context, p region.Position) (buffer.Field, error) {
	if !b.region.Contains(p) {
		return buffer.NullField, fmt.Errorf("%w: %s not in %s", ErrOutOfRange, p, b.region)
	}
	req := request.NewReadField(b.owner, b.seg.ID(), b.timeout, p)
	if err := b.seg.Request(req); err != nil {
		return buffer.NullField, err
	}
	return req.Wait(ctx)
}

// TrySet writes f at p.
func (b *Buffer) TrySet(ctx context.Context, p region.Position, f buffer.Field) error {
	if !b.region.Contains(p) {
		return fmt.Errorf("%w: %s not in %s", ErrOutOfRange, p, b.region)
	}
	req := request.NewWriteField(b.owner, b.seg.ID(), b.timeout, p, f)
	if err := b.seg.Request(req); err != nil {
		return err
	}
	return req.Wait(ctx)
}

// Get returns the Field at p, or NullField if the read fails.
func (b *Buffer) Get(p region.Position) buffer.Field {
	if b.policy == Strict && b.err != nil {
		return buffer.NullField
	}
	f, err := b.TryGet(context.Background(), p)
	if err != nil {
		b.degrade("get", p, err)
		return buffer.NullField
	}
	return f
}

// Set writes f at p. A failed write leaves memory unchanged.
func (b *Buffer) Set(p region.Position, f buffer.Field) buffer.Buffer {
	if b.policy == Strict && b.err != nil {
		return b
	}
	if err := b.TrySet(context.Background(), p, f); err != nil {
		b.degrade("set", p, err)
	}
	return b
}

func (b *Buffer) degrade(op string, p region.Position, err error) {
	b.memory.opts.Metrics.Degraded(op)
	logger.L.Warn("buffer "+op+" failed",
		"segment", b.seg.ID(), "position", p.String(), "policy", b.policy.String(), "err", err)
	if b.policy == Strict && b.err == nil {
		b.err = fmt.Errorf("virtual: %s %s: %w", op, p, err)
	}
}

// Read copies the Fields in from into to and returns the region read.
//
// When to is itself a Buffer, the Fields are staged locally and written to
// it from the calling goroutine.
func (b *Buffer) Read(ctx context.Context, from region.Region, to buffer.Buffer) (region.Region, error) {
	dst, ok := to.(*Buffer)
	if ok {
		to = buffer.NewFields(dst.region)
	}
	req := request.NewRead(b.owner, b.seg.ID(), b.timeout, from, to)
	if err := b.seg.Request(req); err != nil {
		return region.Region{}, err
	}
	read, err := req.Wait(ctx)
	if err != nil || !ok || read.IsEmpty() {
		return read, err
	}
	space := dst.region.Space()
	start := dst.region.Start()
	part := space.Region(start, start.Add(space.Size(read.Size().Length()-1)))
	if _, err := dst.Write(ctx, to, part); err != nil {
		return region.Region{}, err
	}
	return read, nil
}

// Write copies from into memory starting at to.Start and returns the region
// written.
//
// When from is itself a Buffer, its Fields are staged locally first.
func (b *Buffer) Write(ctx context.Context, from buffer.Buffer, to region.Region) (region.Region, error) {
	if src, ok := from.(*Buffer); ok {
		staged := buffer.NewFields(src.region)
		if _, err := src.Read(ctx, src.region, staged); err != nil {
			return region.Region{}, err
		}
		from = staged
	}
	req := request.NewWrite(b.owner, b.seg.ID(), b.timeout, from, to)
	if err := b.seg.Request(req); err != nil {
		return region.Region{}, err
	}
	return req.Wait(ctx)
}

// Sync writes the Buffer's dirty pages to the backing store.
func (b *Buffer) Sync(ctx context.Context) error {
	return b.seg.Sync(ctx, b.owner)
}
