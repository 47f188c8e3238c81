// Package request defines the memory request protocol between callers and
// segments.
//
// A caller builds a request, submits it to a segment and blocks in Wait.
// Whoever services the request completes it exactly once, with Succeed or
// Fail; the first completion wins and later ones are ignored. Wait returns
// when the request completes or its deadline passes, whichever comes first,
// and a deadline that passes fails the request with ErrTimeout. A timed-out
// request may still be serviced later; its outcome is simply ignored.
package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/security"
)

var (
	ErrMemory         = errors.New("request: memory operation failed")
	ErrTimeout        = fmt.Errorf("%w: timed out", ErrMemory)
	ErrInvalidRequest = errors.New("request: invalid request")
)

// Kind tags the operation a request asks for.
type Kind int

const (
	KindReadField Kind = iota
	KindWriteField
	KindRead
	KindWrite
	KindResize
)

func (k Kind) String() string {
	switch k {
	case KindReadField:
		return "read_field"
	case KindWriteField:
		return "write_field"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindResize:
		return "resize"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request is the part of every memory request a segment handles uniformly.
type Request interface {
	ID() string
	Kind() Kind
	Credentials() security.Credentials
	SegmentID() string
	Created() time.Time
	Deadline() time.Time
	Fail(err error) bool
	Done() <-chan struct{}
	Err() error
}

type base struct {
	id       string
	kind     Kind
	creds    security.Credentials
	segment  string
	created  time.Time
	deadline time.Time

	once sync.Once
	done chan struct{}
	err  error
}

func (b *base) init(kind Kind, creds security.Credentials, segment string, timeout time.Duration) {
	now := time.Now()
	b.id = uuid.NewString()
	b.kind = kind
	b.creds = creds
	b.segment = segment
	b.created = now
	b.deadline = now.Add(timeout)
	b.done = make(chan struct{})
}

func (b *base) ID() string                        { return b.id }
func (b *base) Kind() Kind                        { return b.kind }
func (b *base) Credentials() security.Credentials { return b.creds }
func (b *base) SegmentID() string                 { return b.segment }
func (b *base) Created() time.Time                { return b.created }
func (b *base) Deadline() time.Time               { return b.deadline }

// Done is closed once the request completes.
func (b *base) Done() <-chan struct{} { return b.done }

// Err returns the failure, or nil while pending or after success.
func (b *base) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// Fail completes the request with err, which is wrapped in ErrMemory unless
// it already is one. It reports whether this call completed the request.
func (b *base) Fail(err error) bool {
	switch {
	case err == nil:
		err = ErrMemory
	case !errors.Is(err, ErrMemory):
		err = fmt.Errorf("%w: %w", ErrMemory, err)
	}
	return b.settle(err, nil)
}

func (b *base) settle(err error, set func()) bool {
	won := false
	b.once.Do(func() {
		if set != nil {
			set()
		}
		b.err = err
		close(b.done)
		won = true
	})
	return won
}

// wait blocks until completion, the deadline or ctx, and returns the
// request's final error.
func (b *base) wait(ctx context.Context) error {
	timer := time.NewTimer(time.Until(b.deadline))
	defer timer.Stop()

	select {
	case <-b.done:
	case <-timer.C:
		b.settle(fmt.Errorf("%w: %s request %s after %s",
			ErrTimeout, b.kind, b.id, b.deadline.Sub(b.created)), nil)
	case <-ctx.Done():
		b.settle(fmt.Errorf("%w: %w", ErrMemory, ctx.Err()), nil)
	}
	<-b.done
	return b.err
}

// ReadField asks for the Field at one Position.
type ReadField struct {
	base
	Position region.Position
	field    buffer.Field
}

// NewReadField creates a ReadField request.
func NewReadField(creds security.Credentials, segment string, timeout time.Duration, p region.Position) *ReadField {
	r := &ReadField{Position: p}
	r.init(KindReadField, creds, segment, timeout)
	return r
}

// Succeed completes the request with f.
func (r *ReadField) Succeed(f buffer.Field) bool {
	return r.settle(nil, func() { r.field = f })
}

// Wait returns the Field read.
func (r *ReadField) Wait(ctx context.Context) (buffer.Field, error) {
	if err := r.wait(ctx); err != nil {
		return buffer.NullField, err
	}
	return r.field, nil
}

// WriteField asks to store Field at one Position.
type WriteField struct {
	base
	Position region.Position
	Field    buffer.Field
}

// NewWriteField creates a WriteField request.
func NewWriteField(creds security.Credentials, segment string, timeout time.Duration, p region.Position, f buffer.Field) *WriteField {
	r := &WriteField{Position: p, Field: f}
	r.init(KindWriteField, creds, segment, timeout)
	return r
}

// Succeed completes the request.
func (r *WriteField) Succeed() bool { return r.settle(nil, nil) }

// Wait blocks until the write completes.
func (r *WriteField) Wait(ctx context.Context) error { return r.wait(ctx) }

// Read asks to copy the segment's Fields in From into To.
type Read struct {
	base
	From     region.Region
	To       buffer.Buffer
	affected region.Region
}

// NewRead creates a Read request.
func NewRead(creds security.Credentials, segment string, timeout time.Duration, from region.Region, to buffer.Buffer) *Read {
	r := &Read{From: from, To: to}
	r.init(KindRead, creds, segment, timeout)
	return r
}

// Succeed completes the request with the Region actually read.
func (r *Read) Succeed(affected region.Region) bool {
	return r.settle(nil, func() { r.affected = affected })
}

// Wait returns the Region actually read.
func (r *Read) Wait(ctx context.Context) (region.Region, error) {
	if err := r.wait(ctx); err != nil {
		return region.Region{}, err
	}
	return r.affected, nil
}

// Write asks to copy From into the segment starting at To.
type Write struct {
	base
	From     buffer.Buffer
	To       region.Region
	affected region.Region
}

// NewWrite creates a Write request.
func NewWrite(creds security.Credentials, segment string, timeout time.Duration, from buffer.Buffer, to region.Region) *Write {
	r := &Write{From: from, To: to}
	r.init(KindWrite, creds, segment, timeout)
	return r
}

// Succeed completes the request with the Region actually written.
func (r *Write) Succeed(affected region.Region) bool {
	return r.settle(nil, func() { r.affected = affected })
}

// Wait returns the Region actually written.
func (r *Write) Wait(ctx context.Context) (region.Region, error) {
	if err := r.wait(ctx); err != nil {
		return region.Region{}, err
	}
	return r.affected, nil
}

// Resize asks the segment to cover Region.
type Resize struct {
	base
	Region region.Region
}

// NewResize creates a Resize request.
func NewResize(creds security.Credentials, segment string, timeout time.Duration, r region.Region) *Resize {
	req := &Resize{Region: r}
	req.init(KindResize, creds, segment, timeout)
	return req
}

// Succeed completes the request.
func (r *Resize) Succeed() bool { return r.settle(nil, nil) }

// Wait blocks until the resize completes.
func (r *Resize) Wait(ctx context.Context) error { return r.wait(ctx) }
