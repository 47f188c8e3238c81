// Package buffer defines Fields and the Buffer abstraction that memory
// allocators hand out, plus Fields, the plain resident field storage used by
// physical buffers and swapped-in pages.
package buffer

import (
	"bytes"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/jtienhaara/musaico-sub031/memory/region"
)

// Field is the unit stored at one Position of a Buffer.
type Field struct {
	Name  string
	Value []byte
}

// NullField is returned for Positions that hold nothing, and by best-effort
// reads that failed.
var NullField = Field{}

// IsNull reports whether f carries neither a name nor a value.
func (f Field) IsNull() bool {
	return f.Name == "" && f.Value == nil
}

// Equal compares names and values.
func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && bytes.Equal(f.Value, o.Value) && (f.Value == nil) == (o.Value == nil)
}

func (f Field) String() string {
	if f.IsNull() {
		return "<null>"
	}
	return fmt.Sprintf("%s=%q", f.Name, f.Value)
}

// Buffer is a region of Fields addressed by Position.
//
// Get returns NullField for Positions outside Region; Set ignores them.
type Buffer interface {
	Region() region.Region
	Get(p region.Position) Field
	Set(p region.Position, f Field) Buffer
}

// Fields is an in-memory Buffer backed by a slice.
//
// Safe for concurrent use.
type Fields struct {
	mu     sync.RWMutex
	region region.Region
	fields []Field
}

var _ Buffer = (*Fields)(nil)

// NewFields allocates NullFields covering r.
func NewFields(r region.Region) *Fields {
	n := r.Size().Length()
	if r.IsEmpty() {
		n = 0
	}
	return &Fields{region: r, fields: make([]Field, n)}
}

// Region returns the Positions the buffer covers.
func (b *Fields) Region() region.Region { return b.region }

// Len returns the number of Positions.
func (b *Fields) Len() int { return len(b.fields) }

// Get returns the Field at p.
func (b *Fields) Get(p region.Position) Field {
	i, ok := b.index(p)
	if !ok {
		return NullField
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fields[i]
}

// Set stores f at p and returns b.
func (b *Fields) Set(p region.Position, f Field) Buffer {
	i, ok := b.index(p)
	if !ok {
		return b
	}
	b.mu.Lock()
	b.fields[i] = f
	b.mu.Unlock()
	return b
}

// Snapshot returns a copy of all Fields in Position order.
func (b *Fields) Snapshot() []Field {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Field, len(b.fields))
	copy(out, b.fields)
	return out
}

// Load replaces the Fields in Position order. Extra values are ignored and
// missing ones become NullField.
func (b *Fields) Load(fields []Field) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.fields {
		if i < len(fields) {
			b.fields[i] = fields[i]
		} else {
			b.fields[i] = NullField
		}
	}
}

func (b *Fields) index(p region.Position) (int, bool) {
	if !b.region.Contains(p) {
		return 0, false
	}
	return int(p.Index() - b.region.Start().Index()), true
}

// RefCount counts outstanding references to a shared resource.
type RefCount struct {
	n atomic.Int64
}

// Increment adds a reference and returns the new count.
func (c *RefCount) Increment() int64 { return c.n.Inc() }

// Decrement drops a reference and returns the new count, which is negative
// when more references were dropped than taken.
func (c *RefCount) Decrement() int64 { return c.n.Dec() }

// Count returns the current count.
func (c *RefCount) Count() int64 { return c.n.Load() }
