package virtual

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jtienhaara/musaico-sub031/internal/metrics"
	"github.com/jtienhaara/musaico-sub031/memory/area"
	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/request"
	"github.com/jtienhaara/musaico-sub031/memory/security"
	"github.com/jtienhaara/musaico-sub031/memory/segment"
	"github.com/jtienhaara/musaico-sub031/memory/swap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var alice = security.Credentials{ID: "alice", Name: "Alice"}

type blockingStore struct {
	*swap.MemoryStore
	release chan struct{}
}

func (s *blockingStore) Load(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.Load(ctx, key)
}

func newMemory(t *testing.T, store swap.Store, opts Options) (*Memory, *metrics.Metrics) {
	t.Helper()
	if store == nil {
		store = swap.NewMemoryStore()
	}
	sys, err := swap.NewSystem(region.Array, store)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	if opts.PageSize == 0 {
		opts.PageSize = 4
	}
	opts.Metrics = m
	mem, err := New(sys, opts)
	require.NoError(t, err)
	return mem, m
}

func pos(i int64) region.Position { return region.Array.Position(i) }

func TestNew_NilSystem(t *testing.T) {
	_, err := New(nil, Options{})
	require.ErrorIs(t, err, paging.ErrInvalidArgument)
}

func TestAllocateFree_Symmetry(t *testing.T) {
	mem, m := newMemory(t, nil, Options{})
	ctx := context.Background()

	var bufs []*Buffer
	for i := range 3 {
		b, err := mem.Allocate(ctx, alice, region.Array.Range(int64(i*100), int64(i*100+9)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.References())
		bufs = append(bufs, b)
	}
	assert.Equal(t, 3, mem.Len())
	assert.Len(t, mem.Buffers(), 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LiveBuffers))

	for _, b := range bufs {
		require.NoError(t, mem.Free(ctx, alice, b))
	}
	assert.Zero(t, mem.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LiveBuffers))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Frees))

	require.ErrorIs(t, mem.Free(ctx, alice, bufs[0]), ErrNotAllocated, "double free")
	require.ErrorIs(t, mem.Free(ctx, alice, nil), ErrNotAllocated)

	other, _ := newMemory(t, nil, Options{})
	b, err := other.Allocate(ctx, alice, region.Array.Range(0, 3))
	require.NoError(t, err)
	require.ErrorIs(t, mem.Free(ctx, alice, b), ErrNotAllocated, "foreign buffer")
	require.NoError(t, other.Close(ctx))
}

func TestAllocate_EmptyRegion(t *testing.T) {
	mem, _ := newMemory(t, nil, Options{})
	_, err := mem.Allocate(context.Background(), alice, region.Array.Empty())
	require.ErrorIs(t, err, paging.ErrInvalidArgument)
}

func TestAllocate_Denied(t *testing.T) {
	acl := security.NewACL()
	acl.Grant(alice, "", security.FlagRead|security.FlagWrite)
	mem, _ := newMemory(t, nil, Options{Gate: acl})

	_, err := mem.Allocate(context.Background(), alice, region.Array.Range(0, 9))
	require.ErrorIs(t, err, security.ErrAccessDenied)
	assert.Zero(t, mem.Len())
}

func TestFree_DeniedKeepsBuffer(t *testing.T) {
	bob := security.Credentials{ID: "bob"}
	acl := security.NewACL()
	acl.Grant(alice, "", security.FlagAll)
	mem, _ := newMemory(t, nil, Options{Gate: acl})
	ctx := context.Background()

	b, err := mem.Allocate(ctx, alice, region.Array.Range(0, 9))
	require.NoError(t, err)

	require.ErrorIs(t, mem.Free(ctx, bob, b), security.ErrAccessDenied)
	assert.Equal(t, 1, mem.Len())
	require.NoError(t, mem.Free(ctx, alice, b))
}

func TestAllocate_RollsBackOnResizeFailure(t *testing.T) {
	store := swap.NewMemoryStore()
	mem, m := newMemory(t, store, Options{})

	_, err := mem.Allocate(context.Background(), alice, region.Nanoseconds.Range(0, 9))
	require.ErrorIs(t, err, paging.ErrSpaceMismatch)
	require.ErrorIs(t, err, request.ErrMemory)
	assert.Zero(t, mem.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Allocations))
}

func TestAllocate_RollsBackOnTimeout(t *testing.T) {
	for _, depth := range []int{0, 4} {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			// Never started, so the resize is never serviced.
			d := segment.NewDispatcher(1, depth)
			defer func() { require.NoError(t, d.Stop()) }()

			mem, _ := newMemory(t, nil, Options{Listener: d, AllocateTimeout: 20 * time.Millisecond})

			start := time.Now()
			_, err := mem.Allocate(context.Background(), alice, region.Array.Range(0, 9))
			require.ErrorIs(t, err, request.ErrTimeout)
			assert.Less(t, time.Since(start), time.Second)
			assert.Zero(t, mem.Len())
		})
	}
}

func TestNew_InjectedFactory(t *testing.T) {
	sys, err := swap.NewSystem(region.Array, swap.NewMemoryStore())
	require.NoError(t, err)
	f := &segment.Factory{System: sys, Area: area.Options{PageSize: 8}, Segment: segment.Options{Name: "injected"}}
	mem, err := New(sys, Options{PageSize: 4, Factory: f})
	require.NoError(t, err)
	ctx := context.Background()

	b, err := mem.Allocate(ctx, alice, region.Array.Range(0, 9))
	require.NoError(t, err)
	assert.Equal(t, "injected", b.Segment().Name())
	assert.Equal(t, int64(8), b.Segment().Area().PageSize())
	require.NoError(t, mem.Free(ctx, alice, b))
}

func TestBuffer_GetSet(t *testing.T) {
	mem, _ := newMemory(t, nil, Options{})
	ctx := context.Background()
	b, err := mem.Allocate(ctx, alice, region.Array.Range(10, 19))
	require.NoError(t, err)
	defer func() { require.NoError(t, mem.Free(ctx, alice, b)) }()

	assert.Equal(t, "array[10-19]", b.Region().String())
	assert.Equal(t, alice, b.Owner())
	assert.True(t, b.Get(pos(12)).IsNull())

	f := buffer.Field{Name: "greeting", Value: []byte("hello")}
	assert.Same(t, b, b.Set(pos(12), f))
	assert.True(t, f.Equal(b.Get(pos(12))))

	_, err = b.TryGet(ctx, pos(20))
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, b.TrySet(ctx, pos(9), f), ErrOutOfRange)
	assert.NoError(t, b.Err(), "best effort keeps no error")
}

func TestBuffer_TimeoutYieldsNullField(t *testing.T) {
	store := &blockingStore{MemoryStore: swap.NewMemoryStore(), release: make(chan struct{})}
	d := segment.NewDispatcher(1, 4)
	d.Start(context.Background())
	defer func() { require.NoError(t, d.Stop()) }()

	mem, m := newMemory(t, store, Options{Listener: d, RequestTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	b, err := mem.Allocate(ctx, alice, region.Array.Range(0, 7))
	require.NoError(t, err)

	start := time.Now()
	got := b.Get(pos(3))
	assert.True(t, got.IsNull())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Degradations.WithLabelValues("get")))

	_, err = b.TryGet(ctx, pos(3))
	require.ErrorIs(t, err, request.ErrTimeout)

	close(store.release)
	f := buffer.Field{Name: "late"}
	require.NoError(t, b.TrySet(ctx, pos(3), f))
	assert.True(t, f.Equal(b.Get(pos(3))))
	require.NoError(t, mem.Free(ctx, alice, b))
}

func TestBuffer_StrictKeepsFirstError(t *testing.T) {
	mem, m := newMemory(t, nil, Options{Policy: Strict})
	ctx := context.Background()
	b, err := mem.Allocate(ctx, alice, region.Array.Range(0, 7))
	require.NoError(t, err)
	assert.Equal(t, Strict, b.Policy())

	b.Set(pos(1), buffer.Field{Name: "kept"})
	assert.True(t, b.Get(pos(100)).IsNull())
	require.ErrorIs(t, b.Err(), ErrOutOfRange)

	b.Set(pos(1), buffer.Field{Name: "dropped"})
	assert.True(t, b.Get(pos(1)).IsNull(), "a failed strict buffer issues no requests")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Degradations.WithLabelValues("get")))

	got, err := b.TryGet(ctx, pos(1))
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Name)
	require.NoError(t, mem.Free(ctx, alice, b))
}

func TestBuffer_ReadWriteAndSync(t *testing.T) {
	store := swap.NewMemoryStore()
	mem, _ := newMemory(t, store, Options{})
	ctx := context.Background()
	b, err := mem.Allocate(ctx, alice, region.Array.Range(0, 15))
	require.NoError(t, err)

	src := buffer.NewFields(region.Array.Range(0, 5))
	for i := range 6 {
		src.Set(pos(int64(i)), buffer.Field{Name: fmt.Sprint(i)})
	}
	written, err := b.Write(ctx, src, region.Array.Range(2, 7))
	require.NoError(t, err)
	assert.Equal(t, "array[2-7]", written.String())

	dst := buffer.NewFields(region.Array.Range(0, 3))
	read, err := b.Read(ctx, region.Array.Range(4, 7), dst)
	require.NoError(t, err)
	assert.Equal(t, "array[4-7]", read.String())
	assert.Equal(t, "2", dst.Get(pos(0)).Name)

	require.NoError(t, b.Sync(ctx))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, mem.Close(ctx))
	assert.Zero(t, mem.Len())
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBuffer_CopyBetweenBuffersOfOneMemory(t *testing.T) {
	d := segment.NewDispatcher(1, 4)
	d.Start(context.Background())
	defer func() { require.NoError(t, d.Stop()) }()

	mem, _ := newMemory(t, nil, Options{Listener: d})
	ctx := context.Background()
	b, err := mem.Allocate(ctx, alice, region.Array.Range(0, 15))
	require.NoError(t, err)
	c, err := mem.Allocate(ctx, alice, region.Array.Range(100, 103))
	require.NoError(t, err)
	for i := range 8 {
		require.NoError(t, b.TrySet(ctx, pos(int64(i)), buffer.Field{Name: fmt.Sprint(i)}))
	}
	require.NoError(t, c.TrySet(ctx, pos(103), buffer.Field{Name: "keep"}))

	written, err := b.Write(ctx, b, region.Array.Range(8, 15))
	require.NoError(t, err)
	assert.Equal(t, "array[8-15]", written.String())
	for i := range 8 {
		got, err := b.TryGet(ctx, pos(int64(8+i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), got.Name)
	}

	read, err := b.Read(ctx, region.Array.Range(13, 15), c)
	require.NoError(t, err)
	assert.Equal(t, "array[13-15]", read.String())
	for i, want := range []string{"5", "6", "7", "keep"} {
		got, err := c.TryGet(ctx, pos(int64(100+i)))
		require.NoError(t, err)
		assert.Equal(t, want, got.Name)
	}

	require.NoError(t, mem.Close(ctx))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, Strict, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, p)
	assert.Equal(t, "best_effort", p.String())

	_, err = ParsePolicy("lenient")
	require.Error(t, err)
}
