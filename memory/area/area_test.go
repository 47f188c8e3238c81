package area

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtienhaara/musaico-sub031/memory/buffer"
	"github.com/jtienhaara/musaico-sub031/memory/paging"
	"github.com/jtienhaara/musaico-sub031/memory/region"
	"github.com/jtienhaara/musaico-sub031/memory/swap"
)

func newArea(t *testing.T, pageSize int64, maxResident int) (*Area, *swap.MemoryStore) {
	t.Helper()
	store := swap.NewMemoryStore()
	sys, err := swap.NewSystem(region.Array, store, swap.WithCompression(true))
	require.NoError(t, err)
	a, err := New(sys, Options{ID: "test", PageSize: pageSize, MaxResident: maxResident})
	require.NoError(t, err)
	return a, store
}

func pos(i int64) region.Position { return region.Array.Position(i) }

func fieldN(i int) buffer.Field {
	return buffer.Field{Name: fmt.Sprintf("f%d", i), Value: []byte{byte(i)}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	require.ErrorIs(t, err, paging.ErrInvalidArgument)

	sys, err := swap.NewSystem(region.Array, swap.NewMemoryStore())
	require.NoError(t, err)
	_, err = New(sys, Options{PageSize: -1})
	require.ErrorIs(t, err, paging.ErrInvalidArgument)

	a, err := New(sys, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, int64(DefaultPageSize), a.PageSize())
}

func TestResize_RoundsUpToWholePages(t *testing.T) {
	a, _ := newArea(t, 4, 8)
	ctx := context.Background()

	old, err := a.Resize(ctx, region.Array.Range(10, 19))
	require.NoError(t, err)
	assert.True(t, old.IsEmpty())
	assert.Equal(t, "array[10-21]", a.Region().String())
	assert.Equal(t, 3, a.Table().Len())
	assert.Equal(t, "array{10-13,14-17,18-21}", a.Table().Region().String())

	for _, p := range a.Table().All() {
		assert.Same(t, a.System().Stored(), p.SwapState(), "pages start out stored")
	}
}

func TestResize_GrowKeepsAndShrinkReleases(t *testing.T) {
	a, store := newArea(t, 4, 8)
	ctx := context.Background()

	_, err := a.Resize(ctx, region.Array.Range(0, 7))
	require.NoError(t, err)
	require.NoError(t, a.WriteField(ctx, pos(1), fieldN(1)))
	require.NoError(t, a.WriteField(ctx, pos(5), fieldN(5)))
	require.NoError(t, a.Sync(ctx))

	old, err := a.Resize(ctx, region.Array.Range(0, 15))
	require.NoError(t, err)
	assert.Equal(t, "array[0-7]", old.String())
	assert.Equal(t, 4, a.Table().Len())

	got, err := a.ReadField(ctx, pos(5))
	require.NoError(t, err)
	assert.True(t, fieldN(5).Equal(got), "grow keeps existing pages")

	_, err = a.Resize(ctx, region.Array.Range(0, 2))
	require.NoError(t, err)
	assert.Equal(t, "array[0-3]", a.Region().String())
	assert.Equal(t, 1, a.Table().Len())

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test/0"}, keys, "released pages lose their stored copy")

	_, err = a.ReadField(ctx, pos(5))
	require.ErrorIs(t, err, paging.ErrNoPage)
}

type failingDelete struct{ *swap.MemoryStore }

var errDelete = errors.New("delete refused")

func (failingDelete) Delete(context.Context, string) error { return errDelete }

func TestResize_ShrinkFinishesWhenDeleteFails(t *testing.T) {
	sys, err := swap.NewSystem(region.Array, failingDelete{swap.NewMemoryStore()})
	require.NoError(t, err)
	a, err := New(sys, Options{ID: "test", PageSize: 4, MaxResident: 8})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Resize(ctx, region.Array.Range(0, 15))
	require.NoError(t, err)
	require.NoError(t, a.WriteField(ctx, pos(1), fieldN(1)))
	require.NoError(t, a.WriteField(ctx, pos(13), fieldN(13)))

	old, err := a.Resize(ctx, region.Array.Range(0, 7))
	require.ErrorIs(t, err, errDelete)
	assert.Equal(t, "array[0-15]", old.String())
	assert.Equal(t, "array[0-7]", a.Region().String(), "region matches the table")
	assert.Equal(t, 2, a.Table().Len())

	got, err := a.ReadField(ctx, pos(1))
	require.NoError(t, err)
	assert.True(t, fieldN(1).Equal(got))
	_, err = a.ReadField(ctx, pos(6))
	require.NoError(t, err, "every position in the region has a page")
	_, err = a.ReadField(ctx, pos(13))
	require.ErrorIs(t, err, paging.ErrNoPage)
}

func TestResize_RejectsForeignSpace(t *testing.T) {
	a, _ := newArea(t, 4, 8)
	_, err := a.Resize(context.Background(), region.Nanoseconds.Range(0, 10))
	require.ErrorIs(t, err, paging.ErrSpaceMismatch)
}

func TestReadWriteField(t *testing.T) {
	a, _ := newArea(t, 4, 8)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(0, 15))
	require.NoError(t, err)

	got, err := a.ReadField(ctx, pos(3))
	require.NoError(t, err)
	assert.True(t, got.IsNull())

	require.NoError(t, a.WriteField(ctx, pos(3), fieldN(3)))
	got, err = a.ReadField(ctx, pos(3))
	require.NoError(t, err)
	assert.True(t, fieldN(3).Equal(got))

	st := a.Stats()
	assert.Equal(t, 4, st.Pages)
	assert.Equal(t, 1, st.Resident)
	assert.Equal(t, int64(4), st.Dirty)

	_, err = a.ReadField(ctx, pos(16))
	require.ErrorIs(t, err, paging.ErrNoPage)
}

func TestEviction_WritesBackAndFaultsIn(t *testing.T) {
	a, store := newArea(t, 4, 2)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(0, 39))
	require.NoError(t, err)

	for i := range 40 {
		require.NoError(t, a.WriteField(ctx, pos(int64(i)), fieldN(i)))
	}
	assert.Equal(t, 2, a.Stats().Resident)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 8, "every evicted dirty page was written back")

	for i := range 40 {
		got, err := a.ReadField(ctx, pos(int64(i)))
		require.NoError(t, err)
		require.True(t, fieldN(i).Equal(got), "position %d: %s", i, got)
	}

	resident := 0
	for _, p := range a.Table().All() {
		if p.SwapState() == paging.SwapState(a.System().Fields()) {
			resident++
		}
	}
	assert.Equal(t, 2, resident)
}

func TestReadWriteRange(t *testing.T) {
	a, _ := newArea(t, 4, 3)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(100, 119))
	require.NoError(t, err)

	src := buffer.NewFields(region.Array.Range(0, 9))
	for i := range 10 {
		src.Set(pos(int64(i)), fieldN(i))
	}

	written, err := a.Write(ctx, src, region.Array.Range(105, 200))
	require.NoError(t, err)
	assert.Equal(t, "array[105-114]", written.String())

	dst := buffer.NewFields(region.Array.Range(0, 4))
	read, err := a.Read(ctx, region.Array.Range(103, 200), dst)
	require.NoError(t, err)
	assert.Equal(t, "array[103-107]", read.String(), "clipped to the room in the destination")

	snap := dst.Snapshot()
	assert.True(t, snap[0].IsNull())
	assert.True(t, snap[1].IsNull())
	assert.True(t, fieldN(0).Equal(snap[2]))
	assert.True(t, fieldN(2).Equal(snap[4]))

	// Entirely outside the area.
	none, err := a.Read(ctx, region.Array.Range(0, 50), dst)
	require.NoError(t, err)
	assert.True(t, none.IsEmpty())
}

// view is a Buffer over an Area's own Fields.
type view struct {
	a *Area
	r region.Region
}

func (v view) Region() region.Region { return v.r }

func (v view) Get(p region.Position) buffer.Field {
	f, _ := v.a.ReadField(context.Background(), p)
	return f
}

func (v view) Set(p region.Position, f buffer.Field) buffer.Buffer {
	_ = v.a.WriteField(context.Background(), p, f)
	return v
}

func TestReadWriteRange_WithinOneArea(t *testing.T) {
	a, _ := newArea(t, 4, 8)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(0, 15))
	require.NoError(t, err)
	for i := range 8 {
		require.NoError(t, a.WriteField(ctx, pos(int64(i)), fieldN(i)))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		written, err := a.Write(ctx, view{a: a, r: a.Region()}, region.Array.Range(8, 15))
		assert.NoError(t, err)
		assert.Equal(t, "array[8-15]", written.String())

		read, err := a.Read(ctx, region.Array.Range(0, 3), view{a: a, r: region.Array.Range(12, 15)})
		assert.NoError(t, err)
		assert.Equal(t, "array[0-3]", read.String())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("copy within one area did not finish")
	}

	for j := range 8 {
		got, err := a.ReadField(ctx, pos(int64(8+j)))
		require.NoError(t, err)
		assert.True(t, fieldN(j%4).Equal(got), "position %d: %s", 8+j, got)
	}
}

func TestReadRange_StartBeforeArea(t *testing.T) {
	a, _ := newArea(t, 4, 8)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(10, 13))
	require.NoError(t, err)
	require.NoError(t, a.WriteField(ctx, pos(10), fieldN(10)))

	dst := buffer.NewFields(region.Array.Range(0, 9))
	read, err := a.Read(ctx, region.Array.Range(5, 20), dst)
	require.NoError(t, err)
	assert.Equal(t, "array[10-13]", read.String())
	assert.True(t, fieldN(10).Equal(dst.Get(pos(5))), "offsets line up with the request start")
}

func TestSyncCleansEverything(t *testing.T) {
	a, store := newArea(t, 4, 8)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(0, 11))
	require.NoError(t, err)
	require.NoError(t, a.WriteField(ctx, pos(0), fieldN(0)))
	require.NoError(t, a.WriteField(ctx, pos(9), fieldN(9)))

	require.NoError(t, a.Sync(ctx))
	assert.Equal(t, int64(0), a.Stats().Dirty)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test/0", "test/8"}, keys)
}

func TestFree(t *testing.T) {
	a, store := newArea(t, 4, 8)
	ctx := context.Background()
	_, err := a.Resize(ctx, region.Array.Range(0, 11))
	require.NoError(t, err)
	require.NoError(t, a.WriteField(ctx, pos(0), fieldN(0)))
	require.NoError(t, a.Sync(ctx))

	require.NoError(t, a.Free(ctx))
	assert.Zero(t, a.Table().Len())
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.ErrorIs(t, a.Free(ctx), ErrFreed)
	_, err = a.ReadField(ctx, pos(0))
	require.ErrorIs(t, err, ErrFreed)
	require.ErrorIs(t, a.WriteField(ctx, pos(0), fieldN(0)), ErrFreed)
	_, err = a.Resize(ctx, region.Array.Range(0, 1))
	require.ErrorIs(t, err, ErrFreed)
}
