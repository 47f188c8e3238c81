package dirty

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtienhaara/musaico-sub031/internal/mmfile"
)

func openMapping(t *testing.T, size int64) *mmfile.File {
	t.Helper()
	f, err := mmfile.Open(filepath.Join(t.TempDir(), "store.bin"), size)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestTracker_Coalesce(t *testing.T) {
	tr := NewTracker(openMapping(t, 64*1024))

	tr.Add(8192+10, 20)
	tr.Add(100, 50)
	tr.Add(4000, 200) // straddles the first page boundary
	tr.Add(20000, 0)  // ignored

	got := tr.Coalesced()
	require.Len(t, got, 1, "adjacent page ranges merge")
	assert.Equal(t, Range{Off: 0, Len: 12288}, got[0])
}

func TestTracker_CoalesceKeepsGaps(t *testing.T) {
	tr := NewTracker(openMapping(t, 64*1024))
	tr.Add(0, 1)
	tr.Add(5*4096, 1)

	assert.Equal(t, []Range{{Off: 0, Len: 4096}, {Off: 5 * 4096, Len: 4096}}, tr.Coalesced())
}

func TestTracker_Flush(t *testing.T) {
	m := openMapping(t, 16*1024)
	tr := NewTracker(m)

	copy(m.Bytes()[4096:], []byte("slot"))
	tr.Add(4096, 4)
	require.True(t, tr.Pending())

	require.NoError(t, tr.Flush(context.Background()))
	assert.False(t, tr.Pending())

	// Nothing pending is a no-op.
	require.NoError(t, tr.Flush(context.Background()))
}

func TestTracker_FlushBeyondMappingIsClipped(t *testing.T) {
	m := openMapping(t, 4096)
	tr := NewTracker(m)
	tr.Add(4000, 1000)
	tr.Add(100000, 10)

	require.NoError(t, tr.Flush(context.Background()))
}

func TestTracker_FlushCancelled(t *testing.T) {
	tr := NewTracker(openMapping(t, 4096))
	tr.Add(0, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Flush(ctx)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.True(t, tr.Pending(), "ranges survive a failed flush")

	tr.Reset()
	assert.False(t, tr.Pending())
}
