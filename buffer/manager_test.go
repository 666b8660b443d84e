package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, capacity int) *Manager {
	t.Helper()
	m, err := NewManager(capacity, nil)
	require.NoError(t, err)
	return m
}

func TestAllocateFreePoolInvariant(t *testing.T) {
	m := newTestManager(t, 4)
	for p := PoolFree; p < numPools; p++ {
		require.LessOrEqual(t, m.pools[p].count(), 4)
	}
	require.Equal(t, 4, m.pools[PoolFree].count())

	id, ok := m.AllocateFrame(PoolDefault)
	require.True(t, ok)
	require.Equal(t, 3, m.pools[PoolFree].count())
	require.Equal(t, 1, m.pools[PoolDefault].count())
	require.Equal(t, PoolDefault, m.frameAt(id).pool)
}

func TestDirectoryPutLookupRemove(t *testing.T) {
	m := newTestManager(t, 8)
	id, ok := m.AllocateFrame(PoolDefault)
	require.True(t, ok)

	page := NewPageID(1, 42)
	m.Put(page, id)

	got, ok := m.Lookup(page)
	require.True(t, ok)
	require.Equal(t, id, got)

	removed, ok := m.Remove(page)
	require.True(t, ok)
	require.Equal(t, id, removed)

	_, ok = m.Lookup(page)
	require.False(t, ok)
}

func TestPinPreventsEviction(t *testing.T) {
	m := newTestManager(t, 1)
	id, ok := m.AllocateFrame(PoolDefault)
	require.True(t, ok)
	m.SetEvictable(id, true)
	m.Pin(id)

	// The only frame is pinned; a second allocation must fail rather
	// than evict it.
	_, ok = m.AllocateFrame(PoolDefault)
	require.False(t, ok)

	m.Unpin(id)
	m.Put(NewPageID(0, 1), id) // give it a page so eviction clears the bucket
	_, ok = m.AllocateFrame(PoolDefault)
	require.True(t, ok, "unpinned evictable frame should now be reclaimable")
}

func TestFreeFrameRejectsDirtyOrPinned(t *testing.T) {
	m := newTestManager(t, 2)
	id, ok := m.AllocateFrame(PoolDefault)
	require.True(t, ok)
	m.SetEvictable(id, true)

	m.MarkDirty(id)
	require.Error(t, m.FreeFrame(id), "dirty frames cannot be freed directly")

	m.MarkClean(id)
	m.Pin(id)
	require.Error(t, m.FreeFrame(id), "pinned frames cannot be freed")

	m.Unpin(id)
	require.NoError(t, m.FreeFrame(id))
	require.Equal(t, PoolFree, m.frameAt(id).pool)
}

func TestTouchPromotesRecycleToDefault(t *testing.T) {
	m := newTestManager(t, 4)
	id, ok := m.AllocateFrame(PoolRecycle)
	require.True(t, ok)

	m.Touch(id) // first reference: starts recency tracking, stays in Recycle
	require.Equal(t, PoolRecycle, m.frameAt(id).pool)

	m.Touch(id) // second reference while tracked: promote
	require.Equal(t, PoolDefault, m.frameAt(id).pool)
}

func TestMoveToPoolUpdatesCounts(t *testing.T) {
	m := newTestManager(t, 4)
	id, ok := m.AllocateFrame(PoolDefault)
	require.True(t, ok)
	require.Equal(t, 1, m.pools[PoolDefault].count())

	m.MoveToPool(id, PoolKeep)
	require.Equal(t, 0, m.pools[PoolDefault].count())
	require.Equal(t, 1, m.pools[PoolKeep].count())
	require.Equal(t, PoolKeep, m.frameAt(id).pool)
}
