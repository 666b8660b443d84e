package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, size int) *Table {
	t.Helper()
	tbl, err := Init(make([]byte, size))
	require.NoError(t, err)
	return tbl
}

func TestBinBoundaries(t *testing.T) {
	require.Equal(t, 0, bin(1))
	require.Equal(t, 0, bin(32))
	require.Equal(t, 1, bin(33))
	require.Equal(t, 1, bin(64))
	require.Equal(t, 63, bin(2048))
	// Sizes above smallBinMax are never binned by TryMalloc, but bin()
	// itself clamps rather than panicking.
	require.Equal(t, 63, bin(4096))
}

func TestInitLayout(t *testing.T) {
	tbl := newTestTable(t, 4096)
	used, free, wild := tbl.Stats()
	require.Zero(t, used)
	require.Zero(t, free)
	require.Equal(t, uint32(4096-3*HeaderSize), wild)
	require.NoError(t, tbl.CheckInvariants())
}

func TestTryMallocCarvesFromWild(t *testing.T) {
	tbl := newTestTable(t, 4096)
	ptr, buf, ok := tbl.TryMalloc(10)
	require.True(t, ok)
	require.NotEqual(t, nilPtr, ptr)
	require.Len(t, buf, 32) // 10 rounds up to one 32-byte granule
	require.NoError(t, tbl.CheckInvariants())
}

func TestFreeThenReallocReusesSmallBin(t *testing.T) {
	tbl := newTestTable(t, 4096)
	ptr, _, ok := tbl.TryMalloc(64)
	require.True(t, ok)
	_, _, ok = tbl.TryMalloc(32) // keeps ptr's block off the wild tail, so Free files it in a bin
	require.True(t, ok)
	_, _, wildBefore := tbl.Stats()

	tbl.Free(ptr)
	require.NoError(t, tbl.CheckInvariants())

	ptr2, buf2, ok := tbl.TryMalloc(64)
	require.True(t, ok)
	require.Len(t, buf2, 64)
	require.Equal(t, ptr, ptr2, "reused block should come back from the bin, not a fresh wild carve")

	_, _, wildAfter := tbl.Stats()
	require.Equal(t, wildBefore, wildAfter, "wild must not have been touched for the second malloc")
	require.NoError(t, tbl.CheckInvariants())
}

func TestLargeAllocGoesThroughLargeIndex(t *testing.T) {
	tbl := newTestTable(t, 1<<20)
	const bigSize = 4096

	// Carve two large blocks so the first one is not adjacent to the
	// wild tail once freed — otherwise Free's own coalescing would
	// merge it straight back into wild instead of filing it in the
	// large index.
	first, buf1, ok := tbl.TryMalloc(bigSize)
	require.True(t, ok)
	require.Len(t, buf1, bigSize)
	second, buf2, ok := tbl.TryMalloc(bigSize)
	require.True(t, ok)
	require.Len(t, buf2, bigSize)

	tbl.Free(first)
	require.NoError(t, tbl.CheckInvariants())

	_, _, wildBefore := tbl.Stats()
	reused, buf3, ok := tbl.TryMalloc(bigSize)
	require.True(t, ok)
	require.Len(t, buf3, bigSize)
	require.Equal(t, first, reused, "the freed large block should be reused from the large index")

	_, _, wildAfter := tbl.Stats()
	require.Equal(t, wildBefore, wildAfter, "wild must not be touched when the large index already has a fit")
	require.NoError(t, tbl.CheckInvariants())

	_ = second
}

func TestTryMallocFailsWhenExhausted(t *testing.T) {
	tbl := newTestTable(t, 3*HeaderSize+64)
	_, _, ok := tbl.TryMalloc(64)
	require.True(t, ok)

	_, _, ok = tbl.TryMalloc(32)
	require.False(t, ok, "arena has no room left for a second allocation")
	require.NoError(t, tbl.CheckInvariants())
}

// TestAllocatorStress mirrors the allocator stress scenario: many
// same-size allocations, freed in reverse order so that Free's own
// coalescing drains every block back into the wild tail and leaves
// Defrag nothing to merge, with invariants checked throughout.
func TestAllocatorStress(t *testing.T) {
	const n = 128
	const payload = 32
	tbl := newTestTable(t, 3*HeaderSize+n*(HeaderSize+payload))

	ptrs := make([]Ptr, n)
	for i := 0; i < n; i++ {
		p, buf, ok := tbl.TryMalloc(payload)
		require.True(t, ok, "allocation %d should succeed", i)
		require.Len(t, buf, payload)
		ptrs[i] = p
	}
	require.NoError(t, tbl.CheckInvariants())
	usedAfterAlloc, _, _ := tbl.Stats()
	require.Equal(t, uint32(n*payload), usedAfterAlloc)

	// Free in reverse order so every Free() call sees its immediate
	// successor already free, exercising forward coalescing back into
	// the (by-then) wild tail.
	for i := n - 1; i >= 0; i-- {
		tbl.Free(ptrs[i])
		require.NoError(t, tbl.CheckInvariants())
	}

	used, free, wild := tbl.Stats()
	require.Zero(t, used)
	require.Zero(t, free, "reverse-order frees should have coalesced everything back into wild")
	require.Equal(t, uint32(n*(HeaderSize+payload)), wild)

	merges := tbl.Defrag(0)
	require.Zero(t, merges, "nothing left to merge once everything drained back into wild")
	require.NoError(t, tbl.CheckInvariants())
}

// TestFreeBridgesFragmentedNeighbors frees two non-adjacent blocks
// around a third, still-used one (a 4th allocation keeps the pair from
// touching the wild tail), then frees the middle block and confirms
// Free's own neighbor coalescing bridges all three into one run without
// disturbing wild.
func TestFreeBridgesFragmentedNeighbors(t *testing.T) {
	tbl := newTestTable(t, 4096)
	a, _, ok := tbl.TryMalloc(32)
	require.True(t, ok)
	b, _, ok := tbl.TryMalloc(32)
	require.True(t, ok)
	c, _, ok := tbl.TryMalloc(32)
	require.True(t, ok)
	_, _, ok = tbl.TryMalloc(32) // d: keeps c off the wild tail
	require.True(t, ok)

	tbl.Free(a)
	tbl.Free(c)
	require.NoError(t, tbl.CheckInvariants())
	_, freeBefore, wildBefore := tbl.Stats()
	require.Equal(t, uint32(64), freeBefore, "a and c are free but not adjacent to each other")

	tbl.Free(b)
	require.NoError(t, tbl.CheckInvariants())
	_, freeAfter, wildAfter := tbl.Stats()
	require.Equal(t, uint32(3*32+2*HeaderSize), freeAfter, "freeing b bridges a-b-c into one run")
	require.Equal(t, wildBefore, wildAfter, "the bridged run never reaches the wild tail")
}
