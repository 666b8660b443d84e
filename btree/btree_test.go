package btree

import (
	"fmt"
	"testing"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/redolog"
	"github.com/stretchr/testify/require"
)

func testClusteredCols() []*record.Column {
	return []*record.Column{
		{Name: "id", Type: record.TypeInt, Len: 8},
		{Name: "val", Type: record.TypeVarChar, Len: 64},
	}
}

func newTestIndex(t *testing.T) (*Index, *buffer.Manager, *mtr.Mtr) {
	t.Helper()
	bm, err := buffer.NewManager(64, nil)
	require.NoError(t, err)
	log, err := redolog.Open(t.TempDir(), 1, 1, 64*1024, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.CloseFiles() })

	frameID, ok := bm.AllocateFrame(buffer.PoolDefault)
	require.True(t, ok)
	data := bm.Data(frameID)
	initPage(data, true, 0)
	rootPageID := buffer.NewPageID(1, 1)
	bm.Put(rootPageID, frameID)

	ix := Open(bm, 1, 1, testClusteredCols(), 1, true, true)
	m := mtr.New(bm, log)
	return ix, bm, m
}

func rowTuple(cols []*record.Column, id int64, val string) *record.Tuple {
	t := record.NewRowTuple(cols)
	_ = t.SetInt(0, id)
	_ = t.SetBytes(1, []byte(val), 0)
	return t
}

func TestInsertAndSearchSingleLeaf(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	require.NoError(t, ix.Insert(m, rowTuple(cols, 5, "five")))
	require.NoError(t, ix.Insert(m, rowTuple(cols, 1, "one")))
	require.NoError(t, ix.Insert(m, rowTuple(cols, 3, "three")))
	_, err := m.Commit()
	require.NoError(t, err)

	m.Start()
	key := record.NewKeyTuple(cols, 1)
	require.NoError(t, key.SetInt(0, 3))
	pc, err := ix.Search(m, key, ModeGE, mtr.SLatch)
	require.NoError(t, err)
	require.Equal(t, Positioned, pc.State)
	payload, deleted, err := pc.Record()
	require.NoError(t, err)
	require.False(t, deleted)
	got, err := ix.decodeLeafRecord(payload)
	require.NoError(t, err)
	v, _, err := got.Int(0)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
	_, err = m.Commit()
	require.NoError(t, err)
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	require.NoError(t, ix.Insert(m, rowTuple(cols, 1, "one")))
	err := ix.Insert(m, rowTuple(cols, 1, "again"))
	require.Error(t, err)
	_, err = m.Commit()
	require.NoError(t, err)
}

func TestScanOrdersByKeyAscending(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	for _, id := range []int64{9, 2, 7, 1, 5} {
		require.NoError(t, ix.Insert(m, rowTuple(cols, id, fmt.Sprintf("v%d", id))))
	}

	key := record.NewKeyTuple(cols, 1)
	require.NoError(t, key.SetInt(0, 0))
	pc, err := ix.Search(m, key, ModeGE, mtr.SLatch)
	require.NoError(t, err)

	var seen []int64
	for pc.State == Positioned {
		payload, _, err := pc.Record()
		require.NoError(t, err)
		row, err := ix.decodeLeafRecord(payload)
		require.NoError(t, err)
		v, _, err := row.Int(0)
		require.NoError(t, err)
		seen = append(seen, v)
		require.NoError(t, pc.MoveNext(m, mtr.SLatch))
	}
	require.Equal(t, []int64{1, 2, 5, 7, 9}, seen)
	_, err = m.Commit()
	require.NoError(t, err)
}

func TestSplitGrowsTreeAcrossManyInserts(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	const n = 2000
	for i := int64(0); i < n; i++ {
		require.NoError(t, ix.Insert(m, rowTuple(cols, i, fmt.Sprintf("value-number-%d-padding", i))))
	}
	_, err := m.Commit()
	require.NoError(t, err)

	m.Start()
	key := record.NewKeyTuple(cols, 1)
	require.NoError(t, key.SetInt(0, 0))
	pc, err := ix.Search(m, key, ModeGE, mtr.SLatch)
	require.NoError(t, err)

	count := 0
	var last int64 = -1
	for pc.State == Positioned {
		payload, _, err := pc.Record()
		require.NoError(t, err)
		row, err := ix.decodeLeafRecord(payload)
		require.NoError(t, err)
		v, _, err := row.Int(0)
		require.NoError(t, err)
		require.Greater(t, v, last)
		last = v
		count++
		require.NoError(t, pc.MoveNext(m, mtr.SLatch))
	}
	require.Equal(t, n, count)
	_, err = m.Commit()
	require.NoError(t, err)
}

func TestDeleteMarkThenPurgeRemovesRecord(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	require.NoError(t, ix.Insert(m, rowTuple(cols, 1, "one")))
	require.NoError(t, ix.Insert(m, rowTuple(cols, 2, "two")))

	key := record.NewKeyTuple(cols, 1)
	require.NoError(t, key.SetInt(0, 1))
	pc, err := ix.Search(m, key, ModeGE, mtr.XLatch)
	require.NoError(t, err)
	require.NoError(t, ix.DeleteMark(m, pc))

	_, deleted, err := pc.Record()
	require.NoError(t, err)
	require.True(t, deleted)

	require.NoError(t, ix.Purge(m, pc))
	_, err = m.Commit()
	require.NoError(t, err)

	m.Start()
	pc2, err := ix.Search(m, key, ModeGE, mtr.SLatch)
	require.NoError(t, err)
	require.Equal(t, Positioned, pc2.State)
	payload, _, err := pc2.Record()
	require.NoError(t, err)
	row, err := ix.decodeLeafRecord(payload)
	require.NoError(t, err)
	v, _, err := row.Int(0)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
	_, err = m.Commit()
	require.NoError(t, err)
}

func TestModifyInPlaceWhenSizePermits(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	require.NoError(t, ix.Insert(m, rowTuple(cols, 1, "longer-original-value")))

	key := record.NewKeyTuple(cols, 1)
	require.NoError(t, key.SetInt(0, 1))
	pc, err := ix.Search(m, key, ModeGE, mtr.XLatch)
	require.NoError(t, err)

	require.NoError(t, ix.Modify(m, pc, rowTuple(cols, 1, "short")))
	payload, _, err := pc.Record()
	require.NoError(t, err)
	row, err := ix.decodeLeafRecord(payload)
	require.NoError(t, err)
	b, _, err := row.Bytes(1)
	require.NoError(t, err)
	require.Equal(t, []byte("short"), b)
	_, err = m.Commit()
	require.NoError(t, err)
}

func TestStorePositionAndRestoreAfterCommit(t *testing.T) {
	ix, _, m := newTestIndex(t)
	cols := testClusteredCols()

	m.Start()
	require.NoError(t, ix.Insert(m, rowTuple(cols, 1, "one")))
	require.NoError(t, ix.Insert(m, rowTuple(cols, 2, "two")))

	key := record.NewKeyTuple(cols, 1)
	require.NoError(t, key.SetInt(0, 2))
	pc, err := ix.Search(m, key, ModeGE, mtr.SLatch)
	require.NoError(t, err)
	pc.StorePosition()
	_, err = m.Commit()
	require.NoError(t, err)
	require.Equal(t, WasPositioned, pc.State)

	m.Start()
	unchanged, err := pc.RestorePosition(m, mtr.SLatch)
	require.NoError(t, err)
	require.True(t, unchanged)
	require.Equal(t, Positioned, pc.State)
	payload, _, err := pc.Record()
	require.NoError(t, err)
	row, err := ix.decodeLeafRecord(payload)
	require.NoError(t, err)
	v, _, err := row.Int(0)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
	_, err = m.Commit()
	require.NoError(t, err)
}
