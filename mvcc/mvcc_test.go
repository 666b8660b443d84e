package mvcc

import (
	"testing"

	"github.com/ibkv-project/ibkv/common"
	"github.com/stretchr/testify/require"
)

func TestReadViewSeesOwnChanges(t *testing.T) {
	view := Open(10, nil, 11)
	require.True(t, view.Sees(10))
}

func TestReadViewSeesCommittedBeforeOldestActive(t *testing.T) {
	view := Open(10, []TrxID{5, 8}, 11)
	require.True(t, view.Sees(3))
	require.False(t, view.Sees(5))
	require.False(t, view.Sees(8))
}

func TestReadViewNeverSeesLaterTrx(t *testing.T) {
	view := Open(10, []TrxID{5, 8}, 11)
	require.False(t, view.Sees(11))
	require.False(t, view.Sees(20))
}

func TestReadViewSeesCommittedBetweenBounds(t *testing.T) {
	// trx 6 was not active at view-open time (only 5 and 8 were), so a
	// change it made before that must be visible.
	view := Open(10, []TrxID{5, 8}, 11)
	require.True(t, view.Sees(6))
}

func TestBuildForConsistentReadReturnsCurrentVersionWhenVisible(t *testing.T) {
	store := NewStore()
	view := Open(10, nil, 11)
	cur := RowVersion{TrxID: 3, RollPtr: NullRollPtr, Row: []byte("v3")}
	got, err := BuildForConsistentRead(store, cur, view)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte("v3"), got.Row)
}

func TestBuildForConsistentReadWalksUndoChainToVisibleVersion(t *testing.T) {
	store := NewStore()
	// trx 7 updated a row originally written by trx 2 ("v2"); a view
	// open while 7 was still active must see the pre-update image.
	ptr := store.Append(7, 2, UndoUpdate, 1, []byte("pk"), []byte("v2"), NullRollPtr)
	cur := RowVersion{TrxID: 7, RollPtr: ptr, Row: []byte("v7")}

	view := Open(100, []TrxID{7}, 101)
	got, err := BuildForConsistentRead(store, cur, view)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte("v2"), got.Row)
	require.Equal(t, TrxID(2), got.TrxID)
}

func TestBuildForConsistentReadStopsAtInsertMeansRowDidNotExist(t *testing.T) {
	store := NewStore()
	ptr := store.Append(7, 0, UndoInsert, 1, []byte("pk"), nil, NullRollPtr)
	cur := RowVersion{TrxID: 7, RollPtr: ptr, Row: []byte("v7")}

	view := Open(100, []TrxID{7}, 101)
	got, err := BuildForConsistentRead(store, cur, view)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBuildForConsistentReadMissingHistoryErrors(t *testing.T) {
	store := NewStore()
	cur := RowVersion{TrxID: 7, RollPtr: RollPtr(99), Row: []byte("v7")}
	view := Open(100, []TrxID{7}, 101)
	_, err := BuildForConsistentRead(store, cur, view)
	require.Error(t, err)
	require.Equal(t, common.ErrMissingHistory, common.CodeOf(err))
}

func TestRollbackWalksChainAndStopsAtSavepoint(t *testing.T) {
	store := NewStore()
	p1 := store.Append(7, 0, UndoInsert, 1, []byte("pk1"), nil, NullRollPtr)
	p2 := store.Append(7, 0, UndoUpdate, 1, []byte("pk1"), []byte("v1"), p1)

	var seen []RollPtr
	err := Rollback(store, p2, p1, func(rec UndoRec) error {
		seen = append(seen, RollPtr(0))
		_ = rec
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1) // only p2 is visited; p1 is the savepoint boundary

	seen = nil
	err = Rollback(store, p2, NullRollPtr, func(rec UndoRec) error {
		seen = append(seen, RollPtr(0))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2) // full rollback visits both p2 and p1
}
