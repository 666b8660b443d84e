package txn

import (
	"context"
	"testing"
	"time"

	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/mvcc"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(lock.New(4, 200*time.Millisecond), mvcc.NewStore())
}

func TestBeginAssignsIncreasingIDsAndOpensReadView(t *testing.T) {
	m := newTestManager()
	t1 := m.Begin(RepeatableRead)
	t2 := m.Begin(RepeatableRead)
	require.Equal(t, TrxID(1), t1.ID)
	require.Equal(t, TrxID(2), t2.ID)
	require.NotNil(t, t1.ReadView)
	require.True(t, t1.ReadView.Sees(t1.ID))
}

func TestCommitReleasesLocksAndRemovesFromActive(t *testing.T) {
	m := newTestManager()
	t1 := m.Begin(ReadCommitted)
	require.NoError(t, m.Locks.AcquireTable(context.Background(), lock.TrxID(t1.ID), 5, lock.ModeX))
	require.NoError(t, m.Commit(t1))

	_, ok := m.Lookup(t1.ID)
	require.False(t, ok)

	// lock released: a second trx can now take the same table X lock.
	t2 := m.Begin(ReadCommitted)
	require.NoError(t, m.Locks.AcquireTable(context.Background(), lock.TrxID(t2.ID), 5, lock.ModeX))
}

func TestRollbackWalksUndoAndMarksRolledBack(t *testing.T) {
	m := newTestManager()
	trx := m.Begin(ReadCommitted)
	m.AppendUndo(trx, trx.ID, mvcc.UndoInsert, 1, []byte("pk"), nil)

	var applied int
	err := m.Rollback(context.Background(), trx, func(rec mvcc.UndoRec) error {
		applied++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, RolledBack, trx.State)
}

func TestSavepointRollbackIsPartial(t *testing.T) {
	m := newTestManager()
	trx := m.Begin(ReadCommitted)
	m.AppendUndo(trx, trx.ID, mvcc.UndoInsert, 1, []byte("pk1"), nil)
	trx.NewSavepoint("sp1")
	m.AppendUndo(trx, trx.ID, mvcc.UndoInsert, 1, []byte("pk2"), nil)

	var applied int
	err := m.RollbackToSavepoint(trx, "sp1", func(mvcc.UndoRec) error {
		applied++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, Active, trx.State)

	err = m.RollbackToSavepoint(trx, "missing", func(mvcc.UndoRec) error { return nil })
	require.Error(t, err)
	require.Equal(t, common.ErrNoSavepoint, common.CodeOf(err))
}

func TestTwoPhaseCommit(t *testing.T) {
	m := newTestManager()
	trx := m.Begin(ReadCommitted)
	require.NoError(t, m.Prepare(trx))
	require.Equal(t, Prepared, trx.State)
	require.NoError(t, m.CommitComplete(trx))
	require.Equal(t, CommittedInMemory, trx.State)
}
