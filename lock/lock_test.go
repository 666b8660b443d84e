package lock

import (
	"context"
	"testing"
	"time"

	"github.com/ibkv-project/ibkv/common"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return New(4, 200*time.Millisecond)
}

func TestAcquireTableCompatibleModesBothGrantImmediately(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireTable(ctx, 1, 100, ModeIS))
	require.NoError(t, m.AcquireTable(ctx, 2, 100, ModeIS))
}

func TestAcquireTableConflictWaitsThenGrantsOnRelease(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireTable(ctx, 1, 100, ModeX))

	result := make(chan error, 1)
	go func() { result <- m.AcquireTable(ctx, 2, 100, ModeS) }()

	select {
	case <-result:
		t.Fatal("conflicting table lock should not have been granted yet")
	case <-time.After(30 * time.Millisecond):
	}

	m.ReleaseAll(1)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken after release")
	}
}

func TestAcquireTableWaitTimesOutWithoutRelease(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireTable(ctx, 1, 100, ModeX))

	err := m.AcquireTable(ctx, 2, 100, ModeS)
	require.Error(t, err)
	require.Equal(t, common.ErrLockWaitTimeout, common.CodeOf(err))
}

func TestAcquireTableDeadlockPicksYoungestVictim(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.AcquireTable(ctx, 1, 10, ModeX))
	require.NoError(t, m.AcquireTable(ctx, 2, 20, ModeX))

	errs := make(chan struct {
		trx TrxID
		err error
	}, 2)
	go func() { errs <- struct {
		trx TrxID
		err error
	}{1, m.AcquireTable(ctx, 1, 20, ModeX)} }()
	go func() { errs <- struct {
		trx TrxID
		err error
	}{2, m.AcquireTable(ctx, 2, 10, ModeX)} }()

	first := <-errs
	second := <-errs

	// exactly one of the two requests must fail with a deadlock, and
	// per the spec the victim is the youngest (larger id) transaction.
	var deadlockTrx TrxID
	var deadlockCount int
	for _, r := range []struct {
		trx TrxID
		err error
	}{first, second} {
		if common.CodeOf(r.err) == common.ErrDeadlock {
			deadlockCount++
			deadlockTrx = r.trx
		}
	}
	require.Equal(t, 1, deadlockCount)
	require.Equal(t, TrxID(2), deadlockTrx)

	m.ReleaseAll(1)
	m.ReleaseAll(2)
}

func TestAcquireRecordGapLocksFromDifferentTrxNeverConflict(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireRecord(ctx, 1, 1, 5, 3, ModeX, FlagGap))
	require.NoError(t, m.AcquireRecord(ctx, 2, 1, 5, 3, ModeX, FlagGap))
}

func TestAcquireRecordXConflictsWithXOnSameHeap(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireRecord(ctx, 1, 1, 5, 3, ModeX, Ordinary))

	err := m.AcquireRecord(ctx, 2, 1, 5, 3, ModeX, Ordinary)
	require.Error(t, err)
	require.Equal(t, common.ErrLockWaitTimeout, common.CodeOf(err))
}

func TestInsertIntentionWaitsBehindGapLockThenGrantsOnRelease(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireRecord(ctx, 1, 1, 5, 7, ModeX, FlagGap))

	result := make(chan error, 1)
	go func() {
		result <- m.AcquireRecord(ctx, 2, 1, 5, 7, ModeX, FlagGap|FlagInsertIntention)
	}()

	select {
	case <-result:
		t.Fatal("insert-intention lock should wait behind a live gap lock")
	case <-time.After(30 * time.Millisecond):
	}

	m.ReleaseAll(1)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("insert-intention waiter was never woken after release")
	}
}

func TestRecNotGapDoesNotConflictWithInsertIntention(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireRecord(ctx, 1, 1, 5, 9, ModeX, FlagRecNotGap))
	require.NoError(t, m.AcquireRecord(ctx, 2, 1, 5, 9, ModeX, FlagGap|FlagInsertIntention))
}

func TestQueueIteratorWalksTableQueueTailToHead(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireTable(ctx, 1, 50, ModeIS))
	require.NoError(t, m.AcquireTable(ctx, 2, 50, ModeIS))
	require.NoError(t, m.AcquireTable(ctx, 3, 50, ModeIS))

	it := NewTableQueueIterator(m, 50)
	var seen []TrxID
	for {
		e, ok := it.GetPrev()
		if !ok {
			break
		}
		seen = append(seen, e.Trx)
	}
	require.Equal(t, []TrxID{3, 2, 1}, seen)
}

func TestReleaseAllWakesMultipleCompatibleWaiters(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.AcquireTable(ctx, 1, 60, ModeX))

	r1 := make(chan error, 1)
	r2 := make(chan error, 1)
	go func() { r1 <- m.AcquireTable(ctx, 2, 60, ModeIS) }()
	go func() { r2 <- m.AcquireTable(ctx, 3, 60, ModeIS) }()

	time.Sleep(20 * time.Millisecond)
	m.ReleaseAll(1)

	require.NoError(t, <-r1)
	require.NoError(t, <-r2)
}
