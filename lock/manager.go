package lock

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// waitEntry is the suspension point for a queued lock request: the
// requesting goroutine blocks on done while the manager's mutex is
// free, so grant/abort/timeout can all complete without holding it.
type waitEntry struct {
	done chan error
}

func newWaitEntry() *waitEntry { return &waitEntry{done: make(chan error, 1)} }

// Manager is the lock table: table locks ordered by arrival, record
// locks hashed by (space, page) into bucket lists, and the wait-for
// graph deadlock detection walks.
type Manager struct {
	mu sync.Mutex

	tableLocks    map[TableID][]*TableLock
	recordBuckets map[bucketKey][]*RecordLock

	// waitFor[a][b] means trx a is blocked waiting on a lock trx b
	// holds (or is itself still waiting on).
	waitFor map[TrxID]map[TrxID]struct{}

	sem             *semaphore.Weighted
	maxProbeDepth   int
	lockWaitTimeout time.Duration
}

// New builds a lock manager. maxConcurrentProbes bounds how many
// deadlock-detection goroutines may explore wait-for edges at once;
// lockWaitTimeout is the default per-request wait cap (spec's
// trx_lock_wait_timeout).
func New(maxConcurrentProbes int64, lockWaitTimeout time.Duration) *Manager {
	if maxConcurrentProbes < 1 {
		maxConcurrentProbes = 1
	}
	return &Manager{
		tableLocks:      make(map[TableID][]*TableLock),
		recordBuckets:   make(map[bucketKey][]*RecordLock),
		waitFor:         make(map[TrxID]map[TrxID]struct{}),
		sem:             semaphore.NewWeighted(maxConcurrentProbes),
		maxProbeDepth:   64,
		lockWaitTimeout: lockWaitTimeout,
	}
}

func (m *Manager) addWaitEdges(from TrxID, to []TrxID) {
	set, ok := m.waitFor[from]
	if !ok {
		set = make(map[TrxID]struct{})
		m.waitFor[from] = set
	}
	for _, t := range to {
		set[t] = struct{}{}
	}
}

func (m *Manager) clearWaitEdges(from TrxID) {
	delete(m.waitFor, from)
}

// waitOn suspends the caller on entry.done, honoring ctx cancellation
// and the manager's lock-wait timeout, and cleans up the wait-for edge
// on either kind of giveup. cleanup is called under m.mu to remove the
// now-abandoned lock request from its table/record slice.
func (m *Manager) waitOn(ctx context.Context, trx TrxID, entry *waitEntry, cleanup func()) error {
	timer := time.NewTimer(m.lockWaitTimeout)
	defer timer.Stop()
	select {
	case err := <-entry.done:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		cleanup()
		m.clearWaitEdges(trx)
		m.mu.Unlock()
		return ctxInterrupted(ctx)
	case <-timer.C:
		m.mu.Lock()
		cleanup()
		m.clearWaitEdges(trx)
		m.mu.Unlock()
		return errLockWaitTimeout()
	}
}

// ReleaseAll releases every table and record lock trx holds, in
// reverse acquisition order, waking granted-eligible waiters on each
// affected queue — the spec's commit/rollback release contract.
func (m *Manager) ReleaseAll(trx TrxID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for table, locks := range m.tableLocks {
		kept := locks[:0:0]
		for i := len(locks) - 1; i >= 0; i-- {
			l := locks[i]
			if l.Trx == trx && !l.waiting {
				continue
			}
			kept = append([]*TableLock{l}, kept...)
		}
		m.tableLocks[table] = kept
		m.wakeTableWaitersLocked(table)
	}

	for key, locks := range m.recordBuckets {
		kept := locks[:0:0]
		for i := len(locks) - 1; i >= 0; i-- {
			l := locks[i]
			if l.Trx == trx && !l.waiting {
				continue
			}
			kept = append([]*RecordLock{l}, kept...)
		}
		m.recordBuckets[key] = kept
		m.wakeRecordWaitersLocked(key)
	}

	m.clearWaitEdges(trx)
	for _, set := range m.waitFor {
		delete(set, trx)
	}
}
