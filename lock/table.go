package lock

import "context"

// TableLock is one table-lock request or grant, ordered by arrival in
// the table's slice (spec: "ordered by request arrival").
type TableLock struct {
	Table   TableID
	Trx     TrxID
	Mode    Mode
	waiting bool
	wait    *waitEntry
}

// AcquireTable requests mode on table for trx, granting immediately if
// compatible with every other trx's granted lock on the table, else
// queuing as a waiter and running deadlock detection before
// suspending the caller.
func (m *Manager) AcquireTable(ctx context.Context, trx TrxID, table TableID, mode Mode) error {
	m.mu.Lock()

	if existing, ok := m.findTableLock(table, trx); ok && !tableModesConflict(existing.Mode, mode) {
		m.mu.Unlock()
		return nil
	}

	var blockers []TrxID
	for _, l := range m.tableLocks[table] {
		if l.Trx == trx || l.waiting {
			continue
		}
		if tableModesConflict(l.Mode, mode) {
			blockers = append(blockers, l.Trx)
		}
	}

	if len(blockers) == 0 {
		m.tableLocks[table] = append(m.tableLocks[table], &TableLock{Table: table, Trx: trx, Mode: mode})
		m.mu.Unlock()
		return nil
	}

	tl := &TableLock{Table: table, Trx: trx, Mode: mode, waiting: true, wait: newWaitEntry()}
	m.tableLocks[table] = append(m.tableLocks[table], tl)
	m.addWaitEdges(trx, blockers)

	if victim, cycle, found := m.detectDeadlock(trx); found {
		if victim == trx {
			m.removeTableLockLocked(tl)
			m.clearWaitEdges(trx)
			m.mu.Unlock()
			return errDeadlock()
		}
		m.abortWaiterLocked(victim, cycle)
	}
	m.mu.Unlock()

	return m.waitOn(ctx, trx, tl.wait, func() { m.removeTableLockLocked(tl) })
}

func (m *Manager) findTableLock(table TableID, trx TrxID) (*TableLock, bool) {
	for _, l := range m.tableLocks[table] {
		if l.Trx == trx && !l.waiting {
			return l, true
		}
	}
	return nil, false
}

func (m *Manager) removeTableLockLocked(target *TableLock) {
	locks := m.tableLocks[target.Table]
	for i, l := range locks {
		if l == target {
			m.tableLocks[target.Table] = append(locks[:i], locks[i+1:]...)
			return
		}
	}
}

// wakeTableWaitersLocked rechecks each waiting table-lock request, in
// queue order, against the now-current set of granted locks, granting
// every one that has become compatible.
func (m *Manager) wakeTableWaitersLocked(table TableID) {
	locks := m.tableLocks[table]
	for _, tl := range locks {
		if !tl.waiting {
			continue
		}
		blocked := false
		for _, other := range locks {
			if other == tl || other.waiting || other.Trx == tl.Trx {
				continue
			}
			if tableModesConflict(other.Mode, tl.Mode) {
				blocked = true
				break
			}
		}
		if !blocked {
			tl.waiting = false
			m.clearWaitEdges(tl.Trx)
			tl.wait.done <- nil
		}
	}
}
