package lock

import "context"

// RecordLock is one record-lock request or grant: a (trx, mode, flags)
// tuple covering a set of heap numbers on one page, per the spec's
// "each lock carries a bitmap indexed by heap number."
type RecordLock struct {
	Key     bucketKey
	Trx     TrxID
	Mode    Mode
	Flags   RecFlags
	heaps   *heapBitmap
	waiting bool
	wait    *waitEntry
}

// HeapNo reports whether this lock currently covers heapNo.
func (l *RecordLock) HeapNo(heapNo uint32) bool { return l.heaps.contains(heapNo) }

// AcquireRecord requests mode/flags on the record at (space, page,
// heapNo) for trx. A granted lock this trx already holds in the same
// mode/flags on this page simply grows to cover heapNo too (InnoDB
// coalesces same-shape locks from one trx into one object); otherwise
// conflicts are checked against every other trx's granted lock
// covering heapNo, queuing and running deadlock detection on conflict.
func (m *Manager) AcquireRecord(ctx context.Context, trx TrxID, space, page, heapNo uint32, mode Mode, flags RecFlags) error {
	key := bucketKey{space: space, page: page}
	m.mu.Lock()

	if rl := m.findGrantedRecordLock(key, trx, mode, flags); rl != nil {
		rl.heaps.add(heapNo)
		m.mu.Unlock()
		return nil
	}

	var blockers []TrxID
	for _, l := range m.recordBuckets[key] {
		if l.waiting || l.Trx == trx || !l.heaps.contains(heapNo) {
			continue
		}
		if recordFlagsConflict(flags, mode, l.Flags, l.Mode) {
			blockers = append(blockers, l.Trx)
		}
	}

	if len(blockers) == 0 {
		rl := &RecordLock{Key: key, Trx: trx, Mode: mode, Flags: flags, heaps: newHeapBitmap(heapNo)}
		m.recordBuckets[key] = append(m.recordBuckets[key], rl)
		m.mu.Unlock()
		return nil
	}

	rl := &RecordLock{
		Key: key, Trx: trx, Mode: mode, Flags: flags,
		heaps: newHeapBitmap(heapNo), waiting: true, wait: newWaitEntry(),
	}
	m.recordBuckets[key] = append(m.recordBuckets[key], rl)
	m.addWaitEdges(trx, blockers)

	if victim, cycle, found := m.detectDeadlock(trx); found {
		if victim == trx {
			m.removeRecordLockLocked(rl)
			m.clearWaitEdges(trx)
			m.mu.Unlock()
			return errDeadlock()
		}
		m.abortWaiterLocked(victim, cycle)
	}
	m.mu.Unlock()

	return m.waitOn(ctx, trx, rl.wait, func() { m.removeRecordLockLocked(rl) })
}

func (m *Manager) findGrantedRecordLock(key bucketKey, trx TrxID, mode Mode, flags RecFlags) *RecordLock {
	for _, l := range m.recordBuckets[key] {
		if !l.waiting && l.Trx == trx && l.Mode == mode && l.Flags == flags {
			return l
		}
	}
	return nil
}

func (m *Manager) removeRecordLockLocked(target *RecordLock) {
	locks := m.recordBuckets[target.Key]
	for i, l := range locks {
		if l == target {
			m.recordBuckets[target.Key] = append(locks[:i], locks[i+1:]...)
			return
		}
	}
}

// wakeRecordWaitersLocked rechecks each waiting record-lock request in
// queue order against the current granted set, per bucket.
func (m *Manager) wakeRecordWaitersLocked(key bucketKey) {
	locks := m.recordBuckets[key]
	for _, rl := range locks {
		if !rl.waiting {
			continue
		}
		blocked := false
		for _, other := range locks {
			if other == rl || other.waiting || other.Trx == rl.Trx {
				continue
			}
			if other.heaps.intersects(rl.heaps) && recordFlagsConflict(rl.Flags, rl.Mode, other.Flags, other.Mode) {
				blocked = true
				break
			}
		}
		if !blocked {
			rl.waiting = false
			m.clearWaitEdges(rl.Trx)
			rl.wait.done <- nil
		}
	}
}
