package lock

import (
	"context"
	"sync"
)

// detectDeadlock runs a bounded-depth DFS over the wait-for graph
// starting at start, looking for a path back to start. Each node's
// outgoing wait-for edges are probed concurrently, gated by m.sem, per
// the spec's "DFS the wait-for graph ... bounded by a maximum search
// depth." Called with m.mu already held — probe goroutines only read
// m.waitFor, never mutate manager state, so they need no lock of their
// own. On a cycle, the victim is its youngest transaction (largest
// TrxID), matching "choose the youngest trx as victim."
func (m *Manager) detectDeadlock(start TrxID) (victim TrxID, cycle []TrxID, found bool) {
	var mu sync.Mutex
	visited := map[TrxID]bool{start: true}
	var cyclePath []TrxID
	var wg sync.WaitGroup

	var probe func(path []TrxID, node TrxID, depth int)
	probe = func(path []TrxID, node TrxID, depth int) {
		defer wg.Done()
		if depth > m.maxProbeDepth {
			return
		}
		mu.Lock()
		done := cyclePath != nil
		mu.Unlock()
		if done {
			return
		}

		for next := range m.waitFor[node] {
			if next == start {
				mu.Lock()
				if cyclePath == nil {
					cyclePath = append(append([]TrxID{}, path...), node)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			if visited[next] {
				mu.Unlock()
				continue
			}
			visited[next] = true
			mu.Unlock()

			nextPath := append(append([]TrxID{}, path...), node)
			if err := m.sem.Acquire(context.Background(), 1); err != nil {
				continue
			}
			wg.Add(1)
			go func(n TrxID, p []TrxID, d int) {
				defer m.sem.Release(1)
				probe(p, n, d)
			}(next, nextPath, depth+1)
		}
	}

	wg.Add(1)
	probe(nil, start, 0)
	wg.Wait()

	if cyclePath == nil {
		return 0, nil, false
	}
	victim = cyclePath[0]
	for _, t := range cyclePath {
		if t > victim {
			victim = t
		}
	}
	return victim, cyclePath, true
}

// abortWaiterLocked forces every lock request victim is currently
// waiting on to fail with DB_DEADLOCK and drops them from their
// queues, matching "mark its error state DEADLOCK, release its
// waiting lock, and wake it to roll back." Called with m.mu held.
func (m *Manager) abortWaiterLocked(victim TrxID, _ []TrxID) {
	for table, locks := range m.tableLocks {
		kept := locks[:0:0]
		for _, l := range locks {
			if l.waiting && l.Trx == victim {
				l.wait.done <- errDeadlock()
				continue
			}
			kept = append(kept, l)
		}
		m.tableLocks[table] = kept
	}
	for key, locks := range m.recordBuckets {
		kept := locks[:0:0]
		for _, l := range locks {
			if l.waiting && l.Trx == victim {
				l.wait.done <- errDeadlock()
				continue
			}
			kept = append(kept, l)
		}
		m.recordBuckets[key] = kept
	}
	m.clearWaitEdges(victim)
}
