package lock

// UpdateSplitRight migrates record locks whose heap number is a key in
// remap from oldKey to newKey, translating each to its mapped heap
// number on the new page. The caller (btree, which knows the old and
// new page layouts) supplies the old→new heap-number mapping for every
// record that moved — lock_update_split_right: "moves locks on
// records >= the split key to the new page."
func (m *Manager) UpdateSplitRight(oldKey, newKey bucketKey, remap map[uint32]uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.recordBuckets[oldKey] {
		for oldHeap, newHeap := range remap {
			if !l.heaps.contains(oldHeap) {
				continue
			}
			l.heaps.remove(oldHeap)
			moved := &RecordLock{Key: newKey, Trx: l.Trx, Mode: l.Mode, Flags: l.Flags, heaps: newHeapBitmap(newHeap)}
			m.recordBuckets[newKey] = append(m.recordBuckets[newKey], moved)
		}
	}

	kept := m.recordBuckets[oldKey][:0:0]
	for _, l := range m.recordBuckets[oldKey] {
		if !l.heaps.isEmpty() {
			kept = append(kept, l)
		}
	}
	m.recordBuckets[oldKey] = kept
}

// UpdateDiscard moves every lock covering fromHeapNo on key to
// toHeapNo instead — lock_update_discard's "inherit all locks to a
// neighboring record" when a page is discarded, and
// lock_rec_store_on_page_infimum's stash of a relocated record's locks
// onto the page infimum during an in-place update. Both are the same
// underlying heap-bit move, just invoked with different neighbors.
func (m *Manager) UpdateDiscard(key bucketKey, fromHeapNo, toHeapNo uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.recordBuckets[key] {
		if l.heaps.contains(fromHeapNo) {
			l.heaps.remove(fromHeapNo)
			l.heaps.add(toHeapNo)
		}
	}
}

// StoreOnPageInfimum is UpdateDiscard under the name the spec uses for
// the in-place-update relocation case (lock_rec_store_on_page_infimum).
func (m *Manager) StoreOnPageInfimum(key bucketKey, heapNo, infimumHeapNo uint32) {
	m.UpdateDiscard(key, heapNo, infimumHeapNo)
}

// BucketKey exposes the (space, page) hash key btree needs to pass
// into UpdateSplitRight/UpdateDiscard/StoreOnPageInfimum.
func BucketKey(space, page uint32) bucketKey { return bucketKey{space: space, page: page} }
