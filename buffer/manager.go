package buffer

import (
	"sync"

	"github.com/elastic/go-freelru"
	"github.com/ibkv-project/ibkv/common"
)

// PageSize is the fixed frame payload size every Manager is built from.
const PageSize = 16 * 1024

func hashFrameID(id FrameID) uint32 { return uint32(id) ^ uint32(id>>16) }

// Manager owns the fixed frame array, the four pools, the page->frame
// directory, and replacement policy. All methods are safe for
// concurrent use; callers needing a consistent multi-step view (as an
// MTR does) take mtr's own latch, not this one.
type Manager struct {
	mu sync.Mutex

	frames []frame // frames[0] is an unused sentinel; ids are 1-based
	pools  [numPools]*poolVec
	dir    *directory

	// recycleLRU tracks recency of Recycle-pool frames. A frame that is
	// touched while already tracked is "hot" and gets promoted to
	// Default; one that ages out past capacity is flagged as the next
	// eviction candidate, giving scan-resistant O(1) victim selection
	// instead of a clock sweep over the whole Recycle pool.
	recycleLRU   *freelru.LRU[FrameID, struct{}]
	nextRecycleVictim FrameID

	clockDefault int

	metrics *Metrics
}

// NewManager builds a Manager with `capacity` frames, all starting in
// the Free pool.
func NewManager(capacity int, metrics *Metrics) (*Manager, error) {
	if capacity <= 0 {
		return nil, common.NewError(common.ErrInvalidInput, "buffer: capacity must be positive, got %d", capacity)
	}
	lru, err := freelru.New[FrameID, struct{}](uint32(capacity), hashFrameID)
	if err != nil {
		return nil, common.Wrap(common.ErrGeneric, err, "buffer: constructing recycle LRU")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	m := &Manager{
		frames:     make([]frame, capacity+1),
		dir:        newDirectory(capacity),
		recycleLRU: lru,
		metrics:    metrics,
	}
	for p := PoolFree; p < numPools; p++ {
		m.pools[p] = newPoolVec(capacity)
	}
	lru.SetOnEvict(func(id FrameID, _ struct{}) {
		m.nextRecycleVictim = id
	})

	for i := 1; i <= capacity; i++ {
		id := FrameID(i)
		f := &m.frames[i]
		f.id = id
		f.pool = PoolFree
		f.bucket = -1
		f.vbucket = -1
		f.data = make([]byte, PageSize)
		f.poolIndex = m.pools[PoolFree].push(id)
	}
	m.metrics.setPoolSize(PoolFree, capacity)
	return m, nil
}

func (m *Manager) frameAt(id FrameID) *frame { return &m.frames[id] }

// AllocateFrame pops a frame from the free pool into dest, evicting a
// clean unpinned victim first if the free pool is empty. ok is false
// when no frame can be produced (caller must flush dirty pages or wait,
// per the frame table's documented failure mode).
func (m *Manager) AllocateFrame(dest Pool) (FrameID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pools[PoolFree].count() == 0 {
		if !m.evictOneLocked() {
			return 0, false
		}
	}
	id := m.takeFreeLocked()
	if id == nilFrame {
		return 0, false
	}
	m.moveLocked(id, dest)
	m.metrics.incAllocate(dest)
	return id, true
}

func (m *Manager) takeFreeLocked() FrameID {
	free := m.pools[PoolFree]
	if free.count() == 0 {
		return nilFrame
	}
	idx := free.count() - 1
	id := free.entries[idx]
	m.removeFromPoolLocked(id)
	return id
}

// FreeFrame returns a frame to the free pool. Precondition: the frame is
// marked evictable, unpinned, clean, and has no directory bucket — the
// same precondition the spec states for free_frame.
func (m *Manager) FreeFrame(id FrameID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.frameAt(id)
	if !f.evict || f.pinned() || f.isDirty || f.bucket != -1 {
		return common.NewError(common.ErrInvalidInput,
			"buffer: frame %d not free-able (evict=%v pin=%d dirty=%v bucket=%d)",
			id, f.evict, f.pinCount, f.isDirty, f.bucket)
	}
	m.moveLocked(id, PoolFree)
	f.pageID = 0
	f.evict = false
	m.metrics.incFree()
	return nil
}

// MoveToPool relocates a frame to dest in O(1), used by replacement
// policy (promotion/demotion) outside the allocate/free lifecycle.
func (m *Manager) MoveToPool(id FrameID, dest Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveLocked(id, dest)
}

func (m *Manager) moveLocked(id FrameID, dest Pool) {
	f := m.frameAt(id)
	if f.pool == dest {
		return
	}
	m.removeFromPoolLocked(id)
	f.pool = dest
	f.poolIndex = m.pools[dest].push(id)
	m.metrics.setPoolSize(dest, m.pools[dest].count())
}

func (m *Manager) removeFromPoolLocked(id FrameID) {
	f := m.frameAt(id)
	src := m.pools[f.pool]
	moved := src.removeAt(f.poolIndex)
	if moved != nilFrame {
		m.frameAt(moved).poolIndex = f.poolIndex
	}
	m.metrics.setPoolSize(f.pool, src.count())
}

// Pin/Unpin adjust a frame's pin count; a pinned frame is never chosen
// as an eviction victim.
func (m *Manager) Pin(id FrameID) {
	m.mu.Lock()
	m.frameAt(id).pinCount++
	m.mu.Unlock()
}

func (m *Manager) Unpin(id FrameID) {
	m.mu.Lock()
	f := m.frameAt(id)
	if f.pinCount > 0 {
		f.pinCount--
	}
	m.mu.Unlock()
}

// Lookup probes the page directory.
func (m *Manager) Lookup(pageID PageID) (FrameID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir.lookup(pageID)
}

// Put inserts or updates the page->frame mapping, records the bucket
// on the frame, and runs replacement bookkeeping: a page seen for the
// first time enters tracking through Recycle (scan resistance); a page
// already tracked in Recycle is promoted to Default on re-reference.
func (m *Manager) Put(pageID PageID, id FrameID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.dir.put(pageID, id)
	f := m.frameAt(id)
	f.pageID = pageID
	f.bucket = bucket
	m.touchLocked(id)
	return bucket
}

// Remove deletes a page's directory entry (e.g. on eviction) and clears
// the frame's bucket.
func (m *Manager) Remove(pageID PageID) (FrameID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.dir.remove(pageID)
	if ok {
		m.frameAt(id).bucket = -1
	}
	return id, ok
}

// Touch records a reference to a frame for replacement purposes.
func (m *Manager) Touch(id FrameID) {
	m.mu.Lock()
	m.touchLocked(id)
	m.mu.Unlock()
}

func (m *Manager) touchLocked(id FrameID) {
	f := m.frameAt(id)
	switch f.pool {
	case PoolRecycle:
		if _, hot := m.recycleLRU.Get(id); hot {
			m.moveLocked(id, PoolDefault)
			m.recycleLRU.Remove(id)
			return
		}
		m.recycleLRU.Add(id, struct{}{})
	case PoolDefault:
		m.recycleLRU.Remove(id) // no-op if absent; keeps bookkeeping tidy
	}
}

// MarkDirty flags a frame as modified; the buffer manager never writes
// it back itself — that is the log/checkpoint subsystem's job once the
// owning MTR commits.
func (m *Manager) MarkDirty(id FrameID) {
	m.mu.Lock()
	f := m.frameAt(id)
	if !f.isDirty {
		f.isDirty = true
		m.metrics.incDirty()
	}
	m.mu.Unlock()
}

// MarkClean is called once a frame's modifications have been flushed.
func (m *Manager) MarkClean(id FrameID) {
	m.mu.Lock()
	f := m.frameAt(id)
	if f.isDirty {
		f.isDirty = false
		m.metrics.decDirty()
	}
	m.mu.Unlock()
}

// SetEvictable marks whether a frame is a candidate for eviction at all
// (catalog roots and other Keep-pool pages typically never are).
func (m *Manager) SetEvictable(id FrameID, evictable bool) {
	m.mu.Lock()
	m.frameAt(id).evict = evictable
	m.mu.Unlock()
}

// LatchS/LatchX/UnlatchS/UnlatchX guard a frame's page content, separate
// from pin counting: an MTR holds one of these for the duration of a
// page_get, in the latch hierarchy's position below the index tree
// SX-latch and above nothing.
func (m *Manager) LatchS(id FrameID)   { m.frameAt(id).latch.RLock() }
func (m *Manager) UnlatchS(id FrameID) { m.frameAt(id).latch.RUnlock() }
func (m *Manager) LatchX(id FrameID)   { m.frameAt(id).latch.Lock() }
func (m *Manager) UnlatchX(id FrameID) { m.frameAt(id).latch.Unlock() }

func (m *Manager) Data(id FrameID) []byte { return m.frameAt(id).data }
func (m *Manager) PageID(id FrameID) PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameAt(id).pageID
}

// evictOneLocked tries the recycle-LRU's flagged victim first, then
// falls back to a clock sweep over Default. Both only ever choose a
// clean, unpinned, evictable frame; dirty frames require the caller to
// flush first (buf_flush / checkpoint), matching the spec's stated
// failure mode for allocate_frame.
func (m *Manager) evictOneLocked() bool {
	if m.nextRecycleVictim != nilFrame {
		id := m.nextRecycleVictim
		m.nextRecycleVictim = nilFrame
		if m.tryEvictLocked(id) {
			return true
		}
	}
	def := m.pools[PoolDefault]
	for i, n := 0, def.count(); i < n && def.count() > 0; i++ {
		m.clockDefault %= def.count()
		id := def.entries[m.clockDefault]
		m.clockDefault++
		if m.tryEvictLocked(id) {
			return true
		}
	}
	// Last resort: scan Recycle directly for anything evictable. Copy
	// the entries first since a successful evict mutates the pool.
	rec := append([]FrameID(nil), m.pools[PoolRecycle].entries...)
	for _, id := range rec {
		if m.tryEvictLocked(id) {
			return true
		}
	}
	return false
}

func (m *Manager) tryEvictLocked(id FrameID) bool {
	f := m.frameAt(id)
	if f.pinned() || f.isDirty || !f.evict {
		return false
	}
	if f.pageID != 0 {
		m.dir.remove(f.pageID)
		f.bucket = -1
		f.pageID = 0
	}
	m.recycleLRU.Remove(id)
	m.moveLocked(id, PoolFree)
	m.metrics.incEvict()
	return true
}
