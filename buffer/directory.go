package buffer

import "github.com/ibkv-project/ibkv/common"

// directory is the page -> frame hash table: open addressing with
// linear probing, sized to a power of two so probing can mask instead
// of mod, and backward-shift deletion (the Robin-Hood technique of
// re-homing the cluster behind a removed slot instead of tombstoning
// it) to keep probe sequences short after removals.
type directory struct {
	slots []dirSlot
	mask  uint64
	used  int
}

type dirSlot struct {
	occupied bool
	pageID   PageID
	frameID  FrameID
}

func newDirectory(capacityHint int) *directory {
	n := common.BitCeil(capacityHint * 2) // keep load factor well under 1
	if n < 8 {
		n = 8
	}
	return &directory{slots: make([]dirSlot, n), mask: uint64(n - 1)}
}

func hashPageID(id PageID) uint64 {
	u := uint64(id)
	return u ^ (u >> 16)
}

func (d *directory) idealSlot(id PageID) uint64 { return hashPageID(id) & d.mask }

// lookup returns the frame mapped to id, if any.
func (d *directory) lookup(id PageID) (FrameID, bool) {
	i := d.idealSlot(id)
	n := uint64(len(d.slots))
	for probed := uint64(0); probed < n; probed++ {
		s := &d.slots[i]
		if !s.occupied {
			return 0, false
		}
		if s.pageID == id {
			return s.frameID, true
		}
		i = (i + 1) & d.mask
	}
	return 0, false
}

// put inserts or updates the mapping id -> frameID, returning the slot
// index it landed in (the spec's bucket id, stashed on the frame so a
// later remove is O(1) instead of re-hashing).
func (d *directory) put(id PageID, frameID FrameID) int {
	if d.used*2 >= len(d.slots) {
		d.grow()
	}
	i := d.idealSlot(id)
	for {
		s := &d.slots[i]
		if !s.occupied {
			s.occupied = true
			s.pageID = id
			s.frameID = frameID
			d.used++
			return int(i)
		}
		if s.pageID == id {
			s.frameID = frameID
			return int(i)
		}
		i = (i + 1) & d.mask
	}
}

// remove deletes id's mapping if present, re-homing the trailing
// cluster with a backward shift so subsequent lookups don't need
// tombstones.
func (d *directory) remove(id PageID) (FrameID, bool) {
	i := d.idealSlot(id)
	n := uint64(len(d.slots))
	for probed := uint64(0); probed < n; probed++ {
		s := &d.slots[i]
		if !s.occupied {
			return 0, false
		}
		if s.pageID == id {
			frameID := s.frameID
			d.backwardShift(i)
			d.used--
			return frameID, true
		}
		i = (i + 1) & d.mask
	}
	return 0, false
}

// backwardShift clears slot `hole` and pulls each following entry back
// one slot as long as doing so doesn't move it before its own ideal
// slot, terminating the cluster at the first empty slot or an entry
// already at its ideal position.
func (d *directory) backwardShift(hole uint64) {
	for {
		next := (hole + 1) & d.mask
		s := &d.slots[next]
		if !s.occupied || d.idealSlot(s.pageID) == next {
			d.slots[hole] = dirSlot{}
			return
		}
		d.slots[hole] = *s
		hole = next
	}
}

func (d *directory) grow() {
	old := d.slots
	d.slots = make([]dirSlot, len(old)*2)
	d.mask = uint64(len(d.slots) - 1)
	d.used = 0
	for _, s := range old {
		if s.occupied {
			d.put(s.pageID, s.frameID)
		}
	}
}
