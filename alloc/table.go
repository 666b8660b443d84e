package alloc

import "fmt"

// Table is one arena: a byte slice carved into boundary-tagged blocks,
// a begin/end sentinel pair, small-bin freelists for payloads up to
// smallBinMax, a size-ordered tree for larger free blocks, and a single
// "wild" block at the tail that has never been freed into either
// structure — the untouched remainder of the arena.
type Table struct {
	arena []byte
	bins  binList
	large *largeIndex

	wildOff  uint32 // header offset of the wild block; == endOff when exhausted
	wildSize uint32 // payload bytes left in the wild block
	endOff   uint32 // header offset of the end sentinel

	usedBytes uint32
	freeBytes uint32 // bytes in bins + large index payloads, excludes wild
}

// Init carves region into a fresh arena: a begin sentinel, one wild block
// spanning the rest, and an end sentinel. region must be at least
// 3*HeaderSize bytes.
func Init(region []byte) (*Table, error) {
	if len(region) < 3*HeaderSize {
		return nil, fmt.Errorf("alloc: region of %d bytes too small for sentinels", len(region))
	}
	t := &Table{arena: region, large: newLargeIndex()}

	setThisDesc(t.arena, 0, 0, stateBeginSentinel)

	wildOff := uint32(HeaderSize)
	endOff := uint32(len(region)) - HeaderSize
	wildSize := endOff - wildOff - HeaderSize

	setThisDesc(t.arena, wildOff, wildSize, stateWild)
	setPrevDesc(t.arena, wildOff, 0, stateBeginSentinel)

	setThisDesc(t.arena, endOff, 0, stateEndSentinel)
	setPrevDesc(t.arena, endOff, wildSize, stateWild)

	t.wildOff = wildOff
	t.wildSize = wildSize
	t.endOff = endOff
	return t, nil
}

// payloadNeed rounds a requested payload size up to a 32-byte multiple,
// never below linkSize so a freed copy of the block can always hold the
// intrusive freelist pointers.
func payloadNeed(requested uint32) uint32 {
	if requested < linkSize {
		requested = linkSize
	}
	return align32(requested)
}

// TryMalloc serves want bytes of payload. It first tries the exact-fit
// small-bin path, then the size-ordered large index, then carves fresh
// space from the wild block. ok is false only when none of the three can
// satisfy the request (DB_OUT_OF_MEMORY at the caller).
func (t *Table) TryMalloc(requested uint32) (Ptr, []byte, bool) {
	want := payloadNeed(requested)

	if want <= smallBinMax {
		if off, size, ok := t.takeFromBins(want); ok {
			return t.commitUsed(off, size)
		}
	}
	if off, size, ok := t.takeFromLarge(want); ok {
		return t.commitUsed(off, size)
	}
	if off, actual, ok := t.takeFromWild(want); ok {
		return t.commitUsed(off, actual)
	}
	return nilPtr, nil, false
}

// takeFromBins pops the head of the lowest non-empty bin at or above
// bin(want). A bin covers a 32-byte range of sizes (see bins.go), so if
// the head of bin(want) itself is smaller than want the search moves on
// to the next non-empty bin, every block of which is larger than want.
// The popped block is handed over whole, with no split; size is its
// payload size, which may exceed want.
func (t *Table) takeFromBins(want uint32) (off, size uint32, ok bool) {
	b, found := firstSetFrom(t.bins.mask, bin(want))
	if found {
		if headSize, _ := thisDesc(t.arena, t.bins.heads[b]); headSize < want {
			b, found = firstSetFrom(t.bins.mask, b+1)
		}
	}
	if !found {
		return 0, 0, false
	}
	off, ok = t.bins.pop(t.arena, b)
	if !ok {
		return 0, 0, false
	}
	size, _ = thisDesc(t.arena, off)
	t.freeBytes -= size
	return off, size, true
}

// takeFromLarge takes the smallest large-indexed block that fits want,
// splitting off the remainder when it is large enough to be worth
// keeping (>= Granularity+HeaderSize of payload). size is the payload
// size handed over: want after a split, the whole block otherwise.
func (t *Table) takeFromLarge(want uint32) (off, size uint32, ok bool) {
	size, found := t.large.smallestFit(want)
	if !found {
		return 0, 0, false
	}
	off, ok = t.large.removeHead(t.arena, size)
	if !ok {
		return 0, 0, false
	}
	t.freeBytes -= size
	remainder := size - want
	if remainder < Granularity+HeaderSize {
		// Not worth splitting: hand over the whole block, oversized.
		return off, size, true
	}
	t.splitTail(off, want, size)
	return off, want, true
}

// takeFromWild carves a used block off the front of the wild block,
// shrinking it in place. The wild block's own header is reused as the
// new used block's header (it is not extra space), so the success
// condition is simply want <= wildSize. When the leftover is too small
// to host a new wild header (< HeaderSize), it is folded into the used
// block instead of being stranded, so actualSize may exceed want.
func (t *Table) takeFromWild(want uint32) (off, actualSize uint32, ok bool) {
	if want > t.wildSize {
		return 0, 0, false
	}
	usedOff := t.wildOff
	remaining := t.wildSize - want
	actualSize = want
	if remaining > 0 && remaining < HeaderSize {
		actualSize += remaining
		remaining = 0
	}

	newWildOff := nextBlockOff(usedOff, actualSize)
	if remaining == 0 {
		// Wild is exhausted: the used block now directly precedes
		// whatever follows (the end sentinel, until freed space is
		// coalesced back into a wild-adjacent run by Free/Defrag).
		t.wildOff = newWildOff
		t.wildSize = 0
	} else {
		newWildPayload := remaining - HeaderSize
		setThisDesc(t.arena, newWildOff, newWildPayload, stateWild)
		setPrevDesc(t.arena, newWildOff, actualSize, stateUsed)
		retagNextPrevDesc(t.arena, newWildOff, newWildPayload, stateWild)
		t.wildOff = newWildOff
		t.wildSize = newWildPayload
	}
	return usedOff, actualSize, true
}

// splitTail carves `want` payload bytes off the front of a free block of
// total payload `size` at off, reinserting the remainder as a fresh free
// block immediately after it.
func (t *Table) splitTail(off, want, oldSize uint32) {
	remainder := oldSize - want
	tailOff := nextBlockOff(off, want)
	tailSize := remainder - HeaderSize

	setThisDesc(t.arena, tailOff, tailSize, stateFree)
	setPrevDesc(t.arena, tailOff, want, stateUsed)
	retagNextPrevDesc(t.arena, tailOff, tailSize, stateFree)

	t.insertFree(tailOff, tailSize)
}

func (t *Table) commitUsed(off, size uint32) (Ptr, []byte, bool) {
	setThisDesc(t.arena, off, size, stateUsed)
	retagNextPrevDesc(t.arena, off, size, stateUsed)
	t.usedBytes += size
	p := payloadOffset(off)
	return Ptr(p), t.arena[p : p+size : p+size], true
}

// insertFree files a free block of the given size into the bin list or
// the large index, whichever owns that size class.
func (t *Table) insertFree(off, size uint32) {
	if size <= smallBinMax {
		t.bins.push(t.arena, bin(size), off)
	} else {
		t.large.insert(t.arena, size, off)
	}
	t.freeBytes += size
}

func (t *Table) removeFree(off, size uint32) {
	if size <= smallBinMax {
		t.bins.remove(t.arena, bin(size), off)
	} else {
		t.large.removeExact(t.arena, size, off)
	}
	t.freeBytes -= size
}

// Free returns ptr's block to the arena, coalescing with a free or wild
// neighbor on either side before filing the result. A neighbor that is
// the wild block absorbs the freed block directly rather than the freed
// block being filed into a bin or the large index.
func (t *Table) Free(ptr Ptr) {
	off := blockOffset(uint32(ptr))
	size, _ := thisDesc(t.arena, off)
	t.usedBytes -= size

	var mergedWild bool
	off, size, mergedWild = t.coalesceBackward(off, size)
	if !mergedWild {
		off, size, mergedWild = t.coalesceForward(off, size)
	}
	if mergedWild {
		setThisDesc(t.arena, t.wildOff, t.wildSize, stateWild)
		next := nextBlockOff(t.wildOff, t.wildSize)
		setPrevDesc(t.arena, next, t.wildSize, stateWild)
		return
	}

	setThisDesc(t.arena, off, size, stateFree)
	retagNextPrevDesc(t.arena, off, size, stateFree)
	t.insertFree(off, size)
}

// coalesceBackward merges off into its predecessor if the predecessor is
// free (ordinary merge) or is the wild block (off is absorbed into wild,
// mergedWild=true and the caller must not file anything).
func (t *Table) coalesceBackward(off, size uint32) (newOff, newSize uint32, mergedWild bool) {
	prevOff, ok := prevBlockOff(t.arena, off)
	if !ok {
		return off, size, false
	}
	prevSize, prevSt := thisDesc(t.arena, prevOff)
	switch prevSt {
	case stateFree:
		t.removeFree(prevOff, prevSize)
		return prevOff, prevSize + HeaderSize + size, false
	case stateWild:
		if prevOff == t.wildOff {
			t.wildSize += HeaderSize + size
			return prevOff, t.wildSize, true
		}
	}
	return off, size, false
}

// coalesceForward merges the block following off into it if that
// neighbor is free, or extends the wild block backward to absorb off if
// the neighbor is the wild block.
func (t *Table) coalesceForward(off, size uint32) (newOff, newSize uint32, mergedWild bool) {
	nextOff := nextBlockOff(off, size)
	if nextOff == t.endOff {
		return off, size, false
	}
	nextSize, nextSt := thisDesc(t.arena, nextOff)
	switch nextSt {
	case stateFree:
		t.removeFree(nextOff, nextSize)
		return off, size + HeaderSize + nextSize, false
	case stateWild:
		if nextOff == t.wildOff {
			t.wildOff = off
			t.wildSize = size + HeaderSize + t.wildSize
			return off, t.wildSize, true
		}
	}
	return off, size, false
}

// Defrag walks the arena from the first real block to the end sentinel,
// merging up to budget adjacent free-free or free-wild pairs that were
// left un-coalesced by Free (which only looks at a freed block's
// immediate neighbors, not a result of Defrag's own prior merges in the
// same pass). Returns the number of merges performed.
func (t *Table) Defrag(budget int) int {
	merges := 0
	off, ok := t.firstRealBlock()
	for ok && merges < budget {
		size, st := thisDesc(t.arena, off)
		if st != stateFree {
			off, ok = t.nextRealBlock(off, size)
			continue
		}
		nextOff := nextBlockOff(off, size)
		if nextOff == t.endOff {
			break
		}
		nextSize, nextSt := thisDesc(t.arena, nextOff)
		switch nextSt {
		case stateFree:
			t.removeFree(off, size)
			t.removeFree(nextOff, nextSize)
			merged := size + HeaderSize + nextSize
			setThisDesc(t.arena, off, merged, stateFree)
			retagNextPrevDesc(t.arena, off, merged, stateFree)
			t.insertFree(off, merged)
			merges++
			continue // re-examine off, it may merge again
		case stateWild:
			if nextOff == t.wildOff {
				t.removeFree(off, size)
				t.wildOff = off
				t.wildSize = size + HeaderSize + t.wildSize
				setThisDesc(t.arena, off, t.wildSize, stateWild)
				retagNextPrevDesc(t.arena, off, t.wildSize, stateWild)
				merges++
				return merges // the wild block is the last real block
			}
			off, ok = t.nextRealBlock(off, size)
		default:
			off, ok = t.nextRealBlock(off, size)
		}
	}
	return merges
}

func (t *Table) firstRealBlock() (uint32, bool) {
	off := uint32(HeaderSize)
	if off == t.endOff {
		return 0, false
	}
	return off, true
}

func (t *Table) nextRealBlock(off, size uint32) (uint32, bool) {
	next := nextBlockOff(off, size)
	if next == t.endOff {
		return 0, false
	}
	return next, true
}

// CheckInvariants re-derives used/free/wild byte totals from a full walk
// of the arena's boundary tags and compares them against the running
// counters, catching any bookkeeping drift.
func (t *Table) CheckInvariants() error {
	var used, free, headers uint32
	off, ok := t.firstRealBlock()
	for ok {
		size, st := thisDesc(t.arena, off)
		headers += HeaderSize
		switch st {
		case stateUsed:
			used += size
		case stateFree:
			free += size
		case stateWild:
			if off != t.wildOff {
				return fmt.Errorf("alloc: wild block at %d does not match table.wildOff %d", off, t.wildOff)
			}
		default:
			return fmt.Errorf("alloc: block at %d has unexpected state %d", off, st)
		}
		off, ok = t.nextRealBlock(off, size)
	}
	if used != t.usedBytes {
		return fmt.Errorf("alloc: used bytes mismatch: walked %d, tracked %d", used, t.usedBytes)
	}
	if free != t.freeBytes {
		return fmt.Errorf("alloc: free bytes mismatch: walked %d, tracked %d", free, t.freeBytes)
	}
	sentinelHeaders := uint32(2 * HeaderSize) // begin + end
	total := used + free + t.wildSize + headers + sentinelHeaders
	if int(total) != len(t.arena) {
		return fmt.Errorf("alloc: arena accounting mismatch: %d computed, %d actual", total, len(t.arena))
	}
	return nil
}

// Stats reports the current byte accounting, for callers (tests, the
// engine's metrics exporter) that want totals without re-walking.
func (t *Table) Stats() (usedBytes, freeBytes, wildBytes uint32) {
	return t.usedBytes, t.freeBytes, t.wildSize
}
