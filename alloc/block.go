package alloc

// Every block's 16-byte header holds two descriptors: this_desc (its own
// payload size + state) and prev_desc (a copy of the physically preceding
// block's descriptor). Keeping a copy of the neighbor's descriptor lets
// Free walk backward in O(1) to find a coalescing candidate without a
// separate footer or a reverse scan.

func thisDesc(arena []byte, blockOff uint32) (size uint32, st state) {
	return readDesc(arena, blockOff)
}

func setThisDesc(arena []byte, blockOff uint32, size uint32, st state) {
	writeDesc(arena, blockOff, size, st)
}

func prevDesc(arena []byte, blockOff uint32) (size uint32, st state) {
	return readDesc(arena, blockOff+descSize)
}

func setPrevDesc(arena []byte, blockOff uint32, size uint32, st state) {
	writeDesc(arena, blockOff+descSize, size, st)
}

// nextBlockOff returns the header offset of the block physically
// following the one at blockOff with the given payload size.
func nextBlockOff(blockOff, payloadSize uint32) uint32 {
	return blockOff + HeaderSize + payloadSize
}

// prevBlockOff returns the header offset of the block physically
// preceding blockOff, or ok=false if blockOff is the first real block
// (its prev_desc names the begin sentinel).
func prevBlockOff(arena []byte, blockOff uint32) (off uint32, ok bool) {
	pSize, pSt := prevDesc(arena, blockOff)
	if pSt == stateBeginSentinel || pSt == stateInvalid {
		return 0, false
	}
	return blockOff - (HeaderSize + pSize), true
}

// retagNextPrevDesc updates the prev_desc copy stored in the block that
// follows blockOff, after blockOff's own descriptor has changed. Must be
// called every time a block is created, resized or removed.
func retagNextPrevDesc(arena []byte, blockOff, payloadSize uint32, st state) {
	next := nextBlockOff(blockOff, payloadSize)
	setPrevDesc(arena, next, payloadSize, st)
}
