// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package alloc implements the engine's region allocator: a 32-byte
// granular segregated-freelist allocator over one pre-reserved arena,
// with a balanced-tree-indexed path for large blocks and boundary-tag
// coalescing. It backs every other subsystem's allocations (frames,
// tuples, lock objects, undo records) the way the source engine's arena
// heaps do, one arena per logical scope.
package alloc

import "encoding/binary"

// state tags a block's boundary-tag descriptor.
type state uint8

const (
	stateInvalid state = iota
	stateUsed
	stateFree
	stateWild
	stateBeginSentinel
	stateEndSentinel
	stateLargeSentinel
)

const (
	// Granularity is the request-size quantum: TryMalloc rounds every
	// request up to a multiple of it. Blocks formed by coalescing or
	// splitting include header bytes, so their sizes need not be.
	Granularity = 32
	// descSize is the encoded size of one {size,state} descriptor.
	descSize = 8
	// HeaderSize is the boundary-tag header every block carries:
	// this_desc (our own size+state) followed by prev_desc (the
	// immediately preceding block's size+state), enabling O(1)
	// backward walks without a separate free list scan.
	HeaderSize = 2 * descSize
	// smallBinMax is the largest request size served by a freelist bin;
	// larger requests go through the size-ordered tree.
	smallBinMax = 2048
	// numBins is the number of freelist bins, one per 32-byte size class
	// up to smallBinMax.
	numBins = 64
	// linkSize is the space used by the intrusive doubly-linked freelist
	// pointers stored inside a free block's payload, immediately after
	// its header (prev, next, each a uint32 arena offset; 0 means nil —
	// offset 0 is always inside the begin sentinel, never a valid block).
	linkSize = 8
)

// Ptr is a handle to an allocated block: its payload's byte offset within
// the arena. Using an index rather than a raw pointer keeps allocation
// ownership explicit and lets the arena be a plain growable-free []byte,
// per the "arena indices, not pointers" design note.
type Ptr uint32

const nilPtr Ptr = 0

func readDesc(arena []byte, off uint32) (size uint32, st state) {
	size = binary.LittleEndian.Uint32(arena[off:])
	st = state(binary.LittleEndian.Uint32(arena[off+4:]))
	return
}

func writeDesc(arena []byte, off uint32, size uint32, st state) {
	binary.LittleEndian.PutUint32(arena[off:], size)
	binary.LittleEndian.PutUint32(arena[off+4:], uint32(st))
}

// payloadOffset and blockOffset convert between a block's 16-byte
// boundary-tag header offset and its payload offset; blockOffset is
// used when only the payload pointer is known.
func payloadOffset(blockOff uint32) uint32 { return blockOff + HeaderSize }
func blockOffset(payloadOff uint32) uint32 { return payloadOff - HeaderSize }

func readLink(arena []byte, blockOff uint32) (prev, next uint32) {
	base := payloadOffset(blockOff)
	prev = binary.LittleEndian.Uint32(arena[base:])
	next = binary.LittleEndian.Uint32(arena[base+4:])
	return
}

func writeLink(arena []byte, blockOff uint32, prev, next uint32) {
	base := payloadOffset(blockOff)
	binary.LittleEndian.PutUint32(arena[base:], prev)
	binary.LittleEndian.PutUint32(arena[base+4:], next)
}

func align32(n uint32) uint32 { return (n + Granularity - 1) &^ (Granularity - 1) }

// bin returns the freelist bin index for a block (or request) of size s:
// bin(s) = min(63, (s-1)/32).
func bin(size uint32) int {
	b := int((size - 1) / Granularity)
	if b > numBins-1 {
		b = numBins - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// binFloor returns the smallest block size that belongs to bin b — not
// called by the allocator and never used for request rounding (requests are
// rounded up to a 32-byte multiple, then binned by size, not vice versa).
func binFloor(b int) uint32 { return uint32(b)*Granularity + 1 }
