// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package btree implements the clustered and secondary B-tree index: a
// slotted page layout shared by both variants, page split on overflow
// (pages that underflow are not merged), and a persistent cursor that
// degrades to a logical position
// across latch release and restores it by modify-clock.
package btree

import (
	"encoding/binary"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
)

// Page header layout. Records live in a heap growing forward from
// pageHeaderSize; a slot directory of 2-byte offsets, sorted by key,
// grows backward from the end of the page — the same slotted-page shape
// as the rest of the corpus's on-disk formats, specialized with a
// PAGE_GARBAGE-style reclaim counter so deletes don't force an
// immediate compaction.
const (
	offPageType    = 0  // 1 byte: pageLeaf or pageInternal
	offPageLevel   = 1  // 1 byte: 0 at the leaf level, increases toward the root
	offNRecs       = 2  // 2 bytes
	offHeapTop     = 4  // 2 bytes: first free byte of the record heap
	offGarbage     = 6  // 2 bytes: bytes occupied by purged/reclaimable records
	offPrevPage    = 8  // 4 bytes: FIL_NULL if none (leaf-level sibling chain)
	offNextPage    = 12 // 4 bytes
	offModifyClock = 16 // 8 bytes: bumped on every structural change to this page
	pageHeaderSize = 24
)

const FilNull = ^uint32(0)

const (
	pageInternal byte = 0
	pageLeaf     byte = 1
)

const slotSize = 2

// entry header: 2-byte record payload length (record bytes only, not
// counting this header), 1-byte flags (bit 0: delete-marked).
const entryHeaderSize = 3
const flagDeleteMark = byte(1) << 0

func initPage(data []byte, leaf bool, level byte) {
	for i := range data {
		data[i] = 0
	}
	if leaf {
		data[offPageType] = pageLeaf
	} else {
		data[offPageType] = pageInternal
	}
	data[offPageLevel] = level
	binary.BigEndian.PutUint16(data[offNRecs:], 0)
	binary.BigEndian.PutUint16(data[offHeapTop:], pageHeaderSize)
	binary.BigEndian.PutUint16(data[offGarbage:], 0)
	binary.BigEndian.PutUint32(data[offPrevPage:], FilNull)
	binary.BigEndian.PutUint32(data[offNextPage:], FilNull)
	binary.BigEndian.PutUint64(data[offModifyClock:], 0)
}

func pageIsLeaf(data []byte) bool      { return data[offPageType] == pageLeaf }
func pageLevel(data []byte) byte       { return data[offPageLevel] }
func pageNRecs(data []byte) int        { return int(binary.BigEndian.Uint16(data[offNRecs:])) }
func setPageNRecs(data []byte, n int)  { binary.BigEndian.PutUint16(data[offNRecs:], uint16(n)) }
func pageHeapTop(data []byte) int      { return int(binary.BigEndian.Uint16(data[offHeapTop:])) }
func setPageHeapTop(data []byte, v int) {
	binary.BigEndian.PutUint16(data[offHeapTop:], uint16(v))
}
func pageGarbage(data []byte) int     { return int(binary.BigEndian.Uint16(data[offGarbage:])) }
func setPageGarbage(data []byte, v int) {
	binary.BigEndian.PutUint16(data[offGarbage:], uint16(v))
}
func pagePrev(data []byte) uint32     { return binary.BigEndian.Uint32(data[offPrevPage:]) }
func setPagePrev(data []byte, v uint32) { binary.BigEndian.PutUint32(data[offPrevPage:], v) }
func pageNext(data []byte) uint32     { return binary.BigEndian.Uint32(data[offNextPage:]) }
func setPageNext(data []byte, v uint32) { binary.BigEndian.PutUint32(data[offNextPage:], v) }
func pageModifyClock(data []byte) uint64 {
	return binary.BigEndian.Uint64(data[offModifyClock:])
}
func bumpModifyClock(data []byte) {
	binary.BigEndian.PutUint64(data[offModifyClock:], pageModifyClock(data)+1)
}

func slotOff(pageSize, i int) int { return pageSize - (i+1)*slotSize }

func slotValue(data []byte, i int) uint16 {
	off := slotOff(len(data), i)
	return binary.BigEndian.Uint16(data[off:])
}

func setSlotValue(data []byte, i int, v uint16) {
	off := slotOff(len(data), i)
	binary.BigEndian.PutUint16(data[off:], v)
}

// freeSpace returns the contiguous bytes available between the record
// heap's top and the slot directory's low-water mark.
func freeSpace(data []byte) int {
	n := pageNRecs(data)
	slotDirStart := len(data) - n*slotSize
	return slotDirStart - pageHeapTop(data)
}

// usableFreeSpace additionally counts bytes reclaimable by compaction
// (garbage), the figure split/insert decisions should actually use.
func usableFreeSpace(data []byte) int {
	return freeSpace(data) + pageGarbage(data)
}

func entryAt(data []byte, heapOff int) (flags byte, payload []byte) {
	length := int(binary.BigEndian.Uint16(data[heapOff:]))
	flags = data[heapOff+2]
	start := heapOff + entryHeaderSize
	return flags, data[start : start+length]
}

func entrySize(payloadLen int) int { return entryHeaderSize + payloadLen }

// recordAt returns slot i's record payload (the encoded tuple bytes,
// without the entry header) and whether it is delete-marked.
func recordAt(data []byte, i int) (payload []byte, deleteMarked bool) {
	heapOff := int(slotValue(data, i))
	flags, p := entryAt(data, heapOff)
	return p, flags&flagDeleteMark != 0
}

// appendEntry writes a new entry at the current heap top and returns
// its heap offset, growing heapTop but not touching the slot directory.
func appendEntry(data []byte, payload []byte, deleteMarked bool) (heapOff int, ok bool) {
	heapOff = pageHeapTop(data)
	size := entrySize(len(payload))
	if heapOff+size > len(data) {
		return 0, false
	}
	binary.BigEndian.PutUint16(data[heapOff:], uint16(len(payload)))
	if deleteMarked {
		data[heapOff+2] = flagDeleteMark
	} else {
		data[heapOff+2] = 0
	}
	copy(data[heapOff+entryHeaderSize:], payload)
	setPageHeapTop(data, heapOff+size)
	return heapOff, true
}

// insertSlot inserts a slot pointing at heapOff at directory position i,
// shifting later slots down by one (directory grows backward from the
// page end, so "shifting down" means toward lower addresses / higher
// indices further from the end).
func insertSlot(data []byte, i int, heapOff int) {
	n := pageNRecs(data)
	for j := n; j > i; j-- {
		setSlotValue(data, j, slotValue(data, j-1))
	}
	setSlotValue(data, i, uint16(heapOff))
	setPageNRecs(data, n+1)
}

// removeSlot deletes directory position i, shifting later slots up by
// one, and folds the freed entry's bytes into the garbage counter.
func removeSlot(data []byte, i int) {
	n := pageNRecs(data)
	heapOff := int(slotValue(data, i))
	length := int(binary.BigEndian.Uint16(data[heapOff:]))
	for j := i; j < n-1; j++ {
		setSlotValue(data, j, slotValue(data, j+1))
	}
	setPageNRecs(data, n-1)
	setPageGarbage(data, pageGarbage(data)+entrySize(length))
}

// compact rewrites every live record into a fresh heap starting at
// pageHeaderSize, in slot order, reclaiming all garbage. Used before an
// insert that would otherwise fail despite usableFreeSpace being large
// enough.
func compact(data []byte) {
	n := pageNRecs(data)
	type rec struct {
		payload []byte
		deleted bool
	}
	recs := make([]rec, n)
	for i := 0; i < n; i++ {
		p, del := recordAt(data, i)
		recs[i] = rec{payload: append([]byte(nil), p...), deleted: del}
	}
	setPageHeapTop(data, pageHeaderSize)
	setPageGarbage(data, 0)
	for i, r := range recs {
		off, ok := appendEntry(data, r.payload, r.deleted)
		if !ok {
			panic("btree: compact ran out of space it just reclaimed")
		}
		setSlotValue(data, i, uint16(off))
	}
}

// insertAt places payload at directory position i, compacting first if
// the contiguous heap doesn't have room but usableFreeSpace does.
// reports ok=false only when the page is genuinely full and must split.
func insertAt(data []byte, i int, payload []byte) bool {
	need := entrySize(len(payload)) + slotSize
	if freeSpace(data) < need {
		if usableFreeSpace(data) < need {
			return false
		}
		compact(data)
		if freeSpace(data) < need {
			return false
		}
	}
	off, ok := appendEntry(data, payload, false)
	if !ok {
		return false
	}
	insertSlot(data, i, off)
	return true
}

func validatePageSize(data []byte) error {
	if len(data) != buffer.PageSize {
		return common.NewError(common.ErrCorruption, "btree: unexpected page size %d", len(data))
	}
	return nil
}
