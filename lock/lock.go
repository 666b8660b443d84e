// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package lock implements table and record locking: multi-mode table
// locks, gap/next-key/insert-intention record locks hashed by
// (space, page), wait-for deadlock detection, and queue iteration for
// diagnostics.
package lock

import "github.com/RoaringBitmap/roaring/v2"

// TrxID identifies the transaction requesting or holding a lock. The
// lock manager doesn't depend on the txn package — it only needs an
// ordering (larger id = younger trx, per the deadlock victim rule) and
// equality.
type TrxID uint64

// TableID identifies the table a table lock (or a record lock's owning
// index) belongs to, kept as a plain integer here for the same reason
// TrxID is: lock must not import dict.
type TableID uint64

// Mode is a table lock's granted mode. Record locks reuse ModeS/ModeX
// only (record locks are never IS/IX/AutoInc).
type Mode uint8

const (
	ModeIS Mode = iota
	ModeIX
	ModeS
	ModeX
	ModeAutoInc
)

func (m Mode) String() string {
	switch m {
	case ModeIS:
		return "IS"
	case ModeIX:
		return "IX"
	case ModeS:
		return "S"
	case ModeX:
		return "X"
	case ModeAutoInc:
		return "AUTO_INC"
	default:
		return "UNKNOWN"
	}
}

// tableCompat[a][b] is true when a granted table lock in mode a does
// not conflict with a requested table lock in mode b from a different
// trx (lock_table_compatibility in the original source).
var tableCompat = [5][5]bool{
	ModeIS:      {ModeIS: true, ModeIX: true, ModeS: true, ModeX: false, ModeAutoInc: true},
	ModeIX:      {ModeIS: true, ModeIX: true, ModeS: false, ModeX: false, ModeAutoInc: true},
	ModeS:       {ModeIS: true, ModeIX: false, ModeS: true, ModeX: false, ModeAutoInc: false},
	ModeX:       {ModeIS: false, ModeIX: false, ModeS: false, ModeX: false, ModeAutoInc: false},
	ModeAutoInc: {ModeIS: true, ModeIX: true, ModeS: false, ModeX: false, ModeAutoInc: false},
}

func tableModesConflict(granted, requested Mode) bool {
	return !tableCompat[granted][requested]
}

// recordModesConflict is the plain S/X compatibility rule used once
// flag-based gap reasoning (recordFlagsConflict) has decided the two
// locks' coverage actually overlaps.
func recordModesConflict(a, b Mode) bool {
	return a == ModeX || b == ModeX
}

// RecFlags are orthogonal to Mode: a record lock locks some combination
// of the gap before the record and the record itself.
type RecFlags uint8

const (
	// FlagGap alone locks only the gap before the record ("GAP").
	FlagGap RecFlags = 1 << iota
	// FlagRecNotGap locks only the record, not the preceding gap
	// ("REC_NOT_GAP").
	FlagRecNotGap
	// FlagInsertIntention marks a waiting gap lock taken by an insert
	// to serialize against other inserters into the same gap
	// ("INSERT_INTENTION"). Always combined with FlagGap.
	FlagInsertIntention
)

// Ordinary (flags == 0) is gap + record: a next-key lock.
const Ordinary RecFlags = 0

func hasGapComponent(f RecFlags) bool    { return f&FlagRecNotGap == 0 }
func hasRecordComponent(f RecFlags) bool { return f&FlagGap == 0 }
func isInsertIntention(f RecFlags) bool  { return f&FlagInsertIntention != 0 }

// recordFlagsConflict decides whether two record locks on the same
// heap number, held by different transactions, actually overlap in
// what they cover. Gap components never conflict with each other —
// gap locks are purely inhibitive toward inserts, not toward each
// other — except that an insert-intention lock must wait behind any
// plain gap lock (of either mode) held by another trx, since gap locks
// block inserts into the gap regardless of their own mode.
func recordFlagsConflict(aFlags RecFlags, aMode Mode, bFlags RecFlags, bMode Mode) bool {
	aII, bII := isInsertIntention(aFlags), isInsertIntention(bFlags)
	switch {
	case aII && bII:
		return false
	case aII:
		return hasGapComponent(bFlags)
	case bII:
		return hasGapComponent(aFlags)
	}
	return hasRecordComponent(aFlags) && hasRecordComponent(bFlags) && recordModesConflict(aMode, bMode)
}

// bucketKey hashes a record lock's owning page, matching the spec's
// "hashed by (space_id, page_no) into a bucket list".
type bucketKey struct {
	space uint32
	page  uint32
}

// heapBitmap is a small wrapper so callers never touch the roaring API
// directly; a lock's bitmap is indexed by heap number (the record's
// slot on the page), per the spec.
type heapBitmap struct {
	bm *roaring.Bitmap
}

func newHeapBitmap(heapNo uint32) *heapBitmap {
	b := roaring.New()
	b.Add(heapNo)
	return &heapBitmap{bm: b}
}

func (h *heapBitmap) contains(heapNo uint32) bool { return h.bm.Contains(heapNo) }
func (h *heapBitmap) add(heapNo uint32)           { h.bm.Add(heapNo) }
func (h *heapBitmap) isEmpty() bool               { return h.bm.IsEmpty() }
func (h *heapBitmap) remove(heapNo uint32)        { h.bm.Remove(heapNo) }
func (h *heapBitmap) intersects(o *heapBitmap) bool {
	return h.bm.Intersects(o.bm)
}
