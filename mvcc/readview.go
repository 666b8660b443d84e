// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package mvcc implements multi-version concurrency control: undo
// record chains and the read-view visibility test a consistent read
// uses to pick the right row version.
package mvcc

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// TrxID identifies a transaction. mvcc doesn't import txn — it only
// needs the id and its ordering, same reasoning as lock.TrxID.
type TrxID = uint64

// ReadView is a transaction's consistent-read snapshot, fixing which
// other transactions' changes are visible for the lifetime of the
// view — the spec's read-view contract.
type ReadView struct {
	CreatorTrx TrxID
	UpLimitID  TrxID // smallest trx id that was active when the view opened
	LowLimitID TrxID // one past the highest trx id assigned so far
	active     *roaring64.Bitmap
}

// Open builds a read view as of now. creator is the opening
// transaction; activeIDs are every other transaction's id that is
// currently ACTIVE (started, not yet committed or rolled back);
// nextTrxID is the id that will be assigned to the next new
// transaction (so every id >= nextTrxID definitely started after this
// view and is never visible).
func Open(creator TrxID, activeIDs []TrxID, nextTrxID TrxID) *ReadView {
	bm := roaring64.New()
	upLimit := nextTrxID
	for _, id := range activeIDs {
		bm.Add(id)
		if id < upLimit {
			upLimit = id
		}
	}
	return &ReadView{CreatorTrx: creator, UpLimitID: upLimit, LowLimitID: nextTrxID, active: bm}
}

// Sees reports whether a row version stamped with trxID is visible
// under this read view — lock_clust_rec_cons_read_sees's test: a
// transaction always sees its own changes; it sees anything committed
// strictly before the oldest transaction that was active when the
// view opened; it never sees anything started at or after the view
// opened; and for everything in between, it sees it only if that
// transaction was not active (i.e. had already committed) when the
// view opened.
func (v *ReadView) Sees(trxID TrxID) bool {
	if trxID == v.CreatorTrx {
		return true
	}
	if trxID < v.UpLimitID {
		return true
	}
	if trxID >= v.LowLimitID {
		return false
	}
	return !v.active.Contains(trxID)
}
