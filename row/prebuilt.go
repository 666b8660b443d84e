// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package row implements the row DML engine: insert/update/delete
// against a table's clustered and secondary indexes, a prebuilt cursor
// surface that bundles a statement's working state, and a rate-limited
// DML delay valve for when purge falls behind.
package row

import (
	"github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/txn"
)

// Prebuilt is a statement's reusable working state: which table/trx it
// runs against and the persistent cursor it last positioned, mirroring
// `other_examples/KilimcininKorOglu-oba/storage-engine.go`'s
// StorageEngine surface generalized to InnoDB's row_prebuilt_t — a
// struct the caller keeps across calls instead of re-resolving the
// table and re-searching from the root every time.
type Prebuilt struct {
	Table *dict.Table
	Trx   *txn.Trx

	index  *dict.Index
	cursor *btree.PCur
}

// NewPrebuilt binds a statement to table, searching its clustered index
// unless idx names a secondary one to use instead.
func NewPrebuilt(table *dict.Table, trx *txn.Trx, idx *dict.Index) *Prebuilt {
	if idx == nil {
		idx = table.Clustered
	}
	return &Prebuilt{Table: table, Trx: trx, index: idx}
}

// Index returns the index this prebuilt is currently positioned
// against.
func (pb *Prebuilt) Index() *dict.Index { return pb.index }

// Reposition re-searches pb's index for key at mode, replacing any
// cursor from a previous statement — `ib_cursor_moveto`'s contract.
func (pb *Prebuilt) Reposition(mt *mtr.Mtr, key *record.Tuple, mode btree.SearchMode, latch mtr.LatchMode) error {
	pc, err := pb.index.Tree.Search(mt, key, mode, latch)
	if err != nil {
		return err
	}
	pb.cursor = pc
	return nil
}

// Cursor exposes the live persistent cursor for callers (the engine
// package's ib_cursor_* surface) that need to drive MoveNext/MovePrev
// directly.
func (pb *Prebuilt) Cursor() *btree.PCur { return pb.cursor }
