// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"context"

	"github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/row"
)

// MatchMode names how cursor_moveto's returned position relates to its
// search key — cursor_set_match_mode({CLOSEST, EXACT, PREFIX}).
type MatchMode uint8

const (
	MatchClosest MatchMode = iota
	MatchExact
	MatchPrefix
)

// Cursor is the table cursor API's Go shape: a row.Prebuilt plus the
// bookkeeping (match mode, lock mode) ib_cursor_* tracks per handle.
type Cursor struct {
	e   *Engine
	h   *txnHandle
	pb  *row.Prebuilt
	match MatchMode
	mode  lock.Mode
}

// CursorOpenTable opens a cursor on table's clustered index —
// cursor_open_table(name|id, trx).
func (e *Engine) CursorOpenTable(h *txnHandle, tableName string) (*Cursor, error) {
	if err := e.checkPanic(); err != nil {
		return nil, err
	}
	table, ok := e.Dict.GetTable(tableName)
	if !ok {
		return nil, common.NewError(common.ErrTableNotFound, "engine: table %q not found", tableName)
	}
	return &Cursor{e: e, h: h, pb: row.NewPrebuilt(table, h.trx, table.Clustered), mode: lock.ModeS}, nil
}

// CursorOpenIndexUsingName opens a cursor on a named index (clustered
// or secondary) of table — cursor_open_index_using_name.
func (e *Engine) CursorOpenIndexUsingName(h *txnHandle, tableName, indexName string) (*Cursor, error) {
	if err := e.checkPanic(); err != nil {
		return nil, err
	}
	table, ok := e.Dict.GetTable(tableName)
	if !ok {
		return nil, common.NewError(common.ErrTableNotFound, "engine: table %q not found", tableName)
	}
	idx := namedIndex(table, indexName)
	if idx == nil {
		return nil, common.NewError(common.ErrTableNotFound, "engine: index %q not found on table %q", indexName, tableName)
	}
	return &Cursor{e: e, h: h, pb: row.NewPrebuilt(table, h.trx, idx), mode: lock.ModeS}, nil
}

// CursorOpenIndexUsingID is cursor_open_index_using_id's Go analogue,
// resolving the index by dictionary id instead of name.
func (e *Engine) CursorOpenIndexUsingID(h *txnHandle, tableID, indexID uint64) (*Cursor, error) {
	if err := e.checkPanic(); err != nil {
		return nil, err
	}
	table, ok := e.Dict.GetTableByID(tableID)
	if !ok {
		return nil, common.NewError(common.ErrTableNotFound, "engine: table id %d not found", tableID)
	}
	var idx *dict.Index
	if table.Clustered != nil && table.Clustered.ID == indexID {
		idx = table.Clustered
	}
	for _, sec := range table.Secondary {
		if sec.ID == indexID {
			idx = sec
		}
	}
	if idx == nil {
		return nil, common.NewError(common.ErrTableNotFound, "engine: index id %d not found", indexID)
	}
	return &Cursor{e: e, h: h, pb: row.NewPrebuilt(table, h.trx, idx), mode: lock.ModeS}, nil
}

func namedIndex(table *dict.Table, name string) *dict.Index {
	if table.Clustered != nil && table.Clustered.Name == name {
		return table.Clustered
	}
	for _, ix := range table.Secondary {
		if ix.Name == name {
			return ix
		}
	}
	return nil
}

// SetMatchMode records the cursor's match mode — cursor_set_match_mode.
// Neither CursorMoveTo nor CursorReadRow consults it.
func (c *Cursor) SetMatchMode(m MatchMode) { c.match = m }

// SetLockMode records the record lock mode subsequent reads/writes
// through this cursor take — cursor_set_lock_mode / cursor_lock.
func (c *Cursor) SetLockMode(m lock.Mode) { c.mode = m }

// CursorFirst positions c at the first record of its index —
// cursor_first.
func (c *Cursor) CursorFirst() error {
	cols := c.pb.Index().Tree.Cols
	key := record.NewRowTuple(cols)
	key.NColsToCompare = 0
	return c.move(key, btree.ModeGE)
}

// CursorLast positions c at the last record of its index — cursor_last.
func (c *Cursor) CursorLast() error {
	cols := c.pb.Index().Tree.Cols
	key := record.NewRowTuple(cols)
	key.NColsToCompare = 0
	return c.move(key, btree.ModeLE)
}

// CursorNext advances to the next record — cursor_next.
func (c *Cursor) CursorNext() error {
	if c.pb.Cursor() == nil {
		return common.NewError(common.ErrInvalidInput, "engine: cursor not positioned")
	}
	return c.pb.Cursor().MoveNext(c.h.mt, mtr.SLatch)
}

// CursorPrev steps to the previous record — cursor_prev.
func (c *Cursor) CursorPrev() error {
	if c.pb.Cursor() == nil {
		return common.NewError(common.ErrInvalidInput, "engine: cursor not positioned")
	}
	return c.pb.Cursor().MovePrev(c.h.mt, mtr.SLatch)
}

// CursorMoveTo repositions c at key under mode — cursor_moveto(key_tuple,
// mode, &result). The boundary semantics (GE/G/LE/L) are btree's; there
// is no exact mode, and the cursor's match mode is ignored, so neither
// this call nor CursorReadRow reports ErrRecordNotFound when the
// positioned row does not equal key.
func (c *Cursor) CursorMoveTo(key *record.Tuple, mode btree.SearchMode) error {
	return c.move(key, mode)
}

func (c *Cursor) move(key *record.Tuple, mode btree.SearchMode) error {
	if err := c.e.checkPanic(); err != nil {
		return err
	}
	latch := mtr.SLatch
	if c.mode == lock.ModeX || c.mode == lock.ModeIX {
		latch = mtr.XLatch
	}
	return c.pb.Reposition(c.h.mt, key, mode, latch)
}

// CursorReadRow decodes the row currently positioned on, as stored on
// the page — cursor_read_row(tuple). The transaction's read view is not
// consulted and no undo is walked (unlike row.Search); a delete-marked
// row reads as nil only when the transaction has no read view. Returns
// ErrEndOfIndex once the cursor has run off either end.
func (c *Cursor) CursorReadRow() (*record.Tuple, error) {
	if err := c.e.checkPanic(); err != nil {
		return nil, err
	}
	pc := c.pb.Cursor()
	if pc == nil || pc.State != btree.Positioned {
		return nil, common.NewError(common.ErrEndOfIndex, "engine: cursor not positioned on a record")
	}
	payload, deleteMarked, err := pc.Record()
	if err != nil {
		return nil, err
	}
	flavor := record.FlavorRow
	if !c.pb.Index().Clustered {
		flavor = record.FlavorKey
	}
	if deleteMarked && c.h.trx.ReadView == nil {
		return nil, nil
	}
	return record.ReadTuple(payload, c.pb.Index().Tree.Cols, flavor)
}

// CursorInsertRow inserts tuple via the clustered index —
// cursor_insert_row.
func (c *Cursor) CursorInsertRow(ctx context.Context, tuple *record.Tuple) error {
	if err := c.e.checkPanic(); err != nil {
		return err
	}
	if err := c.e.Delay.Wait(ctx); err != nil {
		return err
	}
	err := row.Insert(ctx, c.h.mt, c.e.Trx, c.pb, c.e.Versions, tuple)
	c.noteDuplicate(err)
	return err
}

// CursorUpdateRow rewrites the row the cursor is positioned on with
// newRow — cursor_update_row(old, new). old is accepted for parity with
// the spec's signature but unused: the cursor's own position already
// names the row being replaced.
func (c *Cursor) CursorUpdateRow(ctx context.Context, old, newRow *record.Tuple) error {
	if err := c.e.checkPanic(); err != nil {
		return err
	}
	if err := c.e.Delay.Wait(ctx); err != nil {
		return err
	}
	return row.Update(ctx, c.h.mt, c.e.Trx, c.pb, c.e.Versions, newRow)
}

// CursorDeleteRow delete-marks the row the cursor is positioned on —
// cursor_delete_row.
func (c *Cursor) CursorDeleteRow(ctx context.Context) error {
	if err := c.e.checkPanic(); err != nil {
		return err
	}
	return row.Delete(ctx, c.h.mt, c.e.Trx, c.pb, c.e.Versions)
}

// CursorTruncate empties the cursor's table, returning its (unchanged)
// dictionary id — cursor_truncate(&table_id).
func (c *Cursor) CursorTruncate(space uint32) (uint64, error) {
	if err := c.e.checkPanic(); err != nil {
		return 0, err
	}
	if err := c.e.DDL.TruncateTable(space, c.pb.Table.Name); err != nil {
		return 0, err
	}
	return c.pb.Table.ID, nil
}

// CursorClose releases c; CursorReset drops its current position
// without releasing the handle, so it can be reused for a fresh
// statement against the same table — cursor_close/reset.
func (c *Cursor) CursorClose() {}
func (c *Cursor) CursorReset() { *c.pb = *row.NewPrebuilt(c.pb.Table, c.pb.Trx, c.pb.Index()) }

func (c *Cursor) noteDuplicate(err error) {
	if common.CodeOf(err) == common.ErrDuplicateKey {
		c.h.dupTable = c.pb.Table.Name
		c.h.dupIndex = c.pb.Index().Name
	}
}
