// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package dict implements the in-memory data dictionary: the
// SYS_TABLES/SYS_COLUMNS/SYS_INDEXES/SYS_FIELDS/SYS_FOREIGN registries
// every table and index lookup goes through, name-keyed the way the
// teacher's own chain-data table registry validates a name-keyed config
// map at startup.
package dict

import (
	"sync"

	ibkvbtree "github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/record"
	tbtree "github.com/tidwall/btree"
)

// Index is one SYS_INDEXES row paired with its live B-tree.
type Index struct {
	ID         uint64
	Name       string
	TableID    uint64
	KeyCols    []string // leading key column names, in order
	Unique     bool
	Clustered  bool
	Tree       *ibkvbtree.Index
}

// Column is one SYS_COLUMNS row: a dict.Table's column shape, reusing
// record.Column for the physical type since the two never diverge.
type Column = record.Column

// Foreign is one SYS_FOREIGN row: a foreign key constraint from this
// table's Columns to a referenced table's.
type Foreign struct {
	Name           string
	TableID        uint64
	Columns        []string
	RefTableID     uint64
	RefColumns     []string
}

// Table is one SYS_TABLES row: a table's full column shape, its
// clustered index, and any secondary indexes or foreign keys declared
// on it.
type Table struct {
	ID         uint64
	Name       string
	Columns    []*Column
	Clustered  *Index
	Secondary  []*Index
	Foreign    []*Foreign

	dropPending bool // background-drop list membership, see MarkDropPending/BackgroundDropList
}

// ColumnIndex returns the ordinal of name within t.Columns, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Dictionary is the engine's full in-memory data dictionary: every
// table and index definition, name- and id-keyed, guarded by a single
// RWMutex (ddl takes the write side through txn.Manager's schema latch
// before calling any mutating Dictionary method; row takes only the
// read side implicitly by holding a *Table/*Index pointer across a
// statement).
type Dictionary struct {
	mu sync.RWMutex

	byName map[string]*Table
	byID   map[uint64]*Table
	order  *tbtree.BTreeG[uint64] // table ids in ascending order, for ddl truncate/rename iteration

	nextTableID uint64
	nextIndexID uint64
}

// New returns an empty dictionary with id allocation starting at 1 (id
// 0 is reserved, matching SYS_TABLES' convention that no real table
// owns it).
func New() *Dictionary {
	return &Dictionary{
		byName:      make(map[string]*Table),
		byID:        make(map[uint64]*Table),
		order:       tbtree.NewBTreeG[uint64](func(a, b uint64) bool { return a < b }),
		nextTableID: 1,
		nextIndexID: 1,
	}
}

// CreateTable registers a new table with cols as its full row shape and
// a freshly allocated, not-yet-built clustered index record; the caller
// (ddl) fills in Clustered.Tree once the root page exists. Returns
// ErrTablespaceAlreadyExists if the name is taken — the dictionary's
// analogue of the spec's "table already exists" DDL failure.
func (d *Dictionary) CreateTable(name string, cols []*Column) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byName[name]; ok {
		return nil, common.NewError(common.ErrTablespaceAlreadyExists, "dict: table %q already exists", name)
	}
	t := &Table{ID: d.nextTableID, Name: name, Columns: cols}
	d.nextTableID++
	d.byName[name] = t
	d.byID[t.ID] = t
	d.order.Set(t.ID)
	return t, nil
}

// DropTable removes table together with the index and foreign-key rows
// it owns; other tables' foreign keys that reference it are left as is.
func (d *Dictionary) DropTable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byName[name]
	if !ok {
		return common.NewError(common.ErrTableNotFound, "dict: table %q not found", name)
	}
	delete(d.byName, name)
	delete(d.byID, t.ID)
	d.order.Delete(t.ID)
	return nil
}

// RenameTable moves a table's SYS_TABLES row to a new name without
// touching its id or indexes.
func (d *Dictionary) RenameTable(oldName, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byName[oldName]
	if !ok {
		return common.NewError(common.ErrTableNotFound, "dict: table %q not found", oldName)
	}
	if _, exists := d.byName[newName]; exists {
		return common.NewError(common.ErrTablespaceAlreadyExists, "dict: table %q already exists", newName)
	}
	delete(d.byName, oldName)
	t.Name = newName
	d.byName[newName] = t
	return nil
}

// GetTable looks up a table by name.
func (d *Dictionary) GetTable(name string) (*Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byName[name]
	return t, ok
}

// GetTableByID looks up a table by its SYS_TABLES id.
func (d *Dictionary) GetTableByID(id uint64) (*Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	return t, ok
}

// AddIndex attaches idx (already built by ddl, Tree populated) to
// table, as the clustered index if Clustered is set, otherwise as a
// secondary index. Assigns idx.ID if it is still zero.
func (d *Dictionary) AddIndex(table *Table, idx *Index) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx.ID == 0 {
		idx.ID = d.nextIndexID
		d.nextIndexID++
	}
	idx.TableID = table.ID
	if idx.Clustered {
		table.Clustered = idx
		return
	}
	table.Secondary = append(table.Secondary, idx)
}

// DropIndex removes a named secondary index from table. Dropping the
// clustered index is a DropTable, not a DropIndex — ddl enforces that.
func (d *Dictionary) DropIndex(table *Table, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ix := range table.Secondary {
		if ix.Name == name {
			table.Secondary = append(table.Secondary[:i], table.Secondary[i+1:]...)
			return nil
		}
	}
	return common.NewError(common.ErrTableNotFound, "dict: index %q not found on table %q", name, table.Name)
}

// MarkDropPending flags table for ddl's background drop list — the
// spec's deferred-drop path for a table still referenced by an open
// cursor.
func (d *Dictionary) MarkDropPending(table *Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table.dropPending = true
}

// BackgroundDropList returns every table currently flagged
// drop-pending, in ascending table-id order.
func (d *Dictionary) BackgroundDropList() []*Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Table
	d.order.Scan(func(id uint64) bool {
		if t := d.byID[id]; t != nil && t.dropPending {
			out = append(out, t)
		}
		return true
	})
	return out
}

// Tables returns every table in ascending table-id order, the order
// ddl's truncate/rename sweep and recovery scans iterate in.
func (d *Dictionary) Tables() []*Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Table, 0, len(d.byID))
	d.order.Scan(func(id uint64) bool {
		out = append(out, d.byID[id])
		return true
	})
	return out
}
