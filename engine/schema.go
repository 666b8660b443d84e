// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/record"
)

// TableSchema accumulates a new table's shape before TableCreate
// registers it — table_schema_create/add_col/add_index's Go analogue.
type TableSchema struct {
	Name       string
	Format     Format
	Cols       []*record.Column
	PrimaryKey []string
	Secondary  []IndexSchema
}

// IndexSchema describes one secondary index to build once the table
// exists — index_schema_set_clustered/set_unique's Go analogue (the
// clustered index is always the schema's PrimaryKey, never a member of
// this slice).
type IndexSchema struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableSchemaCreate starts a new table schema; add columns/indexes by
// mutating the returned value directly before calling TableCreate.
func TableSchemaCreate(name string, format Format) *TableSchema {
	return &TableSchema{Name: name, Format: format}
}

// AddCol appends a column definition to the schema.
func (s *TableSchema) AddCol(col *record.Column) { s.Cols = append(s.Cols, col) }

// IndexSchemaSetClustered records cols as the table's primary key.
func (s *TableSchema) IndexSchemaSetClustered(cols ...string) { s.PrimaryKey = cols }

// AddIndex queues a secondary index to be built once the table exists.
func (s *TableSchema) AddIndex(name string, unique bool, cols ...string) {
	s.Secondary = append(s.Secondary, IndexSchema{Name: name, Columns: cols, Unique: unique})
}

// TableCreate registers schema as a new table, under trx's schema latch
// — table_create(trx, schema, &id).
func (e *Engine) TableCreate(trx *txnHandle, space uint32, schema *TableSchema) (uint64, error) {
	if err := e.checkPanic(); err != nil {
		return 0, err
	}
	e.Trx.LockSchema()
	defer e.Trx.UnlockSchema()

	table, err := e.DDL.CreateTable(space, schema.Name, schema.Cols, schema.PrimaryKey)
	if err != nil {
		return 0, err
	}
	for _, sec := range schema.Secondary {
		if _, err := e.DDL.CreateIndexOnline(trx.mt, space, table, sec.Name, sec.Columns, sec.Unique); err != nil {
			_ = e.DDL.DropTable(schema.Name) // unwind the whole table, not just the failed index
			return 0, err
		}
	}
	return table.ID, nil
}

// TableRename moves a table to a new name — table_rename.
func (e *Engine) TableRename(oldName, newName string) error {
	if err := e.checkPanic(); err != nil {
		return err
	}
	e.Trx.LockSchema()
	defer e.Trx.UnlockSchema()
	return e.DDL.RenameTable(oldName, newName)
}

// TableDrop removes a table and every index on it — table_drop.
func (e *Engine) TableDrop(name string) error {
	if err := e.checkPanic(); err != nil {
		return err
	}
	e.Trx.LockSchema()
	defer e.Trx.UnlockSchema()
	return e.DDL.DropTable(name)
}

// TableTruncate empties a table in place, preserving its id — table_truncate.
func (e *Engine) TableTruncate(space uint32, name string) error {
	if err := e.checkPanic(); err != nil {
		return err
	}
	e.Trx.LockSchema()
	defer e.Trx.UnlockSchema()
	return e.DDL.TruncateTable(space, name)
}

// IndexDrop removes a named secondary index from a table — index_drop.
func (e *Engine) IndexDrop(tableName, indexName string) error {
	if err := e.checkPanic(); err != nil {
		return err
	}
	e.Trx.LockSchema()
	defer e.Trx.UnlockSchema()
	table, ok := e.Dict.GetTable(tableName)
	if !ok {
		return common.NewError(common.ErrTableNotFound, "engine: table %q not found", tableName)
	}
	return e.Dict.DropIndex(table, indexName)
}

// DatabaseDrop drops every table under the "db/" prefix — database_drop.
func (e *Engine) DatabaseDrop(prefix string) []string {
	e.Trx.LockSchema()
	defer e.Trx.UnlockSchema()
	return e.DDL.DropDatabase(prefix)
}

// TableGetID returns a table's dictionary id by name — table_get_id.
func (e *Engine) TableGetID(name string) (uint64, bool) {
	t, ok := e.Dict.GetTable(name)
	if !ok {
		return 0, false
	}
	return t.ID, true
}

// IndexGetID returns a secondary index's dictionary id by table and
// index name — index_get_id.
func (e *Engine) IndexGetID(tableName, indexName string) (uint64, bool) {
	t, ok := e.Dict.GetTable(tableName)
	if !ok {
		return 0, false
	}
	if t.Clustered != nil && t.Clustered.Name == indexName {
		return t.Clustered.ID, true
	}
	for _, ix := range t.Secondary {
		if ix.Name == indexName {
			return ix.ID, true
		}
	}
	return 0, false
}

// SchemaLockShared/SchemaLockExclusive/SchemaUnlock expose the schema
// latch directly — schema_lock_{shared,exclusive}/schema_unlock — for
// a caller that needs to hold it across more than one schema call.
func (e *Engine) SchemaLockShared()    { e.Trx.RLockSchema() }
func (e *Engine) SchemaUnlockShared()  { e.Trx.RUnlockSchema() }
func (e *Engine) SchemaLockExclusive() { e.Trx.LockSchema() }
func (e *Engine) SchemaUnlock()        { e.Trx.UnlockSchema() }

// SchemaTablesIterate visits every table in ascending id order —
// schema_tables_iterate/table_schema_visit collapsed into one callback
// form, since Go has no coroutine-style iterator protocol to mirror
// the original two-call split.
func (e *Engine) SchemaTablesIterate(visit func(*dict.Table) bool) {
	for _, t := range e.Dict.Tables() {
		if !visit(t) {
			return
		}
	}
}
