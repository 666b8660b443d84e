// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/record"
)

// ClustSearchTupleCreate builds an empty KEY tuple over table's
// clustered index key columns, for use as a cursor_moveto search key
// — clust_search_tuple_create.
func ClustSearchTupleCreate(table *dict.Table) *record.Tuple {
	cols := clusteredKeyCols(table)
	return record.NewKeyTuple(cols, len(cols))
}

// ClustReadTupleCreate builds an empty ROW tuple over every column of
// table, for use as a cursor_read_row destination — clust_read_tuple_create.
func ClustReadTupleCreate(table *dict.Table) *record.Tuple {
	return record.NewRowTuple(table.Columns)
}

// SecSearchTupleCreate builds an empty KEY tuple over a secondary
// index's key columns — sec_search_tuple_create.
func SecSearchTupleCreate(idx *dict.Index) *record.Tuple {
	cols := idx.Tree.Cols[:len(idx.KeyCols)]
	return record.NewKeyTuple(cols, len(cols))
}

// SecReadTupleCreate builds an empty ROW tuple over a secondary
// index's full leaf shape (key columns + folded-in PK columns) —
// sec_read_tuple_create.
func SecReadTupleCreate(idx *dict.Index) *record.Tuple {
	return record.NewRowTuple(idx.Tree.Cols)
}

// TupleCopy deep-copies t, field by field.
func TupleCopy(t *record.Tuple) *record.Tuple {
	out := &record.Tuple{Flavor: t.Flavor, Fields: append([]record.Field(nil), t.Fields...), NColsToCompare: t.NColsToCompare}
	for i := range out.Fields {
		out.Fields[i].Data = append([]byte(nil), out.Fields[i].Data...)
	}
	return out
}

// TupleClear resets every field of t back to SQL_NULL — tuple_clear.
func TupleClear(t *record.Tuple) {
	for i := range t.Fields {
		t.Fields[i].Null = true
		t.Fields[i].Data = nil
		t.Fields[i].External = false
	}
}

// TupleDelete is a no-op in this build: tuples are ordinary
// garbage-collected values with no off-heap resources to release —
// tuple_delete kept only for the API surface's parity with the spec.
func TupleDelete(t *record.Tuple) {}

// TupleGetNUserCols and TupleGetNCols both return t's field count: this
// build has no separate hidden-system-column slots inside Tuple itself
// (see row.Versions), so "user columns" and "all columns" coincide.
func TupleGetNUserCols(t *record.Tuple) int { return len(t.Fields) }
func TupleGetNCols(t *record.Tuple) int     { return len(t.Fields) }

// TupleGetClusterKey projects row (a ROW tuple over table's full shape)
// down to just its clustered-index key columns — tuple_get_cluster_key.
func TupleGetClusterKey(table *dict.Table, row *record.Tuple) *record.Tuple {
	keyCols := clusteredKeyCols(table)
	key := record.NewKeyTuple(keyCols, len(keyCols))
	for i, col := range keyCols {
		srcIdx := table.ColumnIndex(col.Name)
		key.Fields[i] = row.Fields[srcIdx]
		key.Fields[i].Col = col
	}
	return key
}

func clusteredKeyCols(table *dict.Table) []*record.Column {
	cols := make([]*record.Column, 0, len(table.Clustered.KeyCols))
	for _, name := range table.Clustered.KeyCols {
		cols = append(cols, table.Columns[table.ColumnIndex(name)])
	}
	return cols
}

func keyTupleFrom(table *dict.Table, raw []byte) (*record.Tuple, error) {
	cols := clusteredKeyCols(table)
	t, err := record.ReadTuple(raw, cols, record.FlavorKey)
	if err != nil {
		return nil, err
	}
	t.NColsToCompare = len(cols)
	return t, nil
}

func rowTupleFrom(table *dict.Table, raw []byte) (*record.Tuple, error) {
	return record.ReadTuple(raw, table.Columns, record.FlavorRow)
}
