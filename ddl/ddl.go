// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ddl implements the DDL engine: create/drop/rename/truncate
// table and index, online secondary index build via external merge
// sort, and the temp-index recovery sweep.
package ddl

import (
	"sync"

	"github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/record"
)

// pageAllocator hands out monotonically increasing page numbers per
// tablespace — the in-memory stand-in for an FSP free-extent bitmap,
// matching the same simplification btree.Index.newPage already
// documents for page allocation within a tree.
type pageAllocator struct {
	mu   sync.Mutex
	next map[uint32]uint32
}

func newPageAllocator() *pageAllocator {
	return &pageAllocator{next: make(map[uint32]uint32)}
}

func (p *pageAllocator) alloc(space uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.next[space]
	if !ok {
		n = 1
	}
	p.next[space] = n + 1
	return n
}

// Engine is the DDL engine's own state: the dictionary it mutates and
// the page allocator standing in for tablespace extent management.
type Engine struct {
	Dict  *dict.Dictionary
	bm    *buffer.Manager
	pages *pageAllocator

	// MergeRunSize bounds an online index build's in-memory sort run
	// before it spills to disk; zero means defaultRunSize.
	MergeRunSize int
}

// New builds a DDL engine over dictionary d and buffer manager bm.
func New(d *dict.Dictionary, bm *buffer.Manager) *Engine {
	return &Engine{Dict: d, bm: bm, pages: newPageAllocator()}
}

// CreateTable validates name, builds the clustered index's root page,
// and registers the table and its PRIMARY index in the dictionary.
// pkCols names the leading columns (in cols) that make up the primary
// key; on any failure the table row already inserted is unwound —
// open question #2's "fully unwind" resolution (see DESIGN.md).
func (e *Engine) CreateTable(space uint32, name string, cols []*record.Column, pkCols []string) (*dict.Table, error) {
	if name == "" {
		return nil, common.NewError(common.ErrInvalidInput, "ddl: table name must not be empty")
	}
	numKey := len(pkCols)
	if numKey == 0 {
		return nil, common.NewError(common.ErrInvalidInput, "ddl: table %q needs at least one primary key column", name)
	}

	table, err := e.Dict.CreateTable(name, cols)
	if err != nil {
		return nil, err
	}

	rootPage := e.pages.alloc(space)
	tree, err := btree.CreateRoot(e.bm, space, rootPage, cols, numKey, true, true)
	if err != nil {
		_ = e.Dict.DropTable(name) // unwind: drop the SYS_TABLES row we just inserted
		return nil, err
	}
	e.Dict.AddIndex(table, &dict.Index{Name: "PRIMARY", KeyCols: pkCols, Unique: true, Clustered: true, Tree: tree})
	return table, nil
}

// DropTable removes table and every index on it from the dictionary.
// If the table is still in use (table still has secondary indexes a
// caller might be scanning through), callers should prefer
// MarkDropPending over calling DropTable directly; this method always
// drops immediately, matching the spec's "no trx holds a handle" path.
func (e *Engine) DropTable(name string) error {
	return e.Dict.DropTable(name)
}

// RenameTable updates a table's SYS_TABLES row in place.
func (e *Engine) RenameTable(oldName, newName string) error {
	return e.Dict.RenameTable(oldName, newName)
}

// TruncateTable discards table's clustered (and every secondary)
// index's tree and rebuilds empty ones at freshly allocated root
// pages, preserving the table's dictionary id — "three-step reuse of
// SYS_INDEXES rows preserves on-disk identity," simplified here to
// reusing the dict.Table/dict.Index Go values in place rather than
// literal SYS_INDEXES row patching.
func (e *Engine) TruncateTable(space uint32, name string) error {
	table, ok := e.Dict.GetTable(name)
	if !ok {
		return common.NewError(common.ErrTableNotFound, "ddl: table %q not found", name)
	}
	if table.Clustered == nil {
		return common.NewError(common.ErrCorruption, "ddl: table %q has no clustered index", name)
	}
	newRoot := e.pages.alloc(space)
	tree, err := btree.CreateRoot(e.bm, space, newRoot, table.Columns, table.Clustered.Tree.NumKeyCols, true, true)
	if err != nil {
		return err
	}
	table.Clustered.Tree = tree
	for _, sec := range table.Secondary {
		secRoot := e.pages.alloc(space)
		secTree, err := btree.CreateRoot(e.bm, space, secRoot, sec.Tree.Cols, sec.Tree.NumKeyCols, false, sec.Unique)
		if err != nil {
			return err
		}
		sec.Tree = secTree
	}
	return nil
}

// DropDatabase drops every table whose normalized name begins with
// prefix (the "db/" convention), in ascending table-id order so the
// sweep is deterministic.
func (e *Engine) DropDatabase(prefix string) []string {
	var dropped []string
	for _, t := range e.Dict.Tables() {
		if len(t.Name) >= len(prefix) && t.Name[:len(prefix)] == prefix {
			if err := e.Dict.DropTable(t.Name); err == nil {
				dropped = append(dropped, t.Name)
			}
		}
	}
	return dropped
}
