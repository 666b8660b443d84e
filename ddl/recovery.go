// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ddl

import "strings"

// DropAllTempIndexes scans every table's secondary indexes for one
// still carrying TempIndexPrefix and drops it — ddl_drop_all_temp_
// indexes(recovery)'s crash-recovery sweep for an online index build
// that never reached row_merge_rename_indexes. recovery is recorded
// only for the caller's logging; the sweep itself is unconditional in
// both the startup-recovery and the explicit-admin-command cases.
func (e *Engine) DropAllTempIndexes(recovery bool) []string {
	var dropped []string
	for _, t := range e.Dict.Tables() {
		var names []string
		for _, ix := range t.Secondary {
			if strings.HasPrefix(ix.Name, TempIndexPrefix) {
				names = append(names, ix.Name)
			}
		}
		for _, name := range names {
			if err := e.Dict.DropIndex(t, name); err == nil {
				dropped = append(dropped, t.Name+"."+name)
			}
		}
	}
	return dropped
}
