// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package txn implements the transaction manager: the trx lifecycle
// state machine, commit/rollback/savepoints, two-phase commit, and the
// schema latch serializing DDL against running DML.
package txn

import (
	"github.com/ibkv-project/ibkv/mvcc"
)

// TrxID is the engine-wide transaction id type; lock.TrxID and
// mvcc.TrxID are both plain uint64 for the same reason (avoiding a
// dependency cycle back onto this package while they were built), so
// conversions between them are free.
type TrxID = uint64

// State is a transaction's coarse lifecycle state, the spec's trx state
// machine: NOT_STARTED -> ACTIVE -> (PREPARED ->)? COMMITTED_IN_MEMORY
// or ROLLED_BACK.
type State uint8

const (
	NotStarted State = iota
	Active
	Prepared
	CommittedInMemory
	RolledBack
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Active:
		return "ACTIVE"
	case Prepared:
		return "PREPARED"
	case CommittedInMemory:
		return "COMMITTED_IN_MEMORY"
	case RolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// IsoLevel is the transaction's isolation level, governing whether a
// fresh ReadView is opened per-statement or once for the whole
// transaction.
type IsoLevel uint8

const (
	ReadUncommitted IsoLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// Savepoint names a point in a transaction's undo chain it can roll
// back to without undoing everything — a plain undo-LSN-indexed slice
// entry, per the spec's "named list in the trx."
type Savepoint struct {
	Name    string
	RollPtr mvcc.RollPtr
}

// Trx is one transaction: its id, lifecycle state, isolation level,
// consistent read view (opened by Manager.Begin for RepeatableRead and
// Serializable, by Manager.Reopen otherwise), undo chain position, and the
// locks it has taken out (tracked by id in lock.Manager, not held
// locally).
type Trx struct {
	ID         TrxID
	State      State
	Iso        IsoLevel
	ReadView   *mvcc.ReadView
	LastUndo   mvcc.RollPtr // most recent RollPtr this trx has appended, NullRollPtr if none
	Savepoints []Savepoint
}

// NewSavepoint records name at the transaction's current undo position.
// Re-declaring an existing name moves it to the current position,
// matching a real engine's savepoint semantics.
func (t *Trx) NewSavepoint(name string) {
	for i := range t.Savepoints {
		if t.Savepoints[i].Name == name {
			t.Savepoints[i].RollPtr = t.LastUndo
			return
		}
	}
	t.Savepoints = append(t.Savepoints, Savepoint{Name: name, RollPtr: t.LastUndo})
}

// ReleaseSavepoint forgets name without rolling back to it.
func (t *Trx) ReleaseSavepoint(name string) bool {
	for i := range t.Savepoints {
		if t.Savepoints[i].Name == name {
			t.Savepoints = append(t.Savepoints[:i], t.Savepoints[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Trx) findSavepoint(name string) (mvcc.RollPtr, bool) {
	for _, sp := range t.Savepoints {
		if sp.Name == name {
			return sp.RollPtr, true
		}
	}
	return 0, false
}
