// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package common holds small helpers shared by every ibkv package: the
// engine-wide error taxonomy and integer/bit utilities that don't
// belong to any single subsystem.
package common

import (
	"errors"
	"fmt"
)

// Code is the engine-wide error taxonomy from the external interface
// contract. Every public entry point returns one of these, wrapped in an
// *Error, rather than an ad-hoc error string.
type Code int

const (
	Success Code = iota
	ErrGeneric
	ErrOutOfMemory
	ErrOutOfFileSpace
	ErrLockWait
	ErrDeadlock
	ErrRollback
	ErrDuplicateKey
	ErrMissingHistory
	ErrTableNotFound
	ErrTableIsBeingUsed
	ErrTooBigRecord
	ErrLockWaitTimeout
	ErrNoReferencedRow
	ErrRowIsReferenced
	ErrCannotAddConstraint
	ErrCorruption
	ErrColAppearsTwiceInIndex
	ErrCannotDropConstraint
	ErrNoSavepoint
	ErrTablespaceAlreadyExists
	ErrTablespaceDeleted
	ErrLockTableFull
	ErrForeignDuplicateKey
	ErrTooManyConcurrentTrxs
	ErrUnsupported
	ErrPrimaryKeyIsNull
	ErrFail
	ErrOverflow
	ErrUnderflow
	ErrStrongFail
	ErrZipOverflow
	ErrRecordNotFound
	ErrEndOfIndex
	ErrSchemaError
	ErrDataMismatch
	ErrSchemaNotLocked
	ErrNotFound
	ErrReadonly
	ErrInvalidInput
	ErrFatal
	ErrInterrupted
)

var codeNames = map[Code]string{
	Success:                    "DB_SUCCESS",
	ErrGeneric:                 "DB_ERROR",
	ErrOutOfMemory:             "DB_OUT_OF_MEMORY",
	ErrOutOfFileSpace:          "DB_OUT_OF_FILE_SPACE",
	ErrLockWait:                "DB_LOCK_WAIT",
	ErrDeadlock:                "DB_DEADLOCK",
	ErrRollback:                "DB_ROLLBACK",
	ErrDuplicateKey:            "DB_DUPLICATE_KEY",
	ErrMissingHistory:          "DB_MISSING_HISTORY",
	ErrTableNotFound:           "DB_TABLE_NOT_FOUND",
	ErrTableIsBeingUsed:        "DB_TABLE_IS_BEING_USED",
	ErrTooBigRecord:            "DB_TOO_BIG_RECORD",
	ErrLockWaitTimeout:         "DB_LOCK_WAIT_TIMEOUT",
	ErrNoReferencedRow:         "DB_NO_REFERENCED_ROW",
	ErrRowIsReferenced:         "DB_ROW_IS_REFERENCED",
	ErrCannotAddConstraint:     "DB_CANNOT_ADD_CONSTRAINT",
	ErrCorruption:              "DB_CORRUPTION",
	ErrColAppearsTwiceInIndex:  "DB_COL_APPEARS_TWICE_IN_INDEX",
	ErrCannotDropConstraint:    "DB_CANNOT_DROP_CONSTRAINT",
	ErrNoSavepoint:             "DB_NO_SAVEPOINT",
	ErrTablespaceAlreadyExists: "DB_TABLESPACE_ALREADY_EXISTS",
	ErrTablespaceDeleted:       "DB_TABLESPACE_DELETED",
	ErrLockTableFull:           "DB_LOCK_TABLE_FULL",
	ErrForeignDuplicateKey:     "DB_FOREIGN_DUPLICATE_KEY",
	ErrTooManyConcurrentTrxs:   "DB_TOO_MANY_CONCURRENT_TRXS",
	ErrUnsupported:             "DB_UNSUPPORTED",
	ErrPrimaryKeyIsNull:        "DB_PRIMARY_KEY_IS_NULL",
	ErrFail:                    "DB_FAIL",
	ErrOverflow:                "DB_OVERFLOW",
	ErrUnderflow:               "DB_UNDERFLOW",
	ErrStrongFail:              "DB_STRONG_FAIL",
	ErrZipOverflow:             "DB_ZIP_OVERFLOW",
	ErrRecordNotFound:          "DB_RECORD_NOT_FOUND",
	ErrEndOfIndex:              "DB_END_OF_INDEX",
	ErrSchemaError:             "DB_SCHEMA_ERROR",
	ErrDataMismatch:            "DB_DATA_MISMATCH",
	ErrSchemaNotLocked:         "DB_SCHEMA_NOT_LOCKED",
	ErrNotFound:                "DB_NOT_FOUND",
	ErrReadonly:                "DB_READONLY",
	ErrInvalidInput:            "DB_INVALID_INPUT",
	ErrFatal:                   "DB_FATAL",
	ErrInterrupted:             "DB_INTERRUPTED",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("DB_UNKNOWN(%d)", int(c))
}

// Error wraps a Code with context. Callers that need to branch on the
// taxonomy use errors.As / CodeOf rather than string matching.
type Error struct {
	Code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.err)
	}
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.msg)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.err }

// NewError builds an *Error carrying code with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to an underlying error, preserving it for errors.Is/As.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...), err: err}
}

// CodeOf extracts the Code from err, defaulting to ErrGeneric when err does
// not carry one (a nil err yields Success).
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrGeneric
}
