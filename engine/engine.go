// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package engine is the composition root: it wires buffer, redolog,
// lock, mvcc, txn, dict, row, and ddl into one Engine value and
// exposes the table cursor / schema / trx / tuple API surface external
// interface contract as Go methods on it.
package engine

import (
	"sync/atomic"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/config"
	"github.com/ibkv-project/ibkv/ddl"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/mvcc"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/redolog"
	"github.com/ibkv-project/ibkv/row"
	"github.com/ibkv-project/ibkv/txn"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ShutdownFlag names how aggressively Shutdown tears the engine down.
type ShutdownFlag uint8

const (
	ShutdownNormal ShutdownFlag = iota
	ShutdownFast
	ShutdownFastest
)

// Format names a supported on-disk format ceiling, the format_name
// startup parameter.
type Format string

const (
	FormatAntelope Format = "ANTELOPE"
	FormatBarracuda Format = "BARRACUDA"
)

func (f Format) valid() bool {
	return f == FormatAntelope || f == FormatBarracuda
}

// dmlRatePerSec converts the options table's dml_delay (a fixed pause
// in microseconds, InnoDB's srv_dml_needed_delay style) into the
// equivalent steady-state rate DMLDelay's token bucket enforces; zero
// or negative micros disables throttling.
func dmlRatePerSec(micros int64) float64 {
	if micros <= 0 {
		return 0
	}
	return 1e6 / float64(micros)
}

// Engine is the single value every public entry point hangs off of,
// per the spec's "global state" design note: one explicit struct
// rather than package-level globals.
type Engine struct {
	Config *config.Config
	Log    *zap.Logger

	Buffer  *buffer.Manager
	Redo    *redolog.Log
	Locks   *lock.Manager
	Trx     *txn.Manager
	Dict    *dict.Dictionary
	DDL     *ddl.Engine
	Versions *row.Versions
	Delay   *row.DMLDelay
	Registry *prometheus.Registry

	format Format
	panic  atomic.Value // stores common.Code; zero value (unset) means no panic
}

// Startup builds and wires every subsystem per cfg — api_init() +
// startup(format_name) collapsed into one call, since this build has
// no separate "library loaded but not started" phase.
func Startup(cfg *config.Config, format Format) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if !format.valid() {
		return nil, common.NewError(common.ErrUnsupported, "engine: unsupported format %q", format)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, common.Wrap(common.ErrGeneric, err, "engine: building logger")
	}

	pages := int(uint64(cfg.BufPoolSize) / buffer.PageSize)
	if pages < 64 {
		pages = 64
	}
	registry := prometheus.NewRegistry()
	metrics := buffer.NewMetrics(registry)
	bm, err := buffer.NewManager(pages, metrics)
	if err != nil {
		return nil, common.Wrap(common.ErrOutOfMemory, err, "engine: building buffer manager")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	redo, err := redolog.Open(dataDir, 2, 1, int64(cfg.LogFileSize), uint64(cfg.LogBufferSize))
	if err != nil {
		return nil, common.Wrap(common.ErrOutOfFileSpace, err, "engine: opening redo log")
	}

	locks := lock.New(cfg.MaxConcurrentDeadlockProbes, cfg.Duration())
	undo := mvcc.NewStore()
	trxMgr := txn.NewManager(locks, undo)
	d := dict.New()

	e := &Engine{
		Config:   cfg,
		Log:      logger,
		Buffer:   bm,
		Redo:     redo,
		Locks:    locks,
		Trx:      trxMgr,
		Dict:     d,
		DDL:      ddl.New(d, bm),
		Versions: row.NewVersions(),
		Delay:    row.NewDMLDelay(dmlRatePerSec(cfg.DMLDelayMicros), 1),
		Registry: registry,
		format:   format,
	}
	logger.Info("engine started", zap.String("format", string(format)), zap.Int("buf_pool_pages", pages))
	return e, nil
}

// Shutdown flushes and closes the redo log. Fast/Fastest skip the
// final checkpoint sync the way InnoDB's innodb_fast_shutdown levels
// do; Normal always checkpoints first.
func (e *Engine) Shutdown(flag ShutdownFlag) error {
	if flag == ShutdownNormal {
		if err := e.Redo.Checkpoint(true, true); err != nil {
			return common.Wrap(common.ErrGeneric, err, "engine: checkpoint on shutdown")
		}
	}
	if _, err := e.Redo.Close(); err != nil {
		return common.Wrap(common.ErrGeneric, err, "engine: closing redo log")
	}
	_ = e.Log.Sync()
	return nil
}

// SetPanic latches a fatal condition; every public entry point checks
// Panicked() first and refuses to touch state once set, matching
// srv_panic_status's IB_CHECK_PANIC() contract.
func (e *Engine) SetPanic(code common.Code) { e.panic.Store(code) }

// Panicked reports whether SetPanic has been called, and with what code.
func (e *Engine) Panicked() (common.Code, bool) {
	v := e.panic.Load()
	if v == nil {
		return common.Success, false
	}
	return v.(common.Code), true
}

func (e *Engine) checkPanic() error {
	if code, ok := e.Panicked(); ok {
		return common.NewError(code, "engine: panicked, refusing operation")
	}
	return nil
}

// RowComparator is the small capability interface the spec's "small
// capability interfaces" design note calls for: anything that can
// order two row tuples, independent of the concrete B-tree.
type RowComparator interface {
	Compare(a, b *record.Tuple) int
}

// recordComparator is the one RowComparator this build ships:
// record.Compare itself, wrapped so it satisfies the interface.
type recordComparator struct{}

func (recordComparator) Compare(a, b *record.Tuple) int { return record.Compare(a, b) }

// DefaultComparator is the RowComparator every cursor uses unless a
// caller substitutes a test double.
var DefaultComparator RowComparator = recordComparator{}

// InterruptSource reports whether the calling statement should abort
// early — e.g. a context.Context's cancellation, surfaced without
// engine needing to import context into every subsystem.
type InterruptSource interface {
	Interrupted() bool
}

// PanicSink is the write side of the srv_panic_status contract that
// Engine itself implements above; a small interface so test doubles
// don't need a whole Engine.
type PanicSink interface {
	SetPanic(code common.Code)
	Panicked() (common.Code, bool)
}

// ctxInterrupt adapts a context.Context to InterruptSource without
// engine's public API forcing every caller to hand one in — only the
// cursor/trx paths that actually block need it.
type ctxInterrupt struct{ done <-chan struct{} }

func (c ctxInterrupt) Interrupted() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
