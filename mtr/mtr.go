// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package mtr implements the mini-transaction: an atomic, redo-logged
// group of page modifications. Every change to a managed page happens
// inside one, so it can be replayed from the redo stream after a crash.
package mtr

import (
	"encoding/binary"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/redolog"
)

// LatchMode names the page-content latch an MTR takes through PageGet.
type LatchMode uint8

const (
	NoLatch LatchMode = iota
	SLatch
	XLatch
)

type latchedFrame struct {
	id   buffer.FrameID
	mode LatchMode
}

// heldLatch tracks how many times this Mtr itself has re-entered a
// frame it already latched (PageGet on a page it's still holding),
// since sync.RWMutex isn't safe to recursively re-lock from the same
// goroutine — a second PageGet call for a frame this Mtr already holds
// just bumps refCount instead of calling through to the frame latch
// again.
type heldLatch struct {
	mode     LatchMode
	refCount int
}

// redo record layout. Every record starts with space(4) page(4) off(2)
// kind(1). kind 0 (fixed) is followed by size(1) + size big-endian value
// bytes, written by WriteUlint. kind 1 (bytes) is followed by length(2)
// + length raw bytes, written by WriteBytes — used by callers (btree
// structural operations) that replace an arbitrary page region in one
// shot rather than a single integer field.
const redoRecHeaderSize = 4 + 4 + 2 + 1
const redoKindFixed = 0
const redoKindBytes = 1

// Mtr groups page latches and the redo records describing the writes
// made under them into one atomic unit.
type Mtr struct {
	bm  *buffer.Manager
	log *redolog.Log

	latches []latchedFrame
	held    map[buffer.FrameID]*heldLatch
	redo    []byte
	dirty   map[buffer.FrameID]struct{}
	active  bool
}

// New returns an Mtr bound to a buffer manager and redo log; call Start
// before use.
func New(bm *buffer.Manager, log *redolog.Log) *Mtr {
	return &Mtr{bm: bm, log: log}
}

// Start begins a new mini-transaction. An Mtr may be reused across
// Start/Commit cycles.
func (m *Mtr) Start() {
	m.latches = m.latches[:0]
	m.held = make(map[buffer.FrameID]*heldLatch)
	m.redo = m.redo[:0]
	m.dirty = make(map[buffer.FrameID]struct{})
	m.active = true
}

// PageGet pins and latches pageID's frame at mode, recording the latch
// so Commit can release it in reverse-acquire order. ok is false when
// the page is not resident (the caller — typically btree, loading from
// disk — must bring it in and Put it before retrying). Calling PageGet
// again for a frame this Mtr already holds (e.g. a cursor re-finding a
// page it never released) does not re-acquire the lock — it just bumps
// a reference count, since re-entering a held Go RWMutex from the same
// goroutine is not guaranteed to succeed.
func (m *Mtr) PageGet(pageID buffer.PageID, mode LatchMode) (buffer.FrameID, bool) {
	id, ok := m.bm.Lookup(pageID)
	if !ok {
		return 0, false
	}
	m.bm.Pin(id)
	m.bm.Touch(id)
	if h, already := m.held[id]; already {
		if mode == XLatch && h.mode != XLatch {
			return 0, false // would require a latch upgrade this Mtr doesn't support
		}
		h.refCount++
		m.latches = append(m.latches, latchedFrame{id: id, mode: NoLatch})
		return id, true
	}
	switch mode {
	case SLatch:
		m.bm.LatchS(id)
	case XLatch:
		m.bm.LatchX(id)
	}
	m.held[id] = &heldLatch{mode: mode, refCount: 1}
	m.latches = append(m.latches, latchedFrame{id: id, mode: mode})
	return id, true
}

// WriteUlint writes a size-byte (1, 2, 4, or 8) big-endian integer at
// byte offset off within frameID's page, records a redo record for it,
// and marks the frame dirty. The frame must already be latched XLatch
// via PageGet in this Mtr.
func (m *Mtr) WriteUlint(frameID buffer.FrameID, off int, val uint64, size int) error {
	if size != 1 && size != 2 && size != 4 && size != 8 {
		return common.NewError(common.ErrInvalidInput, "mtr: unsupported write size %d", size)
	}
	data := m.bm.Data(frameID)
	if off < 0 || off+size > len(data) {
		return common.NewError(common.ErrInvalidInput, "mtr: write at %d+%d out of page bounds", off, size)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], val)
	copy(data[off:off+size], buf[8-size:])

	pageID := m.bm.PageID(frameID)
	m.appendRedoFixed(pageID, off, size, buf[8-size:])
	m.dirty[frameID] = struct{}{}
	return nil
}

// WriteBytes overwrites frameID's page at byte offset off with payload,
// records a redo record covering the whole region, and marks the frame
// dirty. The frame must already be latched XLatch via PageGet in this
// Mtr. Structural page operations (record insert/delete, split)
// use this instead of WriteUlint since they touch more than one field
// at a time; the caller mutates its own copy of the page and passes it
// here rather than patching bm.Data in place field by field.
func (m *Mtr) WriteBytes(frameID buffer.FrameID, off int, payload []byte) error {
	if len(payload) > 0xFFFF {
		return common.NewError(common.ErrInvalidInput, "mtr: write payload too large (%d bytes)", len(payload))
	}
	data := m.bm.Data(frameID)
	if off < 0 || off+len(payload) > len(data) {
		return common.NewError(common.ErrInvalidInput, "mtr: write at %d+%d out of page bounds", off, len(payload))
	}
	copy(data[off:off+len(payload)], payload)

	pageID := m.bm.PageID(frameID)
	m.appendRedoBytes(pageID, off, payload)
	m.dirty[frameID] = struct{}{}
	return nil
}

func (m *Mtr) appendRedoFixed(pageID buffer.PageID, off, size int, value []byte) {
	var hdr [redoRecHeaderSize + 1]byte
	binary.BigEndian.PutUint32(hdr[0:], pageID.Space())
	binary.BigEndian.PutUint32(hdr[4:], pageID.Page())
	binary.BigEndian.PutUint16(hdr[8:], uint16(off))
	hdr[10] = redoKindFixed
	hdr[11] = byte(size)
	m.redo = append(m.redo, hdr[:]...)
	m.redo = append(m.redo, value...)
}

func (m *Mtr) appendRedoBytes(pageID buffer.PageID, off int, value []byte) {
	var hdr [redoRecHeaderSize + 2]byte
	binary.BigEndian.PutUint32(hdr[0:], pageID.Space())
	binary.BigEndian.PutUint32(hdr[4:], pageID.Page())
	binary.BigEndian.PutUint16(hdr[8:], uint16(off))
	hdr[10] = redoKindBytes
	binary.BigEndian.PutUint16(hdr[11:], uint16(len(value)))
	m.redo = append(m.redo, hdr[:]...)
	m.redo = append(m.redo, value...)
}

// Commit assigns the group's LSN range, appends its redo records,
// forces them to the log buffer, marks every written frame dirty, and
// releases latches in reverse-acquire order. It does not itself force
// the log to disk — callers that need durability (a transaction commit)
// do that explicitly via the log's WriteUpTo(WaitAllGroups, true).
func (m *Mtr) Commit() (endLSN uint64, err error) {
	if !m.active {
		return 0, common.NewError(common.ErrGeneric, "mtr: commit without start")
	}
	defer m.releaseLatches()
	m.active = false

	if len(m.redo) > 0 {
		if _, err := m.log.ReserveAndOpen(len(m.redo)); err != nil {
			return 0, err
		}
		if err := m.log.WriteLow(m.redo); err != nil {
			return 0, err
		}
		endLSN, err = m.log.Close()
		if err != nil {
			return 0, err
		}
	} else {
		endLSN = m.log.LSN()
	}

	for id := range m.dirty {
		m.bm.MarkDirty(id)
	}
	return endLSN, nil
}

// releaseLatches unlatches and unpins every frame this Mtr touched, in
// the reverse of the order PageGet acquired them. A frame PageGet saw
// more than once only has its underlying lock released on the last
// (first-in-reverse-order) reference.
func (m *Mtr) releaseLatches() {
	for i := len(m.latches) - 1; i >= 0; i-- {
		lf := m.latches[i]
		mode := lf.mode
		if mode == NoLatch {
			if h, ok := m.held[lf.id]; ok {
				mode = h.mode
			}
		}
		if h, ok := m.held[lf.id]; ok {
			h.refCount--
			if h.refCount == 0 {
				switch mode {
				case SLatch:
					m.bm.UnlatchS(lf.id)
				case XLatch:
					m.bm.UnlatchX(lf.id)
				}
				delete(m.held, lf.id)
			}
		}
		m.bm.Unpin(lf.id)
	}
	m.latches = m.latches[:0]
}
