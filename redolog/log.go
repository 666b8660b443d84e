package redolog

import (
	"sync"

	"github.com/ibkv-project/ibkv/common"
	"golang.org/x/sync/errgroup"
)

// WaitMode controls how long WriteUpTo blocks for durability once the
// requested bytes have been formatted into blocks and written to the
// groups' files.
type WaitMode uint8

const (
	NoWait WaitMode = iota
	WaitOneGroup
	WaitAllGroups
)

// Log is the write-ahead log: an LSN space over a logical record
// stream, staged in memory and mirrored to every configured group on
// flush.
type Log struct {
	mu sync.Mutex

	groups     []*group
	maxBufFree uint64

	pending []byte // unflushed payload bytes; pending[0] is byte flushedLSN
	lsn     uint64 // end of the reserved/written region

	flushedLSN       uint64 // formatted into blocks and written to file (not necessarily synced)
	flushedToDiskLSN uint64 // fsynced

	openActive   bool
	openStartLSN uint64

	checkpointNo uint32
}

// Open creates (or reuses) nGroups log groups of nFiles files each,
// fileSize bytes per file, under dir.
func Open(dir string, nGroups, nFiles int, fileSize int64, maxBufFree uint64) (*Log, error) {
	l := &Log{maxBufFree: maxBufFree}
	for i := 0; i < nGroups; i++ {
		g, err := openGroup(dir, i, nFiles, fileSize)
		if err != nil {
			return nil, err
		}
		l.groups = append(l.groups, g)
	}
	return l, nil
}

// ReserveAndOpen opens a span that WriteLow appends into and returns
// its start LSN; only one span may be open at a time. length is not
// used: the LSN advances only as WriteLow appends bytes.
func (l *Log) ReserveAndOpen(length int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openActive {
		return 0, common.NewError(common.ErrGeneric, "redolog: a log span is already open")
	}
	l.openActive = true
	l.openStartLSN = l.lsn
	return l.lsn, nil
}

// WriteLow appends p to the currently open span.
func (l *Log) WriteLow(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.openActive {
		return common.NewError(common.ErrGeneric, "redolog: write_low with no open span")
	}
	l.pending = append(l.pending, p...)
	l.lsn += uint64(len(p))
	return nil
}

// Close ends the open span, returning its end LSN.
func (l *Log) Close() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.openActive {
		return 0, common.NewError(common.ErrGeneric, "redolog: close with no open span")
	}
	l.openActive = false
	return l.lsn, nil
}

// LSN returns the current end-of-log LSN.
func (l *Log) LSN() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lsn
}

// formatBlocks packages every complete UsableBlockSize chunk of pending
// data (which starts at flushedLSN) into 512-byte blocks, returning the blocks and the new flushedLSN they cover up to.
// A trailing partial block is left in l.pending for the next call.
func (l *Log) formatBlocks() (blocks []byte, newFlushedLSN uint64, blockIndexStart uint64) {
	nComplete := len(l.pending) / UsableBlockSize
	if nComplete == 0 {
		return nil, l.flushedLSN, l.flushedLSN / UsableBlockSize
	}
	blockIndexStart = l.flushedLSN / UsableBlockSize
	blocks = make([]byte, nComplete*BlockSize)
	for i := 0; i < nComplete; i++ {
		payload := l.pending[i*UsableBlockSize : (i+1)*UsableBlockSize]
		block := blocks[i*BlockSize : (i+1)*BlockSize]
		putBlockHeader(block, uint32(blockIndexStart+uint64(i)), false, uint16(len(payload)), 0, l.checkpointNo)
		copy(block[headerSize:], payload)
		putBlockChecksum(block)
	}
	l.pending = append([]byte(nil), l.pending[nComplete*UsableBlockSize:]...)
	newFlushedLSN = l.flushedLSN + uint64(nComplete*UsableBlockSize)
	return blocks, newFlushedLSN, blockIndexStart
}

// WriteUpTo ensures every byte up to lsn has been formatted into blocks
// and written to every group, waiting for durability per wait. A commit
// must call this with (commit_lsn, WaitAllGroups, true) before reporting
// success.
func (l *Log) WriteUpTo(lsn uint64, wait WaitMode, flushToDisk bool) error {
	l.mu.Lock()
	if l.flushedLSN >= lsn && !flushToDisk {
		l.mu.Unlock()
		return nil
	}
	blocks, newFlushed, blockIndexStart := l.formatBlocks()
	groups := l.groups
	capacity := int64(0)
	if len(groups) > 0 {
		capacity = groups[0].capacity
	}
	l.mu.Unlock()

	if len(blocks) > 0 && capacity > 0 {
		offset := (int64(blockIndexStart) * BlockSize) % capacity
		for _, g := range groups {
			if err := writeWrapped(g, blocks, offset); err != nil {
				return err
			}
		}
	}

	l.mu.Lock()
	if newFlushed > l.flushedLSN {
		l.flushedLSN = newFlushed
	}
	l.mu.Unlock()

	if !flushToDisk || len(groups) == 0 {
		return nil
	}
	return l.syncGroups(groups, wait, newFlushed)
}

// writeWrapped writes data to g starting at a circular offset, wrapping
// once at the group's capacity boundary.
func writeWrapped(g *group, data []byte, offset int64) error {
	space := g.capacity - offset
	if int64(len(data)) <= space {
		return g.writeAt(data, offset)
	}
	if err := g.writeAt(data[:space], offset); err != nil {
		return err
	}
	return g.writeAt(data[space:], 0)
}

func (l *Log) syncGroups(groups []*group, wait WaitMode, newFlushed uint64) error {
	switch wait {
	case NoWait:
		go func() { _ = syncAll(groups) }()
		return nil
	case WaitOneGroup:
		done := make(chan error, len(groups))
		for _, g := range groups {
			g := g
			go func() { done <- g.sync() }()
		}
		err := <-done
		if err == nil {
			l.mu.Lock()
			if newFlushed > l.flushedToDiskLSN {
				l.flushedToDiskLSN = newFlushed
			}
			l.mu.Unlock()
		}
		return err
	default: // WaitAllGroups
		if err := syncAll(groups); err != nil {
			return err
		}
		l.mu.Lock()
		if newFlushed > l.flushedToDiskLSN {
			l.flushedToDiskLSN = newFlushed
		}
		l.mu.Unlock()
		return nil
	}
}

func syncAll(groups []*group) error {
	var eg errgroup.Group
	for _, g := range groups {
		g := g
		eg.Go(g.sync)
	}
	return eg.Wait()
}

// Checkpoint writes a checkpoint record to the alternating slot of every
// group's file 0, recording flushedToDiskLSN as the point recovery can
// start scanning from. writeAlways is accepted for API parity with the
// spec; this implementation always writes.
func (l *Log) Checkpoint(sync bool, writeAlways bool) error {
	_ = writeAlways
	l.mu.Lock()
	no := l.checkpointNo
	l.checkpointNo++
	flushedToDisk := l.flushedToDiskLSN
	groups := l.groups
	l.mu.Unlock()

	block := make([]byte, BlockSize)
	putBlockHeader(block, no, true, 0, 0, no)
	putUint64(block[headerSize:], flushedToDisk)
	putBlockChecksum(block)

	slot := int(no % 2)
	var eg errgroup.Group
	for _, g := range groups {
		g := g
		eg.Go(func() error { return g.writeCheckpoint(slot, block) })
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if sync {
		return syncAll(groups)
	}
	return nil
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// FreeCheck forces a flush when the gap between the reserved LSN and the
// last fsynced LSN has crossed maxBufFree, the margin the spec requires
// every page modification to check before proceeding.
func (l *Log) FreeCheck() error {
	l.mu.Lock()
	lsn, synced := l.lsn, l.flushedToDiskLSN
	l.mu.Unlock()
	if lsn-synced < l.maxBufFree {
		return nil
	}
	return l.WriteUpTo(lsn, WaitAllGroups, true)
}

// CloseFiles releases the underlying group files.
func (l *Log) CloseFiles() error {
	var first error
	for _, g := range l.groups {
		if err := g.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
