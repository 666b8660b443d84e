package btree

import (
	"encoding/binary"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/record"
)

// pathStep is one ancestor visited while descending for a mutation: the
// frame/page of an internal node, and which of its entries led to the
// next level down (so a split there can be propagated into it).
type pathStep struct {
	frame     buffer.FrameID
	page      uint32
	childSlot int
}

// descendForMutation walks root to leaf under XLatch, recording the
// ancestor path so a leaf split (or a split cascading upward) can patch
// every parent it passes through without re-searching from the root.
func (ix *Index) descendForMutation(mt *mtr.Mtr, key *record.Tuple) (path []pathStep, leafFrame buffer.FrameID, leafPage uint32, err error) {
	page := ix.RootPage
	for {
		frameID, ok := mt.PageGet(ix.pageID(page), mtr.XLatch)
		if !ok {
			return nil, 0, 0, common.NewError(common.ErrCorruption, "btree: page %d/%d not resident", ix.Space, page)
		}
		data := ix.bm.Data(frameID)
		if pageIsLeaf(data) {
			return path, frameID, page, nil
		}
		pos, exact, err := ix.findSlot(data, key, false)
		if err != nil {
			return nil, 0, 0, err
		}
		childSlot := resolveInternalChild(data, pos, exact)
		path = append(path, pathStep{frame: frameID, page: page, childSlot: childSlot})
		payload, _ := recordAt(data, childSlot)
		_, childPage, err := ix.decodeInternalEntry(payload)
		if err != nil {
			return nil, 0, 0, err
		}
		page = childPage
	}
}

// Insert adds row (a full leaf tuple: clustered row or secondary
// key+PK) to the tree, optimistically writing into the leaf and
// promoting to a page split — possibly cascading up to a new root — on
// overflow, per the spec's insert contract.
func (ix *Index) Insert(mt *mtr.Mtr, row *record.Tuple) error {
	savedN := row.NColsToCompare
	row.NColsToCompare = ix.NumKeyCols
	defer func() { row.NColsToCompare = savedN }()

	path, leafFrame, leafPage, err := ix.descendForMutation(mt, row)
	if err != nil {
		return err
	}
	data := ix.bm.Data(leafFrame)
	pos, exact, err := ix.findSlot(data, row, true)
	if err != nil {
		return err
	}
	if exact {
		return common.NewError(common.ErrDuplicateKey, "btree: duplicate key on insert")
	}
	payload := record.Encode(row)
	if insertAt(data, pos, payload) {
		bumpModifyClock(data)
		return mt.WriteBytes(leafFrame, 0, data)
	}
	return ix.splitAndInsert(mt, path, leafFrame, leafPage, pos, payload, true)
}

// splitAndInsert splits the full page at frame/page in two, inserting
// payload into whichever half it belongs in, then inserts a separator
// for the new sibling into the parent named by the tail of path — or,
// if path is empty, raises the root by one level. A parent that is
// itself full recurses up path, matching the spec's "may split upward
// to the root and grow the tree by one level."
func (ix *Index) splitAndInsert(mt *mtr.Mtr, path []pathStep, frame buffer.FrameID, page uint32, pos int, payload []byte, leaf bool) error {
	data := ix.bm.Data(frame)
	level := pageLevel(data)

	entries := collectEntries(data)
	entries = insertEntrySlice(entries, pos, payload)
	mid := len(entries) / 2
	leftEntries, rightEntries := entries[:mid], entries[mid:]

	siblingPage, siblingFrame, err := ix.newPage(leaf, level)
	if err != nil {
		return err
	}
	siblingData := ix.bm.Data(siblingFrame)
	writeEntries(siblingData, rightEntries)

	if leaf {
		oldNext := pageNext(data)
		setPageNext(siblingData, oldNext)
		setPagePrev(siblingData, page)
		if oldNext != FilNull {
			nextFrame, ok := mt.PageGet(ix.pageID(oldNext), mtr.XLatch)
			if !ok {
				return common.NewError(common.ErrCorruption, "btree: next page %d not resident during split", oldNext)
			}
			nextData := ix.bm.Data(nextFrame)
			setPagePrev(nextData, siblingPage)
			bumpModifyClock(nextData)
			if err := mt.WriteBytes(nextFrame, 0, nextData); err != nil {
				return err
			}
		}
	}

	reformatPage(data, leaf, level, leftEntries)
	if leaf {
		setPageNext(data, siblingPage)
		setPagePrev(siblingData, page)
	}
	bumpModifyClock(data)
	bumpModifyClock(siblingData)
	if err := mt.WriteBytes(frame, 0, data); err != nil {
		return err
	}
	if err := mt.WriteBytes(siblingFrame, 0, siblingData); err != nil {
		return err
	}

	sepKeyBytes, err := ix.keyBytesFromEntry(rightEntries[0], leaf)
	if err != nil {
		return err
	}

	if len(path) == 0 {
		return ix.raiseRoot(mt, page, siblingPage, leftEntries[0], leaf, level)
	}

	parentStep := path[len(path)-1]
	parentData := ix.bm.Data(parentStep.frame)
	parentEntry := encodeInternalEntry(sepKeyBytes, siblingPage)
	sepTuple, err := record.ReadTuple(sepKeyBytes, ix.keyCols(), record.FlavorKey)
	if err != nil {
		return err
	}
	ppos, _, err := ix.findSlot(parentData, sepTuple, false)
	if err != nil {
		return err
	}
	if insertAt(parentData, ppos, parentEntry) {
		bumpModifyClock(parentData)
		return mt.WriteBytes(parentStep.frame, 0, parentData)
	}
	return ix.splitAndInsert(mt, path[:len(path)-1], parentStep.frame, parentStep.page, ppos, parentEntry, false)
}

// raiseRoot builds a fresh root page one level above the just-split
// root, pointing at leftPage and rightPage — the tree grows by exactly
// one level, as the spec requires, and the old root page keeps its
// page number (it is simply no longer RootPage).
func (ix *Index) raiseRoot(mt *mtr.Mtr, leftPage, rightPage uint32, leftFirstEntry []byte, leaf bool, oldLevel byte) error {
	newRootPage, newRootFrame, err := ix.newPage(false, oldLevel+1)
	if err != nil {
		return err
	}
	leftKeyBytes, err := ix.keyBytesFromEntry(leftFirstEntry, leaf)
	if err != nil {
		return err
	}
	rightFrame, ok := mt.PageGet(ix.pageID(rightPage), mtr.XLatch)
	if !ok {
		return common.NewError(common.ErrCorruption, "btree: sibling page %d vanished during root raise", rightPage)
	}
	rightData := ix.bm.Data(rightFrame)
	rightFirst, _ := recordAt(rightData, 0)
	rightKeyBytes, err := ix.keyBytesFromEntry(rightFirst, leaf)
	if err != nil {
		return err
	}

	newRootData := ix.bm.Data(newRootFrame)
	left := encodeInternalEntry(leftKeyBytes, leftPage)
	right := encodeInternalEntry(rightKeyBytes, rightPage)
	if !insertAt(newRootData, 0, left) || !insertAt(newRootData, 1, right) {
		return common.NewError(common.ErrGeneric, "btree: fresh root page cannot hold two entries")
	}
	bumpModifyClock(newRootData)
	if err := mt.WriteBytes(newRootFrame, 0, newRootData); err != nil {
		return err
	}
	ix.RootPage = newRootPage
	return nil
}

// keyBytesFromEntry extracts just the key-column encoding from a leaf
// row/key payload (stripping non-key fields) or an internal entry
// payload (stripping the trailing child pointer).
func (ix *Index) keyBytesFromEntry(payload []byte, leaf bool) ([]byte, error) {
	if !leaf {
		return append([]byte(nil), payload[:len(payload)-4]...), nil
	}
	t, err := ix.decodeLeafRecord(payload)
	if err != nil {
		return nil, err
	}
	keyTuple := record.NewKeyTuple(ix.Cols, ix.NumKeyCols)
	copy(keyTuple.Fields, t.Fields[:ix.NumKeyCols])
	return record.Encode(keyTuple), nil
}

func collectEntries(data []byte) [][]byte {
	n := pageNRecs(data)
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		p, _ := recordAt(data, i)
		out[i] = append([]byte(nil), p...)
	}
	return out
}

func insertEntrySlice(entries [][]byte, pos int, payload []byte) [][]byte {
	out := make([][]byte, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, payload)
	out = append(out, entries[pos:]...)
	return out
}

func writeEntries(data []byte, entries [][]byte) {
	for i, e := range entries {
		off, ok := appendEntry(data, e, false)
		if !ok {
			panic("btree: sibling page cannot hold its half of a split")
		}
		insertSlot(data, i, off)
	}
}

func reformatPage(data []byte, leaf bool, level byte, entries [][]byte) {
	prev, next := pagePrev(data), pageNext(data)
	initPage(data, leaf, level)
	if leaf {
		setPagePrev(data, prev)
		setPageNext(data, next)
	}
	writeEntries(data, entries)
}

// DeleteMark sets the delete-mark bit on the record at pc's current
// slot, leaving it physically in place for MVCC visibility until Purge
// removes it.
func (ix *Index) DeleteMark(mt *mtr.Mtr, pc *PCur) error {
	if pc.State != Positioned {
		return common.NewError(common.ErrInvalidInput, "btree: cursor not positioned for delete_mark")
	}
	data := ix.bm.Data(pc.frame)
	heapOff := int(slotValue(data, pc.slot))
	data[heapOff+2] |= flagDeleteMark
	bumpModifyClock(data)
	return mt.WriteBytes(pc.frame, 0, data)
}

// Purge physically removes a delete-marked record once no read view
// can see it (the caller is responsible for that visibility check).
func (ix *Index) Purge(mt *mtr.Mtr, pc *PCur) error {
	if pc.State != Positioned {
		return common.NewError(common.ErrInvalidInput, "btree: cursor not positioned for purge")
	}
	data := ix.bm.Data(pc.frame)
	removeSlot(data, pc.slot)
	bumpModifyClock(data)
	pc.State = WasPositioned
	return mt.WriteBytes(pc.frame, 0, data)
}

// Modify rewrites the record at pc's current slot with newRow: in
// place when the new encoding fits in the old record's space, otherwise
// by delete-marking and purging the old record and inserting newRow
// afresh — all within the same Mtr, matching the spec's modify contract.
func (ix *Index) Modify(mt *mtr.Mtr, pc *PCur, newRow *record.Tuple) error {
	if pc.State != Positioned {
		return common.NewError(common.ErrInvalidInput, "btree: cursor not positioned for modify")
	}
	savedN := newRow.NColsToCompare
	newRow.NColsToCompare = ix.NumKeyCols
	defer func() { newRow.NColsToCompare = savedN }()

	data := ix.bm.Data(pc.frame)
	newPayload := record.Encode(newRow)
	heapOff := int(slotValue(data, pc.slot))
	oldLen := int(binary.BigEndian.Uint16(data[heapOff:]))
	if oldLen >= len(newPayload) {
		data[heapOff+2] = 0
		binary.BigEndian.PutUint16(data[heapOff:], uint16(len(newPayload)))
		copy(data[heapOff+entryHeaderSize:heapOff+entryHeaderSize+len(newPayload)], newPayload)
		bumpModifyClock(data)
		return mt.WriteBytes(pc.frame, 0, data)
	}

	if err := ix.DeleteMark(mt, pc); err != nil {
		return err
	}
	if err := ix.Purge(mt, pc); err != nil {
		return err
	}
	return ix.Insert(mt, newRow)
}
