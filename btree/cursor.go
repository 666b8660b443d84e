package btree

import (
	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/record"
)

// SearchMode names the comparison a PCur.Search positions against.
type SearchMode uint8

const (
	ModeGE SearchMode = iota // least record >= tuple
	ModeG                    // least record >  tuple
	ModeLE                   // greatest record <= tuple
	ModeL                    // greatest record <  tuple
)

// PosState is a persistent cursor's coarse lifecycle state.
type PosState uint8

const (
	BeforeFirst PosState = iota
	Positioned
	WasPositioned
	AfterLast
)

// RelPos records where a degraded (latch-free) cursor sits relative to
// its stored bounding record.
type RelPos uint8

const (
	RelOn RelPos = iota
	RelBefore
	RelAfter
)

// PCur is the persistent cursor: while latched it holds a live
// (frame, slot) position directly; once latches are released by the
// owning Mtr's Commit, it degrades to a stored copy of the bounding
// record plus the page's modify-clock, and RestorePosition re-latches
// and re-finds it (or re-searches, if the page changed).
//
// Simplification: a single Search call latches the whole root-to-leaf
// path at one mode and keeps every latch held until the owning Mtr
// commits (mtr releases latches only as a batch at Commit, not one at
// a time), rather than latch-coupling down and releasing ancestors
// early. This is adequate for the single-writer-per-Mtr model this
// engine targets; a concurrent-descent B-tree would need mtr to expose
// a per-latch release.
type PCur struct {
	Index *Index

	State  PosState
	RelPos RelPos

	page  uint32
	frame buffer.FrameID
	slot  int

	storedRec    []byte
	storedIsLeaf bool
	modifyClock  uint64
	storedPage   uint32
}

// Search positions pcur at the boundary mode describes relative to
// tuple, descending from the root.
func (ix *Index) Search(mt *mtr.Mtr, tuple *record.Tuple, mode SearchMode, latch mtr.LatchMode) (*PCur, error) {
	page := ix.RootPage
	for {
		frameID, ok := mt.PageGet(ix.pageID(page), latch)
		if !ok {
			return nil, common.NewError(common.ErrCorruption, "btree: page %d/%d not resident", ix.Space, page)
		}
		data := ix.bm.Data(frameID)
		if pageIsLeaf(data) {
			pos, exact, err := ix.findSlot(data, tuple, true)
			if err != nil {
				return nil, err
			}
			idx, state := resolveLeafSlot(pos, exact, mode, pageNRecs(data))
			return &PCur{Index: ix, page: page, frame: frameID, slot: idx, State: state}, nil
		}
		pos, exact, err := ix.findSlot(data, tuple, false)
		if err != nil {
			return nil, err
		}
		childSlot := resolveInternalChild(data, pos, exact)
		payload, _ := recordAt(data, childSlot)
		_, childPage, err := ix.decodeInternalEntry(payload)
		if err != nil {
			return nil, err
		}
		page = childPage
	}
}

// resolveLeafSlot maps a findSlot boundary + search mode to the target
// slot index and an initial PosState.
func resolveLeafSlot(pos int, exact bool, mode SearchMode, n int) (int, PosState) {
	switch mode {
	case ModeGE:
		if pos >= n {
			return pos, AfterLast
		}
		return pos, Positioned
	case ModeG:
		if exact {
			pos++
		}
		if pos >= n {
			return pos, AfterLast
		}
		return pos, Positioned
	case ModeLE:
		if exact {
			return pos, Positioned
		}
		pos--
		if pos < 0 {
			return pos, BeforeFirst
		}
		return pos, Positioned
	case ModeL:
		pos--
		if pos < 0 {
			return pos, BeforeFirst
		}
		return pos, Positioned
	default:
		return pos, BeforeFirst
	}
}

// resolveInternalChild picks which child slot to descend into: the
// separator at position pos is the smallest key >= the search tuple. An
// exact match follows that separator's own child; otherwise the child to
// its left is followed (slot 0 when pos is 0, the last slot when pos ran
// off the end).
func resolveInternalChild(data []byte, pos int, exact bool) int {
	n := pageNRecs(data)
	if pos >= n {
		return n - 1
	}
	if exact {
		return pos
	}
	if pos == 0 {
		return 0
	}
	return pos - 1
}

// MoveNext advances to the next leaf slot, crossing into the sibling
// page (re-latching) when the current page is exhausted.
func (pc *PCur) MoveNext(mt *mtr.Mtr, latch mtr.LatchMode) error {
	data := pc.Index.bm.Data(pc.frame)
	pc.slot++
	if pc.slot < pageNRecs(data) {
		pc.State = Positioned
		return nil
	}
	next := pageNext(data)
	if next == FilNull {
		pc.State = AfterLast
		return nil
	}
	frameID, ok := mt.PageGet(pc.Index.pageID(next), latch)
	if !ok {
		return common.NewError(common.ErrCorruption, "btree: sibling page %d not resident", next)
	}
	pc.page, pc.frame, pc.slot, pc.State = next, frameID, 0, Positioned
	if pageNRecs(pc.Index.bm.Data(frameID)) == 0 {
		pc.State = AfterLast
	}
	return nil
}

// MovePrev is MoveNext's mirror image, walking the prev-page chain.
func (pc *PCur) MovePrev(mt *mtr.Mtr, latch mtr.LatchMode) error {
	pc.slot--
	if pc.slot >= 0 {
		pc.State = Positioned
		return nil
	}
	data := pc.Index.bm.Data(pc.frame)
	prev := pagePrev(data)
	if prev == FilNull {
		pc.State = BeforeFirst
		return nil
	}
	frameID, ok := mt.PageGet(pc.Index.pageID(prev), latch)
	if !ok {
		return common.NewError(common.ErrCorruption, "btree: sibling page %d not resident", prev)
	}
	pdata := pc.Index.bm.Data(frameID)
	pc.page, pc.frame = prev, frameID
	pc.slot = pageNRecs(pdata) - 1
	pc.State = Positioned
	if pc.slot < 0 {
		pc.State = BeforeFirst
	}
	return nil
}

// Position returns pc's current page number and slot index, for callers
// (row's lock manager wiring) that need to key a record lock by
// physical position rather than by a decoded heap number — this build
// has no separate heap-number space distinct from slot index.
func (pc *PCur) Position() (page uint32, slot int) { return pc.page, pc.slot }

// Record returns the current slot's payload and delete-mark flag;
// pc must be Positioned.
func (pc *PCur) Record() (payload []byte, deleteMarked bool, err error) {
	if pc.State != Positioned {
		return nil, false, common.NewError(common.ErrInvalidInput, "btree: cursor not positioned")
	}
	data := pc.Index.bm.Data(pc.frame)
	p, del := recordAt(data, pc.slot)
	return p, del, nil
}

// StorePosition captures the current record and this page's
// modify-clock so the cursor can survive latch release, the spec's
// "degrade to logical position" step performed explicitly by the
// caller before an Mtr commits.
func (pc *PCur) StorePosition() {
	data := pc.Index.bm.Data(pc.frame)
	pc.modifyClock = pageModifyClock(data)
	pc.storedPage = pc.page
	pc.storedIsLeaf = pageIsLeaf(data)
	if pc.State == Positioned {
		p, _ := recordAt(data, pc.slot)
		pc.storedRec = append([]byte(nil), p...)
		pc.RelPos = RelOn
	}
	pc.State = WasPositioned
}

// RestorePosition re-latches the page the cursor was last on and, if
// its modify-clock is unchanged, re-finds the exact stored slot in
// O(1); otherwise it re-searches the tree from the root for the stored
// record's key, matching the spec's restore_position contract.
func (pc *PCur) RestorePosition(mt *mtr.Mtr, latch mtr.LatchMode) (pageUnchanged bool, err error) {
	frameID, ok := mt.PageGet(pc.Index.pageID(pc.storedPage), latch)
	if ok {
		data := pc.Index.bm.Data(frameID)
		if pageModifyClock(data) == pc.modifyClock {
			pc.frame = frameID
			pc.State = Positioned
			return true, nil
		}
	}
	if pc.storedRec == nil {
		pc.State = BeforeFirst
		return false, nil
	}
	tuple, err := pc.Index.decodeLeafRecord(pc.storedRec)
	if err != nil {
		return false, err
	}
	newPC, err := pc.Index.Search(mt, tuple, ModeGE, latch)
	if err != nil {
		return false, err
	}
	*pc = *newPC
	return false, nil
}
