package mvcc

import "github.com/ibkv-project/ibkv/common"

// UndoKind names the row operation an undo record compensates for.
type UndoKind uint8

const (
	UndoInsert UndoKind = iota
	UndoUpdate
	UndoDelete
)

// RollPtr addresses one undo record. Real InnoDB encodes a
// (rollback_segment, page, offset) triple; this build keeps undo
// purely in memory (no separate undo tablespace exists below the
// buffer manager here), so a monotonic sequence number within Store
// stands in for it.
type RollPtr uint64

// NullRollPtr marks "no earlier version" — the end of a row's chain.
const NullRollPtr RollPtr = 0

// UndoRec is one entry in a row's version chain: the row image and
// owning transaction a version reverts to, plus a pointer to the
// version before that.
//
// Hidden system columns (DB_TRX_ID, DB_ROLL_PTR) are tracked here at
// the RowVersion/UndoRec level rather than embedded in the physical
// record encoding (package record doesn't model per-row hidden
// columns); row (C11) is expected to carry a RowVersion alongside
// each decoded tuple it reads or writes.
type UndoRec struct {
	Trx     TrxID   // the transaction that made this change
	PrevTrx TrxID   // the trx id the row reverts to once this change is undone
	Kind    UndoKind
	Table   uint64 // dict table id (dict, once built, owns real ids)
	Key     []byte // encoded primary key tuple
	OldRow  []byte // prior row image; nil for UndoInsert and for a revert to "row did not exist"
	Prev    RollPtr
}

// Store holds every transaction's undo records, addressed by RollPtr.
// Real InnoDB truncates undo segments once no read view can see them;
// this build never reclaims one (undo retention/GC is future work —
// see DESIGN.md's mvcc entry).
type Store struct {
	recs []UndoRec // index 0 is never used: RollPtr 0 means NullRollPtr
}

// NewStore returns an empty undo store.
func NewStore() *Store { return &Store{recs: make([]UndoRec, 1)} }

// Append records a new undo entry for trx, chained after prev, and
// returns its RollPtr.
func (s *Store) Append(trx, prevTrx TrxID, kind UndoKind, table uint64, key, oldRow []byte, prev RollPtr) RollPtr {
	s.recs = append(s.recs, UndoRec{
		Trx: trx, PrevTrx: prevTrx, Kind: kind, Table: table,
		Key: append([]byte(nil), key...), OldRow: append([]byte(nil), oldRow...), Prev: prev,
	})
	return RollPtr(len(s.recs) - 1)
}

// Get returns the undo record at ptr, or ok=false if ptr is null or
// has been purged past.
func (s *Store) Get(ptr RollPtr) (UndoRec, bool) {
	if ptr == NullRollPtr || int(ptr) >= len(s.recs) {
		return UndoRec{}, false
	}
	return s.recs[ptr], true
}

// RowVersion is one materialized point in a row's version chain: a
// row image, the trx id it is stamped with, and the roll-pointer to
// the version before it.
type RowVersion struct {
	TrxID   TrxID
	RollPtr RollPtr
	Row     []byte
	Deleted bool
}

// BuildForConsistentRead walks cur's undo chain backward until it
// finds the newest version view can see, returning nil (no error) if
// that version turns out to be a delete or a not-yet-existing row —
// row_vers_build_for_consistent_read's contract. cur is the row
// currently on the page, whose own stamping trx id may not be visible
// to view.
func BuildForConsistentRead(store *Store, cur RowVersion, view *ReadView) (*RowVersion, error) {
	v := cur
	for !view.Sees(v.TrxID) {
		if v.RollPtr == NullRollPtr {
			return nil, common.NewError(common.ErrMissingHistory, "mvcc: no version of this row is visible to the read view")
		}
		rec, ok := store.Get(v.RollPtr)
		if !ok {
			return nil, common.NewError(common.ErrMissingHistory, "mvcc: undo record %d has been purged", v.RollPtr)
		}
		if rec.Kind == UndoInsert {
			return nil, nil
		}
		v = RowVersion{TrxID: rec.PrevTrx, RollPtr: rec.Prev, Row: rec.OldRow, Deleted: rec.OldRow == nil}
	}
	if v.Deleted {
		return nil, nil
	}
	return &v, nil
}

// Rollback undoes changes in reverse order by walking from fromPtr
// back to stopAt (exclusive), invoking apply for each record — the
// caller (txn) supplies apply to actually restore the row (re-insert a
// deleted row, restore an old image, or remove an inserted one) via
// row/btree; Store itself has no notion of a live index. Pass
// NullRollPtr as stopAt for a full rollback; a savepoint's stored
// RollPtr otherwise, for a partial rollback to that savepoint.
func Rollback(store *Store, fromPtr, stopAt RollPtr, apply func(rec UndoRec) error) error {
	for ptr := fromPtr; ptr != stopAt && ptr != NullRollPtr; {
		rec, ok := store.Get(ptr)
		if !ok {
			return common.NewError(common.ErrMissingHistory, "mvcc: undo record %d has been purged", ptr)
		}
		if err := apply(rec); err != nil {
			return err
		}
		ptr = rec.Prev
	}
	return nil
}
