package row

import (
	"context"

	"github.com/ibkv-project/ibkv/btree"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/dict"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/mtr"
	"github.com/ibkv-project/ibkv/mvcc"
	"github.com/ibkv-project/ibkv/record"
	"github.com/ibkv-project/ibkv/txn"
)

// Insert adds newRow to pb's table: an IX table lock, an insert-
// intention record lock at the insert point, the physical insert, and
// an undo record so the insert can be rolled back — a five-node query
// graph (the insert-point search is its own node; spec design note 9),
// run start to finish under mt.
func Insert(ctx context.Context, mt *mtr.Mtr, tm *txn.Manager, pb *Prebuilt, vers *Versions, newRow *record.Tuple) error {
	idx := pb.index
	if !idx.Clustered {
		return common.NewError(common.ErrInvalidInput, "row: Insert must target the clustered index")
	}
	keyBytes := keyBytesOf(newRow, idx.Tree.NumKeyCols)

	var pc *btree.PCur
	g := NewGraph(
		Step{Label: "lock_table_ix", Run: func() error {
			return tm.Locks.AcquireTable(ctx, lock.TrxID(pb.Trx.ID), lock.TableID(pb.Table.ID), lock.ModeIX)
		}},
		Step{Label: "search_insert_point", Run: func() error {
			found, err := idx.Tree.Search(mt, newRow, btree.ModeGE, mtr.XLatch)
			pc = found
			return err
		}},
		Step{Label: "lock_insert_intention", Run: func() error {
			page, slot := pc.Position()
			return tm.Locks.AcquireRecord(ctx, lock.TrxID(pb.Trx.ID), idx.Tree.Space, page, uint32(slot), lock.ModeX, lock.FlagGap|lock.FlagInsertIntention)
		}},
		Step{Label: "btree_insert", Run: func() error {
			return idx.Tree.Insert(mt, newRow)
		}},
		Step{Label: "append_undo", Run: func() error {
			ptr := tm.AppendUndo(pb.Trx, pb.Trx.ID, mvcc.UndoInsert, pb.Table.ID, keyBytes, nil)
			vers.Set(pb.Table.ID, keyBytes, mvcc.RowVersion{TrxID: pb.Trx.ID, RollPtr: ptr, Row: record.Encode(newRow)})
			return nil
		}},
	)
	return g.Run()
}

// Delete delete-marks pb's currently positioned row and records an undo
// entry carrying the pre-delete image. The record stays on the page,
// delete-marked; Delete does not purge it (btree.Index.Purge is the
// separate call that removes it physically).
func Delete(ctx context.Context, mt *mtr.Mtr, tm *txn.Manager, pb *Prebuilt, vers *Versions) error {
	pc := pb.cursor
	if pc == nil {
		return common.NewError(common.ErrInvalidInput, "row: Delete requires a positioned cursor")
	}
	idx := pb.index

	var oldPayload []byte
	g := NewGraph(
		Step{Label: "lock_table_ix", Run: func() error {
			return tm.Locks.AcquireTable(ctx, lock.TrxID(pb.Trx.ID), lock.TableID(pb.Table.ID), lock.ModeIX)
		}},
		Step{Label: "lock_record_x", Run: func() error {
			page, slot := pc.Position()
			return tm.Locks.AcquireRecord(ctx, lock.TrxID(pb.Trx.ID), idx.Tree.Space, page, uint32(slot), lock.ModeX, lock.FlagRecNotGap)
		}},
		Step{Label: "read_old_image", Run: func() error {
			p, _, err := pc.Record()
			oldPayload = append([]byte(nil), p...)
			return err
		}},
		Step{Label: "delete_mark", Run: func() error {
			return idx.Tree.DeleteMark(mt, pc)
		}},
		Step{Label: "append_undo", Run: func() error {
			keyBytes := payloadKeyBytes(oldPayload, idx)
			ptr := tm.AppendUndo(pb.Trx, pb.Trx.ID, mvcc.UndoDelete, pb.Table.ID, keyBytes, oldPayload)
			vers.Set(pb.Table.ID, keyBytes, mvcc.RowVersion{TrxID: pb.Trx.ID, RollPtr: ptr, Row: oldPayload, Deleted: true})
			return nil
		}},
	)
	return g.Run()
}

// Update rewrites pb's currently positioned row with newRow, recording
// the pre-update image in undo the same way Delete does.
func Update(ctx context.Context, mt *mtr.Mtr, tm *txn.Manager, pb *Prebuilt, vers *Versions, newRow *record.Tuple) error {
	pc := pb.cursor
	if pc == nil {
		return common.NewError(common.ErrInvalidInput, "row: Update requires a positioned cursor")
	}
	idx := pb.index

	var oldPayload []byte
	g := NewGraph(
		Step{Label: "lock_table_ix", Run: func() error {
			return tm.Locks.AcquireTable(ctx, lock.TrxID(pb.Trx.ID), lock.TableID(pb.Table.ID), lock.ModeIX)
		}},
		Step{Label: "lock_record_x", Run: func() error {
			page, slot := pc.Position()
			return tm.Locks.AcquireRecord(ctx, lock.TrxID(pb.Trx.ID), idx.Tree.Space, page, uint32(slot), lock.ModeX, lock.FlagRecNotGap)
		}},
		Step{Label: "read_old_image", Run: func() error {
			p, _, err := pc.Record()
			oldPayload = append([]byte(nil), p...)
			return err
		}},
		Step{Label: "btree_modify", Run: func() error {
			return idx.Tree.Modify(mt, pc, newRow)
		}},
		Step{Label: "append_undo", Run: func() error {
			keyBytes := payloadKeyBytes(oldPayload, idx)
			ptr := tm.AppendUndo(pb.Trx, pb.Trx.ID, mvcc.UndoUpdate, pb.Table.ID, keyBytes, oldPayload)
			vers.Set(pb.Table.ID, keyBytes, mvcc.RowVersion{TrxID: pb.Trx.ID, RollPtr: ptr, Row: record.Encode(newRow)})
			return nil
		}},
	)
	return g.Run()
}

// Search positions pb at key under mode and, for a consistent
// (non-locking) read, returns the newest row version visible to pb.Trx's
// read view — walking undo via mvcc.BuildForConsistentRead when the row
// currently on the page was stamped by a transaction the read view
// can't see. A nil result with a nil error means no visible row exists
// at that position (it was deleted, or not yet inserted, from the read
// view's perspective).
func Search(mt *mtr.Mtr, tm *txn.Manager, pb *Prebuilt, vers *Versions, key *record.Tuple, mode btree.SearchMode) (*record.Tuple, error) {
	idx := pb.index
	pc, err := idx.Tree.Search(mt, key, mode, mtr.SLatch)
	if err != nil {
		return nil, err
	}
	pb.cursor = pc
	if pc.State != btree.Positioned {
		return nil, nil
	}
	payload, deleteMarked, err := pc.Record()
	if err != nil {
		return nil, err
	}

	flavor := record.FlavorRow
	if !idx.Clustered {
		flavor = record.FlavorKey
	}
	if pb.Trx.ReadView == nil {
		if deleteMarked {
			return nil, nil
		}
		return record.ReadTuple(payload, idx.Tree.Cols, flavor)
	}

	keyBytes := payloadKeyBytes(payload, idx)
	stamp, ok := vers.Get(pb.Table.ID, keyBytes)
	cur := mvcc.RowVersion{TrxID: pb.Trx.ID, Row: payload, Deleted: deleteMarked}
	if ok {
		cur.TrxID, cur.RollPtr = stamp.TrxID, stamp.RollPtr
	}
	visible, err := mvcc.BuildForConsistentRead(tm.Undo, cur, pb.Trx.ReadView)
	if err != nil {
		return nil, err
	}
	if visible == nil {
		return nil, nil
	}
	return record.ReadTuple(visible.Row, idx.Tree.Cols, flavor)
}

func keyBytesOf(t *record.Tuple, nKeyCols int) []byte {
	saved := t.NColsToCompare
	t.NColsToCompare = nKeyCols
	defer func() { t.NColsToCompare = saved }()
	return record.Encode(t)
}

// payloadKeyBytes re-encodes just the key-column prefix of a decoded
// leaf payload, for undo/version-table keying.
func payloadKeyBytes(payload []byte, idx *dict.Index) []byte {
	flavor := record.FlavorRow
	if !idx.Clustered {
		flavor = record.FlavorKey
	}
	t, err := record.ReadTuple(payload, idx.Tree.Cols, flavor)
	if err != nil {
		return payload
	}
	return keyBytesOf(t, idx.Tree.NumKeyCols)
}
