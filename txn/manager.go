package txn

import (
	"context"
	"sync"

	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/lock"
	"github.com/ibkv-project/ibkv/mvcc"
)

// Manager owns the transaction table, the monotonic trx-id counter, the
// undo store, and the schema latch — the spec's "global kernel mutex"
// generalized to one struct holding every piece of cross-transaction
// state (§5's concurrency model).
type Manager struct {
	mu sync.Mutex // the kernel mutex: guards nextID/active below

	nextID TrxID
	active map[TrxID]*Trx

	Locks *lock.Manager
	Undo  *mvcc.Store

	schemaLatch sync.RWMutex // DDL takes Lock(); DML takes RLock()
}

// NewManager builds a transaction manager wired to a lock manager and
// an undo store; trx ids start at 1 (0 stands for "no transaction").
func NewManager(locks *lock.Manager, undo *mvcc.Store) *Manager {
	return &Manager{
		nextID: 1,
		active: make(map[TrxID]*Trx),
		Locks:  locks,
		Undo:   undo,
	}
}

// LockSchema/UnlockSchema give ddl exclusive access to the dictionary
// while DDL runs; row's DML path takes the shared side via
// RLockSchema/RUnlockSchema so ordinary reads/writes never block each
// other on schema, only on an in-flight DDL statement.
func (m *Manager) LockSchema()     { m.schemaLatch.Lock() }
func (m *Manager) UnlockSchema()   { m.schemaLatch.Unlock() }
func (m *Manager) RLockSchema()    { m.schemaLatch.RLock() }
func (m *Manager) RUnlockSchema()  { m.schemaLatch.RUnlock() }

// Begin starts a new transaction at the given isolation level. For
// RepeatableRead/Serializable the read view is opened immediately
// (opened once, for the whole transaction's life); ReadCommitted opens
// a fresh one per statement via Reopen, so Begin leaves ReadView nil
// for it.
func (m *Manager) Begin(iso IsoLevel) *Trx {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	trx := &Trx{ID: id, State: Active, Iso: iso}
	m.active[id] = trx
	if iso == RepeatableRead || iso == Serializable {
		trx.ReadView = mvcc.Open(id, m.activeIDsLocked(), m.nextID)
	}
	return trx
}

// Reopen refreshes trx's read view to the current set of active
// transactions — ReadCommitted's "one view per statement" contract.
func (m *Manager) Reopen(trx *Trx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trx.ReadView = mvcc.Open(trx.ID, m.activeIDsLocked(), m.nextID)
}

func (m *Manager) activeIDsLocked() []TrxID {
	ids := make([]TrxID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Commit marks trx COMMITTED_IN_MEMORY, releases every lock it holds,
// and removes it from the active set. Real InnoDB defers the undo log
// truncation to purge; this build simply leaves the undo records in
// place (mvcc.Store never reclaims, documented on mvcc.Store).
func (m *Manager) Commit(trx *Trx) error {
	if trx.State != Active && trx.State != Prepared {
		return common.NewError(common.ErrInvalidInput, "txn: cannot commit trx %d in state %s", trx.ID, trx.State)
	}
	trx.State = CommittedInMemory
	m.Locks.ReleaseAll(lock.TrxID(trx.ID))
	m.mu.Lock()
	delete(m.active, trx.ID)
	m.mu.Unlock()
	return nil
}

// Rollback fully undoes trx's changes via apply (supplied by the
// caller — row/ddl — since only they know how to reverse an UndoRec
// against a live btree.Index), releases its locks, and marks it
// ROLLED_BACK.
func (m *Manager) Rollback(ctx context.Context, trx *Trx, apply func(mvcc.UndoRec) error) error {
	return m.rollbackTo(trx, mvcc.NullRollPtr, apply)
}

// RollbackToSavepoint partially undoes trx's changes back to the undo
// position name was declared at, leaving the transaction ACTIVE so it
// can keep going — the spec's partial-rollback contract.
func (m *Manager) RollbackToSavepoint(trx *Trx, name string, apply func(mvcc.UndoRec) error) error {
	stopAt, ok := trx.findSavepoint(name)
	if !ok {
		return common.NewError(common.ErrNoSavepoint, "txn: no savepoint %q in trx %d", name, trx.ID)
	}
	if err := mvcc.Rollback(m.Undo, trx.LastUndo, stopAt, apply); err != nil {
		return err
	}
	trx.LastUndo = stopAt
	return nil
}

func (m *Manager) rollbackTo(trx *Trx, stopAt mvcc.RollPtr, apply func(mvcc.UndoRec) error) error {
	if trx.State != Active && trx.State != Prepared {
		return common.NewError(common.ErrInvalidInput, "txn: cannot roll back trx %d in state %s", trx.ID, trx.State)
	}
	if err := mvcc.Rollback(m.Undo, trx.LastUndo, stopAt, apply); err != nil {
		return err
	}
	trx.State = RolledBack
	trx.LastUndo = stopAt
	m.Locks.ReleaseAll(lock.TrxID(trx.ID))
	m.mu.Lock()
	delete(m.active, trx.ID)
	m.mu.Unlock()
	return nil
}

// Prepare transitions trx from ACTIVE to PREPARED — the first phase of
// two-phase commit (spec.md §9 open question, resolved as first-class
// Manager methods per DESIGN.md).
func (m *Manager) Prepare(trx *Trx) error {
	if trx.State != Active {
		return common.NewError(common.ErrInvalidInput, "txn: cannot prepare trx %d in state %s", trx.ID, trx.State)
	}
	trx.State = Prepared
	return nil
}

// CommitComplete finishes a prepared transaction's commit — 2PC's
// second phase, called once the external coordinator has durably
// recorded every participant's prepare vote.
func (m *Manager) CommitComplete(trx *Trx) error {
	if trx.State != Prepared {
		return common.NewError(common.ErrInvalidInput, "txn: cannot complete commit of trx %d in state %s", trx.ID, trx.State)
	}
	return m.Commit(trx)
}

// AppendUndo records an undo entry for trx and advances its undo chain
// head — the hook row/ddl call on every physical change so Rollback has
// something to walk. prevTrx is the id that stamped the row's previous
// version (itself, for a plain insert of a brand new row).
func (m *Manager) AppendUndo(trx *Trx, prevTrx TrxID, kind mvcc.UndoKind, table uint64, key, oldRow []byte) mvcc.RollPtr {
	ptr := m.Undo.Append(trx.ID, prevTrx, kind, table, key, oldRow, trx.LastUndo)
	trx.LastUndo = ptr
	return ptr
}

// Lookup returns the Trx for id if it is still active.
func (m *Manager) Lookup(id TrxID) (*Trx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trx, ok := m.active[id]
	return trx, ok
}
