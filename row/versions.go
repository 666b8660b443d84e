package row

import (
	"sync"

	"github.com/ibkv-project/ibkv/mvcc"
)

// Versions tracks each row's hidden system columns (DB_TRX_ID,
// DB_ROLL_PTR) alongside its primary-key bytes, since package record's
// physical encoding carries no per-row hidden columns (see mvcc's
// RowVersion doc comment) — this is the side table row promises to
// keep next to every tuple it reads or writes.
type Versions struct {
	mu      sync.Mutex
	byTable map[uint64]map[string]mvcc.RowVersion
}

// NewVersions returns an empty version-tracking table, one per Engine.
func NewVersions() *Versions {
	return &Versions{byTable: make(map[uint64]map[string]mvcc.RowVersion)}
}

// Get returns the tracked version stamp for tableID/key.
func (v *Versions) Get(tableID uint64, key []byte) (mvcc.RowVersion, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tbl, ok := v.byTable[tableID]
	if !ok {
		return mvcc.RowVersion{}, false
	}
	rv, ok := tbl[string(key)]
	return rv, ok
}

// Set records ver as the current stamp for tableID/key.
func (v *Versions) Set(tableID uint64, key []byte, ver mvcc.RowVersion) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tbl, ok := v.byTable[tableID]
	if !ok {
		tbl = make(map[string]mvcc.RowVersion)
		v.byTable[tableID] = tbl
	}
	tbl[string(key)] = ver
}

// Delete forgets tableID/key's stamp (used once a row is purged, not
// merely delete-marked — a delete-marked row keeps its stamp so a
// consistent read can still build its pre-delete image).
func (v *Versions) Delete(tableID uint64, key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if tbl, ok := v.byTable[tableID]; ok {
		delete(tbl, string(key))
	}
}
