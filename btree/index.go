package btree

import (
	"encoding/binary"

	"github.com/ibkv-project/ibkv/buffer"
	"github.com/ibkv-project/ibkv/common"
	"github.com/ibkv-project/ibkv/record"
)

// Index is one clustered or secondary B-tree: clustered leaves store the
// full row (Cols covers every table column), secondary leaves store
// (key columns..., PK columns...). NumKeyCols is this index's physical
// ordering key width — for a unique index that's just its declared key
// columns, but a non-unique secondary index must fold the PK columns
// into NumKeyCols too (its leading key alone isn't distinct), so page
// ordering among duplicates stays total and Insert's exact-match
// duplicate check only ever fires on a genuine conflict. Internal nodes
// at every level store (NumKeyCols-wide separator, child page number).
type Index struct {
	Space      uint32
	RootPage   uint32
	Cols       []*record.Column // leaf row shape (clustered: full row; secondary: key+PK)
	NumKeyCols int              // this index's physical ordering key width, see above
	Clustered  bool
	Unique     bool // clustered indexes are always effectively unique by PK

	bm       *buffer.Manager
	nextPage uint32
}

// Open builds an Index over an already-allocated root page (page
// allocation for table/index creation is ddl's concern; btree only
// grows the tree from there).
func Open(bm *buffer.Manager, space, rootPage uint32, cols []*record.Column, numKeyCols int, clustered, unique bool) *Index {
	return &Index{
		Space:      space,
		RootPage:   rootPage,
		Cols:       cols,
		NumKeyCols: numKeyCols,
		Clustered:  clustered,
		Unique:     unique || clustered,
		bm:         bm,
		nextPage:   rootPage + 1,
	}
}

// CreateRoot allocates a fresh, empty leaf page at pageNo within space
// and opens an Index rooted on it — the entry point ddl's CreateTable/
// CreateIndex use to stand up a brand new clustered or secondary
// index, rather than Open's "root already exists on disk" assumption.
func CreateRoot(bm *buffer.Manager, space, pageNo uint32, cols []*record.Column, numKeyCols int, clustered, unique bool) (*Index, error) {
	frameID, ok := bm.AllocateFrame(buffer.PoolDefault)
	if !ok {
		return nil, common.NewError(common.ErrGeneric, "btree: no frame available to create root page %d/%d", space, pageNo)
	}
	data := bm.Data(frameID)
	initPage(data, true, 0)
	bm.Put(buffer.NewPageID(space, pageNo), frameID)
	return Open(bm, space, pageNo, cols, numKeyCols, clustered, unique), nil
}

func (ix *Index) pageID(page uint32) buffer.PageID { return buffer.NewPageID(ix.Space, page) }

func (ix *Index) keyCols() []*record.Column { return ix.Cols[:ix.NumKeyCols] }

// newPage allocates a frame, formats it as a fresh leaf or internal page
// at the given level, and registers it under a freshly minted page
// number within this index's space — the in-memory analogue of
// btr_page_alloc (no on-disk free-extent bookkeeping exists below the
// buffer manager in this build, so page numbers are handed out by a
// simple monotonic counter instead of an FSP bitmap).
func (ix *Index) newPage(leaf bool, level byte) (uint32, buffer.FrameID, error) {
	frameID, ok := ix.bm.AllocateFrame(buffer.PoolDefault)
	if !ok {
		return 0, 0, common.NewError(common.ErrGeneric, "btree: no frame available to allocate a new page")
	}
	pageNo := ix.nextPage
	ix.nextPage++
	data := ix.bm.Data(frameID)
	initPage(data, leaf, level)
	ix.bm.Put(ix.pageID(pageNo), frameID)
	return pageNo, frameID, nil
}

// decodeLeafRecord reads a leaf entry's payload into a row/key tuple
// over the index's full leaf column shape, restricted to compare only
// the index's key columns (a clustered leaf's tuple carries every
// column, but ordering within the tree is by key alone).
func (ix *Index) decodeLeafRecord(payload []byte) (*record.Tuple, error) {
	flavor := record.FlavorRow
	if !ix.Clustered {
		flavor = record.FlavorKey
	}
	t, err := record.ReadTuple(payload, ix.Cols, flavor)
	if err != nil {
		return nil, err
	}
	t.NColsToCompare = ix.NumKeyCols
	return t, nil
}

// internal node entries: encoded key tuple bytes (over keyCols) followed
// by a 4-byte child page number.
func encodeInternalEntry(keyBytes []byte, child uint32) []byte {
	buf := make([]byte, len(keyBytes)+4)
	copy(buf, keyBytes)
	binary.BigEndian.PutUint32(buf[len(keyBytes):], child)
	return buf
}

func (ix *Index) decodeInternalEntry(payload []byte) (*record.Tuple, uint32, error) {
	child := binary.BigEndian.Uint32(payload[len(payload)-4:])
	keyBytes := payload[:len(payload)-4]
	t, err := record.ReadTuple(keyBytes, ix.keyCols(), record.FlavorKey)
	if err != nil {
		return nil, 0, err
	}
	return t, child, nil
}

// findSlot returns the position of the first slot whose key is >= tuple
// (the lower bound, independent of search mode), via binary search over
// the page's sorted slot directory, along with whether the key at that
// position compares equal to tuple under record.Compare.
func (ix *Index) findSlot(data []byte, tuple *record.Tuple, leaf bool) (pos int, exact bool, err error) {
	n := pageNRecs(data)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		payload, _ := recordAt(data, mid)
		var rowKey *record.Tuple
		if leaf {
			rowKey, err = ix.decodeLeafRecord(payload)
		} else {
			rowKey, _, err = ix.decodeInternalEntry(payload)
		}
		if err != nil {
			return 0, false, err
		}
		c := record.Compare(rowKey, tuple)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n {
		payload, _ := recordAt(data, lo)
		var rowKey *record.Tuple
		if leaf {
			rowKey, err = ix.decodeLeafRecord(payload)
		} else {
			rowKey, _, err = ix.decodeInternalEntry(payload)
		}
		if err != nil {
			return 0, false, err
		}
		exact = record.Compare(rowKey, tuple) == 0
	}
	return lo, exact, nil
}
