package alloc

import "github.com/google/btree"

// sizeNode is one entry of the large-block index: the head of a
// doubly-linked list of free blocks that all share the same size. Only
// the list head is a tree node — list members are threaded through the
// same prev/next link fields the small-bin freelists use (via
// readLink/writeLink). insert pushes at the head and removeHead pops the
// head, so blocks of one size are handed out newest first (LIFO), not in
// the order they were freed. This replaces the spec's hand-rolled AVL
// tree with github.com/google/btree's BTreeG, the only generic balanced
// tree in the example corpus (see DESIGN.md, package alloc).
type sizeNode struct {
	size uint32
	head uint32 // arena offset of the ring head block
}

func sizeLess(a, b sizeNode) bool { return a.size < b.size }

// largeIndex indexes free blocks with size > smallBinMax, ordered by
// size, each distinct size collapsed to one ring.
type largeIndex struct {
	tree *btree.BTreeG[sizeNode]
}

func newLargeIndex() *largeIndex {
	return &largeIndex{tree: btree.NewG(32, sizeLess)}
}

// insert adds a free block of the given size/offset to the index,
// pushing it onto the front of an existing ring or creating a new one.
func (li *largeIndex) insert(arena []byte, size, off uint32) {
	if existing, ok := li.tree.Get(sizeNode{size: size}); ok {
		oldHead := existing.head
		writeLink(arena, off, 0, oldHead)
		_, oldHeadNext := readLink(arena, oldHead)
		writeLink(arena, oldHead, off, oldHeadNext)
		li.tree.ReplaceOrInsert(sizeNode{size: size, head: off})
		return
	}
	writeLink(arena, off, 0, 0)
	li.tree.ReplaceOrInsert(sizeNode{size: size, head: off})
}

// removeHead pops and returns the ring head for an exact size, promoting
// the next ring member (if any) to be the new tree node. ok is false if
// no block of that exact size is indexed.
func (li *largeIndex) removeHead(arena []byte, size uint32) (off uint32, ok bool) {
	node, found := li.tree.Get(sizeNode{size: size})
	if !found {
		return 0, false
	}
	head := node.head
	_, next := readLink(arena, head)
	if next == 0 {
		li.tree.Delete(sizeNode{size: size})
	} else {
		_, nextNext := readLink(arena, next)
		writeLink(arena, next, 0, nextNext)
		li.tree.ReplaceOrInsert(sizeNode{size: size, head: next})
	}
	return head, true
}

// removeExact detaches a specific block (known offset, known size) from
// its ring, whether it is the head or an interior/tail member — used
// when coalescing a block out of the index during defrag.
func (li *largeIndex) removeExact(arena []byte, size, off uint32) {
	node, found := li.tree.Get(sizeNode{size: size})
	if !found {
		return
	}
	prev, next := readLink(arena, off)
	if node.head == off {
		if next == 0 {
			li.tree.Delete(sizeNode{size: size})
		} else {
			_, nextNext := readLink(arena, next)
			writeLink(arena, next, 0, nextNext)
			li.tree.ReplaceOrInsert(sizeNode{size: size, head: next})
		}
		return
	}
	if prev != 0 {
		prevPrev, _ := readLink(arena, prev)
		writeLink(arena, prev, prevPrev, next)
	}
	if next != 0 {
		_, nextNext := readLink(arena, next)
		writeLink(arena, next, prev, nextNext)
	}
}

// smallestFit returns the smallest indexed free-block size >= want,
// without removing anything.
func (li *largeIndex) smallestFit(want uint32) (size uint32, ok bool) {
	found := false
	var result uint32
	li.tree.AscendGreaterOrEqual(sizeNode{size: want}, func(item sizeNode) bool {
		result = item.size
		found = true
		return false
	})
	return result, found
}

func (li *largeIndex) len() int { return li.tree.Len() }
