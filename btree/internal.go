package btree

import (
	"encoding/binary"
	"sort"

	"dbcore/internal/buffer"
)

// Internal wraps a buffer pool page holding an internal routing node: slot
// 0 carries a sentinel key (ignored) paired with a valid child pointer,
// slots 1..size-1 carry (separator key, child pointer) pairs — the layout
// spec §4/§8 calls out as the one place dbcore diverges from dinodb's own
// InternalNode (which has no sentinel slot at all). Grounded on
// original_source/src/storage/page/b_plus_tree_internal_page.cpp.
type Internal struct {
	header
	page *buffer.Page
}

// NewInternal wraps an already-fetched, already-latched page as an
// Internal. Does not initialize contents; call Init or PopulateNewRoot for
// a brand new page.
func NewInternal(page *buffer.Page) *Internal {
	return &Internal{header: header{data: page.Data()}, page: page}
}

func (n *Internal) Init(pageID, parentID int32, maxSize int32) {
	n.setNodeType(InternalNodeType)
	n.setPageID(pageID)
	n.SetParentPageID(parentID)
	n.SetSize(0)
	n.setMaxSize(maxSize)
}

func (n *Internal) Page() *buffer.Page { return n.page }

// KeyAt returns the separator key stored in slot i. Slot 0's key is a
// sentinel and callers should never rely on its value.
func (n *Internal) KeyAt(i int) int64 {
	return int64(binary.LittleEndian.Uint64(n.data[entryOffsetInternal(i):]))
}

func (n *Internal) setKeyAt(i int, key int64) {
	binary.LittleEndian.PutUint64(n.data[entryOffsetInternal(i):], uint64(key))
}

// ValueAt returns the child page id stored in slot i.
func (n *Internal) ValueAt(i int) int32 {
	return int32(binary.LittleEndian.Uint32(n.data[entryOffsetInternal(i)+keySize:]))
}

func (n *Internal) setValueAt(i int, childPageID int32) {
	binary.LittleEndian.PutUint32(n.data[entryOffsetInternal(i)+keySize:], uint32(childPageID))
}

func (n *Internal) setEntryAt(i int, key int64, childPageID int32) {
	n.setKeyAt(i, key)
	n.setValueAt(i, childPageID)
}

// ValueIndex returns the slot index holding childPageID, or -1.
func (n *Internal) ValueIndex(childPageID int32) int {
	for i := 0; i < int(n.Size()); i++ {
		if n.ValueAt(i) == childPageID {
			return i
		}
	}
	return -1
}

// Lookup routes a search for key to the child page id it should descend
// into: the smallest slot i >= 1 with KeyAt(i) > key determines the
// boundary, and the search descends into the child at i-1 (slot 0's
// sentinel key never participates in the comparison).
func (n *Internal) Lookup(key int64, cmp Comparator) int32 {
	size := int(n.Size())
	i := sort.Search(size-1, func(k int) bool { return cmp(n.KeyAt(k+1), key) > 0 })
	return n.ValueAt(i)
}

// PopulateNewRoot formats this (freshly allocated) page as a brand new
// root with exactly two children: the old root/sibling pair produced by a
// root split.
func (n *Internal) PopulateNewRoot(oldChild int32, key int64, newChild int32) {
	n.setEntryAt(0, 0, oldChild)
	n.setEntryAt(1, key, newChild)
	n.SetSize(2)
}

// InsertNodeAfter inserts (key, newChild) immediately after the slot
// holding oldChild, shifting later entries right. Used to thread a split's
// new sibling into its parent.
func (n *Internal) InsertNodeAfter(oldChild int32, key int64, newChild int32) int {
	idx := n.ValueIndex(oldChild)
	size := int(n.Size())
	for j := size; j > idx+1; j-- {
		n.setEntryAt(j, n.KeyAt(j-1), n.ValueAt(j-1))
	}
	n.setEntryAt(idx+1, key, newChild)
	n.SetSize(int32(size + 1))
	return size + 1
}

// Remove deletes the entry at slot index, shifting later entries left.
func (n *Internal) Remove(index int) int {
	size := int(n.Size())
	for j := index; j < size-1; j++ {
		n.setEntryAt(j, n.KeyAt(j+1), n.ValueAt(j+1))
	}
	n.SetSize(int32(size - 1))
	return size - 1
}

// RemoveAndReturnOnlyChild is called when a shrinking root has exactly one
// child left; that child becomes the new root.
func (n *Internal) RemoveAndReturnOnlyChild() int32 {
	child := n.ValueAt(0)
	n.SetSize(0)
	return child
}

// MoveHalfTo moves this node's upper half of entries (slots size/2 and up;
// the first of them becomes the new node's slot 0, its key kept as the
// sentinel) to dest, a fresh right sibling created by a split, reparenting
// every moved child.
func (n *Internal) MoveHalfTo(dest *Internal, pool *buffer.Pool) error {
	size := int(n.Size())
	mid := size / 2
	for i := mid; i < size; i++ {
		dest.setEntryAt(i-mid, n.KeyAt(i), n.ValueAt(i))
		if err := n.reparentTo(pool, dest.PageID(), n.ValueAt(i)); err != nil {
			return err
		}
	}
	dest.SetSize(int32(size - mid))
	n.SetSize(int32(mid))
	return nil
}

// reparentTo fetches childPageID, updates its parent pointer to newParent,
// and unpins it dirty. Every cross-node move of a child pointer must call
// this, matching original_source's MoveHalfTo/MoveAllTo taking a
// buffer_pool_manager parameter for exactly this purpose.
func (n *Internal) reparentTo(pool *buffer.Pool, newParent int32, childPageID int32) error {
	page, err := pool.FetchPage(childPageID)
	if err != nil {
		return err
	}
	header{data: page.Data()}.SetParentPageID(newParent)
	return pool.UnpinPage(childPageID, true)
}

// MoveAllTo appends every entry of n onto the end of dest, pulling down
// separatorKey (the parent's separator between n and dest) to fill the
// sentinel slot n's first entry vacates, per spec §4.4's coalesce rule.
func (n *Internal) MoveAllTo(dest *Internal, separatorKey int64, pool *buffer.Pool) error {
	base := int(dest.Size())
	size := int(n.Size())
	for i := 0; i < size; i++ {
		key := n.KeyAt(i)
		if i == 0 {
			key = separatorKey
		}
		dest.setEntryAt(base+i, key, n.ValueAt(i))
		if err := n.reparentTo(pool, dest.PageID(), n.ValueAt(i)); err != nil {
			return err
		}
	}
	dest.SetSize(int32(base + size))
	n.SetSize(0)
	return nil
}

// MoveFirstToEndOf moves n's first child (with its sentinel replaced by
// separatorKey, the parent's separator being rotated down) onto the end of
// dest, and n's new first slot becomes the sentinel.
func (n *Internal) MoveFirstToEndOf(dest *Internal, separatorKey int64, pool *buffer.Pool) error {
	movedChild := n.ValueAt(0)
	size := int(n.Size())
	for i := 0; i < size-1; i++ {
		n.setEntryAt(i, n.KeyAt(i+1), n.ValueAt(i+1))
	}
	n.SetSize(int32(size - 1))
	dest.setEntryAt(int(dest.Size()), separatorKey, movedChild)
	dest.SetSize(dest.Size() + 1)
	return n.reparentTo(pool, dest.PageID(), movedChild)
}

// MoveLastToFrontOf moves n's last child onto the front of dest (whose old
// slot 0 sentinel shifts to slot 1, now paired with separatorKey), and n
// loses its last entry.
func (n *Internal) MoveLastToFrontOf(dest *Internal, separatorKey int64, pool *buffer.Pool) error {
	size := int(n.Size())
	movedChild := n.ValueAt(size - 1)
	n.SetSize(int32(size - 1))
	destN := int(dest.Size())
	for i := destN; i > 0; i-- {
		dest.setEntryAt(i, dest.KeyAt(i-1), dest.ValueAt(i-1))
	}
	dest.setKeyAt(1, separatorKey)
	dest.setEntryAt(0, 0, movedChild)
	dest.SetSize(int32(destN + 1))
	return n.reparentTo(pool, dest.PageID(), movedChild)
}
