package btree

import (
	"encoding/binary"
	"sort"

	"dbcore/internal/buffer"
	"dbcore/rid"
)

// Leaf wraps a buffer pool page holding a leaf node: sorted (key, RID)
// entries plus a next_page_id pointer to the right sibling, per
// original_source/src/storage/page/b_plus_tree_leaf_page.cpp.
type Leaf struct {
	header
	page *buffer.Page
}

// NewLeaf wraps an already-fetched, already-latched page as a Leaf. It
// does not initialize the page's contents; call Init for a brand new page.
func NewLeaf(page *buffer.Page) *Leaf {
	return &Leaf{header: header{data: page.Data()}, page: page}
}

// Init formats a freshly allocated page as an empty leaf.
func (l *Leaf) Init(pageID, parentID int32, maxSize int32) {
	l.setNodeType(LeafNodeType)
	l.setPageID(pageID)
	l.SetParentPageID(parentID)
	l.SetSize(0)
	l.setMaxSize(maxSize)
	l.SetNextPageID(-1)
}

func (l *Leaf) Page() *buffer.Page { return l.page }

// NextPageID returns the right sibling's page id, or INVALID_PAGE_ID (-1)
// if this is the rightmost leaf.
func (l *Leaf) NextPageID() int32 {
	return int32(binary.LittleEndian.Uint32(l.data[offsetNextPageID:]))
}

// SetNextPageID rewires the sibling chain.
func (l *Leaf) SetNextPageID(id int32) {
	binary.LittleEndian.PutUint32(l.data[offsetNextPageID:], uint32(id))
}

// KeyAt returns the key stored in slot i.
func (l *Leaf) KeyAt(i int) int64 {
	return int64(binary.LittleEndian.Uint64(l.data[entryOffsetLeaf(i):]))
}

func (l *Leaf) setKeyAt(i int, key int64) {
	binary.LittleEndian.PutUint64(l.data[entryOffsetLeaf(i):], uint64(key))
}

// ValueAt returns the RID stored in slot i.
func (l *Leaf) ValueAt(i int) rid.RID {
	return decodeRID(l.data[entryOffsetLeaf(i)+keySize:])
}

func (l *Leaf) setEntryAt(i int, key int64, v rid.RID) {
	l.setKeyAt(i, key)
	encodeRID(l.data[entryOffsetLeaf(i)+keySize:], v)
}

// lowerBound returns the smallest index i with KeyAt(i) >= key, i.e. the
// leaf binary search spec §4.5 names as the insert-position search.
func (l *Leaf) lowerBound(key int64, cmp Comparator) int {
	n := int(l.Size())
	return sort.Search(n, func(i int) bool { return cmp(l.KeyAt(i), key) >= 0 })
}

// Lookup returns the value for key, or false if key is absent.
func (l *Leaf) Lookup(key int64, cmp Comparator) (rid.RID, bool) {
	i := l.lowerBound(key, cmp)
	if i < int(l.Size()) && cmp(l.KeyAt(i), key) == 0 {
		return l.ValueAt(i), true
	}
	return rid.RID{}, false
}

// Insert adds (key, value) in sorted position, shifting entries right.
// Returns the new size and false without modifying the leaf if key is
// already present (duplicate keys are rejected, not overwritten).
func (l *Leaf) Insert(key int64, value rid.RID, cmp Comparator) (int, bool) {
	n := int(l.Size())
	i := l.lowerBound(key, cmp)
	if i < n && cmp(l.KeyAt(i), key) == 0 {
		return n, false
	}
	for j := n; j > i; j-- {
		l.setEntryAt(j, l.KeyAt(j-1), l.ValueAt(j-1))
	}
	l.setEntryAt(i, key, value)
	l.SetSize(int32(n + 1))
	return n + 1, true
}

// RemoveAndDeleteRecord removes key if present, shifting later entries
// left, and returns the new size.
func (l *Leaf) RemoveAndDeleteRecord(key int64, cmp Comparator) int {
	n := int(l.Size())
	i := l.lowerBound(key, cmp)
	if i >= n || cmp(l.KeyAt(i), key) != 0 {
		return n
	}
	for j := i; j < n-1; j++ {
		l.setEntryAt(j, l.KeyAt(j+1), l.ValueAt(j+1))
	}
	l.SetSize(int32(n - 1))
	return n - 1
}

// MoveHalfTo moves this leaf's upper half of entries to dest (a fresh
// right sibling created by a split), re-linking the sibling chain so dest
// takes over this leaf's old next pointer and this leaf now points at
// dest.
func (l *Leaf) MoveHalfTo(dest *Leaf) {
	n := int(l.Size())
	mid := n / 2
	for i := mid; i < n; i++ {
		dest.setEntryAt(i-mid, l.KeyAt(i), l.ValueAt(i))
	}
	dest.SetSize(int32(n - mid))
	l.SetSize(int32(mid))
	dest.SetNextPageID(l.NextPageID())
	l.SetNextPageID(dest.PageID())
}

// MoveAllTo appends every entry of l onto the end of dest (used when
// coalescing two leaves), and dest inherits l's next-sibling pointer.
func (l *Leaf) MoveAllTo(dest *Leaf) {
	base := int(dest.Size())
	n := int(l.Size())
	for i := 0; i < n; i++ {
		dest.setEntryAt(base+i, l.KeyAt(i), l.ValueAt(i))
	}
	dest.SetSize(int32(base + n))
	dest.SetNextPageID(l.NextPageID())
	l.SetSize(0)
}

// MoveFirstToEndOf moves l's first entry onto the end of dest, used when
// redistributing from a right sibling into an underfull left sibling. The
// caller is responsible for updating the parent's separator key.
func (l *Leaf) MoveFirstToEndOf(dest *Leaf) {
	key, val := l.KeyAt(0), l.ValueAt(0)
	n := int(l.Size())
	for i := 0; i < n-1; i++ {
		l.setEntryAt(i, l.KeyAt(i+1), l.ValueAt(i+1))
	}
	l.SetSize(int32(n - 1))
	dest.setEntryAt(int(dest.Size()), key, val)
	dest.SetSize(dest.Size() + 1)
}

// MoveLastToFrontOf moves l's last entry onto the front of dest, used when
// redistributing from a left sibling into an underfull right sibling. The
// caller is responsible for updating the parent's separator key.
func (l *Leaf) MoveLastToFrontOf(dest *Leaf) {
	n := int(l.Size())
	key, val := l.KeyAt(n-1), l.ValueAt(n-1)
	l.SetSize(int32(n - 1))
	destN := int(dest.Size())
	for i := destN; i > 0; i-- {
		dest.setEntryAt(i, dest.KeyAt(i-1), dest.ValueAt(i-1))
	}
	dest.setEntryAt(0, key, val)
	dest.SetSize(int32(destN + 1))
}
