// Package btree implements a concurrent B+tree index over the buffer pool,
// using latch-coupling ("crabbing") for thread safety. The node layouts
// and move/split/merge algorithms are ported from
// original_source/src/storage/page/b_plus_tree_leaf_page.cpp and
// b_plus_tree_internal_page.cpp; the top-level Insert/Delete/Search descent
// and the transaction-scoped page-set crabbing come from
// original_source/src/storage/index/b_plus_tree.cpp. dinodb's own
// pkg/btree is the organizing idiom (node.go/leafNode.go/internalNode.go/
// btree.go/cursor.go/verify.go file split, constants.go's header-offset
// style) but its own node layout has no sentinel slot and no delete-side
// rebalancing, so the byte layout and the split/merge code are rewritten
// against original_source instead of adapted from dinodb's.
package btree

import (
	"encoding/binary"

	"dbcore/internal/buffer"
	"dbcore/rid"
)

// NodeType distinguishes a leaf page from an internal routing page.
type NodeType byte

const (
	InternalNodeType NodeType = 0
	LeafNodeType     NodeType = 1
)

// Common node header layout, matching spec's "page type, parent page id,
// own page id, current size, max size, and LSN (reserved)". LSN is carried
// as a field but never advanced — WAL is a no-op collaborator.
const (
	offsetNodeType     = 0
	offsetLSN          = offsetNodeType + 1
	offsetParentPageID = offsetLSN + 8
	offsetPageID       = offsetParentPageID + 4
	offsetSize         = offsetPageID + 4
	offsetMaxSize      = offsetSize + 4
	commonHeaderSize   = offsetMaxSize + 4

	offsetNextPageID = commonHeaderSize
	leafHeaderSize   = offsetNextPageID + 4

	internalHeaderSize = commonHeaderSize
)

// Entry sizes. Keys are fixed-width int64s rather than dinodb's varints:
// fixed width lets KeyAt/Insert/binary-search index directly into the page
// buffer instead of decoding every preceding entry first.
const (
	keySize           = 8
	ridSize           = 8 // RID.PageID int32 + RID.SlotID uint32
	leafEntrySize     = keySize + ridSize
	childIDSize       = 4
	internalEntrySize = keySize + childIDSize
)

// header is the common node metadata, embedded by both Leaf and Internal.
type header struct {
	data []byte
}

func (h header) NodeType() NodeType { return NodeType(h.data[offsetNodeType]) }
func (h header) setNodeType(t NodeType) { h.data[offsetNodeType] = byte(t) }

func (h header) LSN() int64 { return int64(binary.LittleEndian.Uint64(h.data[offsetLSN:])) }

func (h header) ParentPageID() int32 {
	return int32(binary.LittleEndian.Uint32(h.data[offsetParentPageID:]))
}
func (h header) SetParentPageID(id int32) {
	binary.LittleEndian.PutUint32(h.data[offsetParentPageID:], uint32(id))
}

func (h header) PageID() int32 {
	return int32(binary.LittleEndian.Uint32(h.data[offsetPageID:]))
}
func (h header) setPageID(id int32) {
	binary.LittleEndian.PutUint32(h.data[offsetPageID:], uint32(id))
}

func (h header) Size() int32 { return int32(binary.LittleEndian.Uint32(h.data[offsetSize:])) }
func (h header) SetSize(n int32) {
	binary.LittleEndian.PutUint32(h.data[offsetSize:], uint32(n))
}

func (h header) MaxSize() int32 { return int32(binary.LittleEndian.Uint32(h.data[offsetMaxSize:])) }
func (h header) setMaxSize(n int32) {
	binary.LittleEndian.PutUint32(h.data[offsetMaxSize:], uint32(n))
}

// IsLeaf reports whether the page at data is a leaf node, used to decide
// which wrapper (Leaf or Internal) to construct without fetching twice.
func IsLeaf(page *buffer.Page) bool {
	return NodeType(page.Data()[offsetNodeType]) == LeafNodeType
}

// Comparator orders two keys: negative if a < b, zero if equal, positive
// if a > b. Key comparators are an out-of-scope narrow collaborator (the
// B+tree only ever calls one); NaturalOrder is the only one dbcore needs
// since its keys are int64.
type Comparator func(a, b int64) int

// NaturalOrder is the default int64 Comparator.
func NaturalOrder(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func entryOffsetLeaf(i int) int { return leafHeaderSize + i*leafEntrySize }

func entryOffsetInternal(i int) int { return internalHeaderSize + i*internalEntrySize }

func encodeRID(data []byte, v rid.RID) {
	binary.LittleEndian.PutUint32(data, uint32(v.PageID))
	binary.LittleEndian.PutUint32(data[4:], v.SlotID)
}

func decodeRID(data []byte) rid.RID {
	return rid.RID{
		PageID: int32(binary.LittleEndian.Uint32(data)),
		SlotID: binary.LittleEndian.Uint32(data[4:]),
	}
}
