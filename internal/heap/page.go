// Package heap implements a minimal slotted tuple page: the "external
// collaborator" spec names for tuple storage without specifying its
// format. Grounded on the slotted-page idiom in
// _examples/ShubhamNegi4-DaemonDB/heapfile_manager/struct.go (header +
// forward-growing tuple area + backward-growing slot directory), adapted
// to dbcore's fixed-width binary.LittleEndian encoding style (btree/node.go)
// instead of that package's separate PageHeader/Slot structs.
package heap

import (
	"encoding/binary"
	"errors"

	"dbcore/internal/buffer"
)

// ErrPageFull is returned by Insert when a tuple (plus its slot directory
// entry) doesn't fit in the page's remaining free space.
var ErrPageFull = errors.New("heap: page has no room for tuple")

// ErrTupleNotFound is returned by Get/Delete for an empty or
// already-deleted slot.
var ErrTupleNotFound = errors.New("heap: slot is empty or deleted")

const (
	offsetSlotCount = 0
	offsetFreeSpace = 2
	offsetNextPage  = 4
	headerSize      = 8

	slotSize = 4 // offset uint16 + length uint16

	// checksumReserve is the page tail the disk manager keeps for its
	// checksum and zeroes on read; the slot directory ends just before it
	checksumReserve = 8
)

// Page wraps a buffer pool page as a slotted heap page: tuples are packed
// forward from the end of the header, the slot directory grows backward
// from just before the page's last checksumReserve bytes, and a slot's
// length of 0 marks a tombstone
// left by Delete (heap pages never compact; reclaiming tombstoned space is
// a Non-goal, same as original_source's TablePage).
type Page struct {
	page *buffer.Page
}

// New wraps an already-fetched, already-latched page as a Page.
func New(page *buffer.Page) *Page { return &Page{page: page} }

// Init formats a freshly allocated page as empty, pointing at no next page.
func (p *Page) Init() {
	data := p.page.Data()
	binary.LittleEndian.PutUint16(data[offsetSlotCount:], 0)
	binary.LittleEndian.PutUint16(data[offsetFreeSpace:], headerSize)
	binary.LittleEndian.PutUint32(data[offsetNextPage:], uint32(invalidPageID))
}

var invalidPageID int32 = -1

func (p *Page) slotCount() int {
	return int(binary.LittleEndian.Uint16(p.page.Data()[offsetSlotCount:]))
}

func (p *Page) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(p.page.Data()[offsetSlotCount:], uint16(n))
}

func (p *Page) freeSpaceOffset() int {
	return int(binary.LittleEndian.Uint16(p.page.Data()[offsetFreeSpace:]))
}

func (p *Page) setFreeSpaceOffset(n int) {
	binary.LittleEndian.PutUint16(p.page.Data()[offsetFreeSpace:], uint16(n))
}

// NextPageID returns the next heap page in this table's chain, or -1.
func (p *Page) NextPageID() int32 {
	return int32(binary.LittleEndian.Uint32(p.page.Data()[offsetNextPage:]))
}

// SetNextPageID links this page to the next one in the table's chain.
func (p *Page) SetNextPageID(id int32) {
	binary.LittleEndian.PutUint32(p.page.Data()[offsetNextPage:], uint32(id))
}

func (p *Page) slotOffset(slot int) int {
	return len(p.page.Data()) - checksumReserve - (slot+1)*slotSize
}

func (p *Page) slotEntry(slot int) (offset, length int) {
	data := p.page.Data()
	o := p.slotOffset(slot)
	return int(binary.LittleEndian.Uint16(data[o:])), int(binary.LittleEndian.Uint16(data[o+2:]))
}

func (p *Page) setSlotEntry(slot, offset, length int) {
	data := p.page.Data()
	o := p.slotOffset(slot)
	binary.LittleEndian.PutUint16(data[o:], uint16(offset))
	binary.LittleEndian.PutUint16(data[o+2:], uint16(length))
}

// freeBytes returns how much room is left between the tuple area and the
// slot directory.
func (p *Page) freeBytes() int {
	slotDirEnd := len(p.page.Data()) - checksumReserve - p.slotCount()*slotSize
	return slotDirEnd - p.freeSpaceOffset()
}

// Insert appends tuple to the page, returning its slot id. Returns
// ErrPageFull if there isn't room for the tuple plus a new slot entry.
func (p *Page) Insert(tuple []byte) (uint32, error) {
	needed := len(tuple) + slotSize
	if needed > p.freeBytes() {
		return 0, ErrPageFull
	}
	offset := p.freeSpaceOffset()
	copy(p.page.Data()[offset:offset+len(tuple)], tuple)
	slot := p.slotCount()
	p.setSlotEntry(slot, offset, len(tuple))
	p.setSlotCount(slot + 1)
	p.setFreeSpaceOffset(offset + len(tuple))
	return uint32(slot), nil
}

// Get returns the tuple bytes stored at slot.
func (p *Page) Get(slot uint32) ([]byte, error) {
	if int(slot) >= p.slotCount() {
		return nil, ErrTupleNotFound
	}
	offset, length := p.slotEntry(int(slot))
	if length == 0 {
		return nil, ErrTupleNotFound
	}
	out := make([]byte, length)
	copy(out, p.page.Data()[offset:offset+length])
	return out, nil
}

// Delete tombstones slot by zeroing its recorded length. The tuple bytes
// stay in place (no compaction) but Get and iteration skip the slot.
func (p *Page) Delete(slot uint32) error {
	if int(slot) >= p.slotCount() {
		return ErrTupleNotFound
	}
	offset, length := p.slotEntry(int(slot))
	if length == 0 {
		return ErrTupleNotFound
	}
	p.setSlotEntry(int(slot), offset, 0)
	return nil
}

// SlotCount returns the number of slots ever allocated on this page,
// including tombstoned ones — callers iterate 0..SlotCount()-1 and skip
// slots where Get returns ErrTupleNotFound.
func (p *Page) SlotCount() int { return p.slotCount() }
