package heap

import (
	"dbcore/internal/buffer"
	"dbcore/rid"
)

// Heap is an append-only chain of Pages a table's tuples live in. Mirrors
// original_source's TableHeap sitting on top of TablePage: Insert always
// tries the last page first, allocating a fresh one and linking it in
// only once the current tail is full.
type Heap struct {
	pool        *buffer.Pool
	firstPageID int32
	lastPageID  int32
}

// Open wraps an existing heap given its first page id (persisted by the
// catalog), walking the chain to find the current tail.
func Open(pool *buffer.Pool, firstPageID int32) (*Heap, error) {
	h := &Heap{pool: pool, firstPageID: firstPageID, lastPageID: firstPageID}
	id := firstPageID
	for {
		page, err := pool.FetchPage(id)
		if err != nil {
			return nil, err
		}
		next := New(page).NextPageID()
		pool.UnpinPage(id, false)
		if next < 0 {
			break
		}
		id = next
	}
	h.lastPageID = id
	return h, nil
}

// Create allocates a brand new, empty heap (a single page) and returns it.
func Create(pool *buffer.Pool) (*Heap, error) {
	page, pageID, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	New(page).Init()
	if err := pool.UnpinPage(pageID, true); err != nil {
		return nil, err
	}
	return &Heap{pool: pool, firstPageID: pageID, lastPageID: pageID}, nil
}

// FirstPageID is the persisted anchor a catalog stores to reopen this heap.
func (h *Heap) FirstPageID() int32 { return h.firstPageID }

// Insert appends tuple to the heap's tail page, allocating a new tail page
// and linking it in if the current one is full, and returns the tuple's RID.
func (h *Heap) Insert(tuple []byte) (rid.RID, error) {
	page, err := h.pool.FetchPage(h.lastPageID)
	if err != nil {
		return rid.RID{}, err
	}
	hp := New(page)
	slot, err := hp.Insert(tuple)
	if err == ErrPageFull {
		newPage, newPageID, nerr := h.pool.NewPage()
		if nerr != nil {
			h.pool.UnpinPage(h.lastPageID, false)
			return rid.RID{}, nerr
		}
		New(newPage).Init()
		hp.SetNextPageID(newPageID)
		h.pool.UnpinPage(h.lastPageID, true)
		h.lastPageID = newPageID
		slot, err = New(newPage).Insert(tuple)
		if err != nil {
			h.pool.UnpinPage(newPageID, true)
			return rid.RID{}, err
		}
		return rid.RID{PageID: newPageID, SlotID: slot}, h.pool.UnpinPage(newPageID, true)
	}
	if err != nil {
		h.pool.UnpinPage(h.lastPageID, false)
		return rid.RID{}, err
	}
	return rid.RID{PageID: page.ID(), SlotID: slot}, h.pool.UnpinPage(page.ID(), true)
}

// Get returns the tuple bytes at r.
func (h *Heap) Get(r rid.RID) ([]byte, error) {
	page, err := h.pool.FetchPage(r.PageID)
	if err != nil {
		return nil, err
	}
	defer h.pool.UnpinPage(r.PageID, false)
	return New(page).Get(r.SlotID)
}

// Delete tombstones the tuple at r.
func (h *Heap) Delete(r rid.RID) error {
	page, err := h.pool.FetchPage(r.PageID)
	if err != nil {
		return err
	}
	defer h.pool.UnpinPage(r.PageID, true)
	return New(page).Delete(r.SlotID)
}

// Iterator walks every live tuple in the heap in page/slot order.
type Iterator struct {
	heap      *Heap
	pageID    int32
	slot      int
	slotCount int
}

// NewIterator returns an iterator positioned before the heap's first tuple.
func (h *Heap) NewIterator() *Iterator {
	return &Iterator{heap: h, pageID: h.firstPageID, slot: -1}
}

// Next advances to the next live (non-tombstoned) tuple, returning its RID
// and false once the heap is exhausted.
func (it *Iterator) Next() (rid.RID, bool, error) {
	for {
		if it.pageID < 0 {
			return rid.RID{}, false, nil
		}
		page, err := it.heap.pool.FetchPage(it.pageID)
		if err != nil {
			return rid.RID{}, false, err
		}
		hp := New(page)
		if it.slot == -1 {
			it.slotCount = hp.SlotCount()
		}
		it.slot++
		for it.slot < it.slotCount {
			if _, gerr := hp.Get(uint32(it.slot)); gerr == nil {
				r := rid.RID{PageID: it.pageID, SlotID: uint32(it.slot)}
				it.heap.pool.UnpinPage(it.pageID, false)
				return r, true, nil
			}
			it.slot++
		}
		next := hp.NextPageID()
		it.heap.pool.UnpinPage(it.pageID, false)
		it.pageID = next
		it.slot = -1
	}
}
