package buffer

import (
	"errors"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"dbcore/internal/corelog"
	"dbcore/internal/diag"
	"dbcore/internal/disk"
	"dbcore/internal/list"
	"dbcore/internal/replacer"
)

var (
	// ErrNoFreeFrames is returned when every frame is pinned and the
	// replacer has no victim to offer.
	ErrNoFreeFrames = errors.New("buffer: no free frames available")
	// ErrPageNotFound is returned by operations addressing a page id that
	// isn't currently resident.
	ErrPageNotFound = errors.New("buffer: page not resident in pool")
	// ErrPagePinned is returned by DeletePage when the page still has
	// outstanding pins.
	ErrPagePinned = errors.New("buffer: page is still pinned")
	// ErrNotPinned is returned by UnpinPage called on a page with no
	// outstanding pins, mirroring dinodb's pager guard.
	ErrNotPinned = errors.New("buffer: page has no outstanding pins to release")
)

// Pool is the buffer pool manager: a fixed frame array plus a page table,
// a free list of frames holding no page (never used, or returned by
// DeletePage), and a clock replacer for unpinned frames that hold a page. Mirrors dinodb/pkg/pager.Pager's structure,
// generalized to the spec's Replacer contract.
type Pool struct {
	mu sync.Mutex

	disk     *disk.Manager
	replacer replacer.Replacer
	log      corelog.Logger
	journal  *diag.Journal

	frames    []*Page
	pageTable map[int32]int  // page id -> frame id
	freeList  *list.List     // frame ids (int) holding no page
	pinned    *bitset.BitSet // frame id -> has outstanding pins
}

// NewPool constructs a buffer pool of poolSize frames backed by disk. journal
// may be nil, in which case eviction events simply aren't recorded anywhere.
func NewPool(poolSize int, d *disk.Manager, log corelog.Logger, journal *diag.Journal) *Pool {
	if log == nil {
		log = corelog.Noop()
	}
	p := &Pool{
		disk:      d,
		replacer:  replacer.NewClockReplacer(poolSize),
		log:       log,
		journal:   journal,
		frames:    make([]*Page, poolSize),
		pageTable: make(map[int32]int, poolSize),
		freeList:  list.NewList(),
		pinned:    bitset.New(uint(poolSize)),
	}
	for i := 0; i < poolSize; i++ {
		p.frames[i] = &Page{id: -1}
		p.freeList.PushTail(i)
	}
	return p
}

// allocateFrame finds a frame to hold a new page, evicting a clock victim
// and flushing it first if it's dirty. Caller holds mu.
func (p *Pool) allocateFrame() (int, error) {
	if link := p.freeList.PeekHead(); link != nil {
		frameID := link.GetValue().(int)
		link.PopSelf()
		return frameID, nil
	}
	frameID, ok := p.replacer.Victim()
	if !ok {
		return 0, ErrNoFreeFrames
	}
	victim := p.frames[frameID]
	wasDirty := victim.dirty
	if victim.dirty {
		if err := p.disk.WritePage(victim.id, victim.Data()); err != nil {
			return 0, err
		}
	}
	delete(p.pageTable, victim.id)
	p.log.Debugw("evicted page", "page_id", victim.id, "frame_id", frameID)
	if p.journal != nil {
		p.journal.Append("evict",
			diag.Field("page_id", victim.id),
			diag.Field("frame_id", frameID),
			diag.Field("flushed", wasDirty))
	}
	return frameID, nil
}

// FetchPage pins and returns the page identified by pageID, reading it from
// disk into a free or evicted frame if it isn't already resident.
func (p *Pool) FetchPage(pageID int32) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frameID, ok := p.pageTable[pageID]; ok {
		frame := p.frames[frameID]
		frame.pinCount++
		p.pinned.Set(uint(frameID))
		p.replacer.Pin(frameID)
		return frame, nil
	}

	frameID, err := p.allocateFrame()
	if err != nil {
		return nil, err
	}
	frame := p.frames[frameID]
	frame.reset(pageID)
	if err := p.disk.ReadPage(pageID, frame.Data()); err != nil {
		p.freeList.PushTail(frameID)
		return nil, err
	}
	frame.pinCount = 1
	p.pageTable[pageID] = frameID
	p.pinned.Set(uint(frameID))
	p.replacer.Pin(frameID)
	return frame, nil
}

// NewPage allocates a fresh page on disk, pins it in a frame, and returns
// both the frame and its new page id.
func (p *Pool) NewPage() (*Page, int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, err := p.allocateFrame()
	if err != nil {
		return nil, 0, err
	}
	pageID := p.disk.AllocatePage()
	frame := p.frames[frameID]
	frame.reset(pageID)
	frame.pinCount = 1
	frame.dirty = true
	p.pageTable[pageID] = frameID
	p.pinned.Set(uint(frameID))
	p.replacer.Pin(frameID)
	return frame, pageID, nil
}

// UnpinPage releases one pin on pageID. If isDirty, the page is marked
// dirty regardless of its prior state (a pin holder never gets to
// un-dirty a page another holder modified).
func (p *Pool) UnpinPage(pageID int32, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}
	frame := p.frames[frameID]
	if isDirty {
		frame.dirty = true
	}
	if frame.pinCount <= 0 {
		return ErrNotPinned
	}
	frame.pinCount--
	if frame.pinCount == 0 {
		p.pinned.Clear(uint(frameID))
		p.replacer.Unpin(frameID)
	}
	return nil
}

// FlushPage writes pageID's frame to disk if resident, regardless of its
// dirty bit.
func (p *Pool) FlushPage(pageID int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(pageID)
}

func (p *Pool) flushLocked(pageID int32) error {
	frameID, ok := p.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}
	frame := p.frames[frameID]
	if err := p.disk.WritePage(pageID, frame.Data()); err != nil {
		return err
	}
	frame.dirty = false
	return nil
}

// FlushAllPages writes every resident page to disk concurrently, using an
// errgroup to fan the writes out and report the first error encountered.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	ids := make([]int32, 0, len(p.pageTable))
	for id := range p.pageTable {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return p.FlushPage(id)
		})
	}
	return g.Wait()
}

// DeletePage removes pageID from the pool and frees its backing disk page.
// Fails if the page is currently pinned.
func (p *Pool) DeletePage(pageID int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, ok := p.pageTable[pageID]
	if !ok {
		p.disk.DeallocatePage(pageID)
		return nil
	}
	frame := p.frames[frameID]
	if frame.pinCount > 0 {
		return ErrPagePinned
	}
	delete(p.pageTable, pageID)
	p.pinned.Clear(uint(frameID))
	p.replacer.Pin(frameID)
	frame.reset(-1)
	p.freeList.PushTail(frameID)
	p.disk.DeallocatePage(pageID)
	return nil
}

// DiskPageCount returns how many pages have ever been allocated on disk,
// letting a caller distinguish a brand new database file from one being
// reopened (used to decide whether page 0 still needs formatting).
func (p *Pool) DiskPageCount() int64 {
	return p.disk.NumPages()
}

// Close flushes every dirty page and closes the underlying disk manager.
func (p *Pool) Close() error {
	if err := p.FlushAllPages(); err != nil {
		return err
	}
	return p.disk.Close()
}
