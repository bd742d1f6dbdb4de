// Package buffer implements the buffer pool manager: the mediator between
// the fixed-size frame array in memory and the disk manager's page file,
// mirroring dinodb/pkg/pager.Pager field-for-field but renamed to the
// spec's vocabulary (latch instead of lock, frame instead of buffer slot).
package buffer

import (
	"sync"

	"dbcore/internal/config"
)

// Page is one frame's worth of buffer-pool-resident state: the raw bytes
// plus pin/dirty bookkeeping and the RWMutex latch callers crab across.
// Mirrors dinodb/pkg/pager.Page's fields, renamed to spec vocabulary.
type Page struct {
	Latch sync.RWMutex

	id       int32
	pinCount int32
	dirty    bool
	data     [config.PageSize]byte
}

// ID returns the page id this frame currently holds. Callers should only
// trust this while they hold Latch or the page's pin count is > 0.
func (p *Page) ID() int32 { return p.id }

// Data returns the page's raw byte buffer for callers to interpret as
// whatever structure (B+tree node, heap page, header page) lives there.
func (p *Page) Data() []byte { return p.data[:] }

// IsDirty reports whether the page has been written to since it was last
// flushed to disk.
func (p *Page) IsDirty() bool { return p.dirty }

// PinCount returns the number of outstanding pins on this page.
func (p *Page) PinCount() int32 { return p.pinCount }

func (p *Page) reset(id int32) {
	p.id = id
	p.pinCount = 0
	p.dirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}
