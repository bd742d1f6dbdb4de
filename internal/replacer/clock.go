// Package replacer implements the buffer pool's frame replacement policy
// (spec §4.1). The algorithm is ported directly from
// original_source/src/buffer/lru_replacer.cpp's clock/second-chance
// implementation (that file is misleadingly named LRUReplacer in BusTub but
// its Victim() is a textbook clock sweep, which is what spec §4.1 asks for).
//
// The reference-bit ring is backed by github.com/bits-and-blooms/bitset
// instead of a plain map[FrameID]bool: dinodb's go.mod declares this
// dependency but never imports it anywhere, so this is where it gets wired
// into a real component — a ring of reference bits is exactly a bitset's
// job.
package replacer

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Replacer chooses a victim frame to evict when the buffer pool is
// saturated. Matches spec §4.1's contract exactly.
type Replacer interface {
	// Victim returns a frame id to evict and removes it from the ring, or
	// ok=false if the ring is empty.
	Victim() (frame int, ok bool)
	// Pin removes frame from the ring (no-op if absent).
	Pin(frame int)
	// Unpin inserts frame into the ring with its reference bit set (no-op
	// if already present).
	Unpin(frame int)
	// Size returns the number of candidate frames currently in the ring.
	Size() int
}

// ClockReplacer implements the clock (second-chance) policy over a fixed
// universe of numFrames candidate frame ids.
type ClockReplacer struct {
	mu sync.Mutex

	numFrames int
	present   *bitset.BitSet // frame -> is it currently a candidate
	ref       *bitset.BitSet // frame -> reference bit
	order     []int          // ring order frames were inserted in (clock order)
	hand      int            // index into order of the clock hand
}

// NewClockReplacer constructs a replacer over frame ids [0, numFrames).
func NewClockReplacer(numFrames int) *ClockReplacer {
	return &ClockReplacer{
		numFrames: numFrames,
		present:   bitset.New(uint(numFrames)),
		ref:       bitset.New(uint(numFrames)),
		order:     make([]int, 0, numFrames),
	}
}

// Victim advances the clock hand, clearing reference bits, until it finds an
// unreferenced candidate or the ring is empty. Terminates in at most
// 2*Size() steps: one pass clears every bit, the second pass is guaranteed
// to find the first frame it revisits unreferenced.
func (c *ClockReplacer) Victim() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.order)
	if n == 0 {
		return 0, false
	}
	steps := 2 * n
	for i := 0; i < steps; i++ {
		if len(c.order) == 0 {
			return 0, false
		}
		c.hand %= len(c.order)
		frame := c.order[c.hand]
		if c.ref.Test(uint(frame)) {
			c.ref.Clear(uint(frame))
			c.hand++
			continue
		}
		c.removeAt(c.hand)
		c.present.Clear(uint(frame))
		return frame, true
	}
	return 0, false
}

// Pin removes frame from the ring; no-op if it isn't a candidate.
func (c *ClockReplacer) Pin(frame int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.present.Test(uint(frame)) {
		return
	}
	for i, f := range c.order {
		if f == frame {
			c.removeAt(i)
			break
		}
	}
	c.present.Clear(uint(frame))
	c.ref.Clear(uint(frame))
}

// Unpin inserts frame into the ring with its reference bit set; no-op if
// frame is already a candidate.
func (c *ClockReplacer) Unpin(frame int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.present.Test(uint(frame)) {
		return
	}
	c.present.Set(uint(frame))
	c.ref.Set(uint(frame))
	c.order = append(c.order, frame)
}

// Size returns the number of candidate frames in the ring.
func (c *ClockReplacer) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// removeAt deletes the entry at ring index i, keeping the clock hand stable
// relative to the frame it was about to examine next. Caller holds c.mu.
func (c *ClockReplacer) removeAt(i int) {
	c.order = append(c.order[:i], c.order[i+1:]...)
	if len(c.order) == 0 {
		c.hand = 0
		return
	}
	if c.hand > i {
		c.hand--
	}
	if c.hand >= len(c.order) {
		c.hand = 0
	}
}

var _ Replacer = (*ClockReplacer)(nil)
