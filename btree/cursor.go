package btree

import (
	"errors"

	"dbcore/internal/buffer"
	"dbcore/rid"
)

// ErrNoMoreEntries is returned by GetEntry when the cursor has walked past
// the last entry in the tree.
var ErrNoMoreEntries = errors.New("btree: cursor has no current entry")

// Cursor iterates a range of a Tree's leaf entries in key order, holding a
// read latch on whichever leaf it currently sits in. Grounded on
// pkg/btree/cursor.go's BTreeCursor, generalized from dinodb's single
// *pager.Pager put/lock pair to the buffer pool's FetchPage/UnpinPage plus
// page.Latch.
type Cursor struct {
	tree  *Tree
	leaf  *Leaf
	index int
	done  bool
}

// RangeBegin returns a cursor positioned at the first entry with key >=
// start. Pass start below any real key to scan the whole tree.
func (t *Tree) RangeBegin(start int64) (*Cursor, error) {
	if t.IsEmpty() {
		return &Cursor{tree: t, done: true}, nil
	}
	page, err := t.pool.FetchPage(t.currentRoot())
	if err != nil {
		return nil, err
	}
	page.Latch.RLock()
	var parent *buffer.Page
	for !IsLeaf(page) {
		if parent != nil {
			t.unlatchUnpin(parent, false, false)
		}
		node := NewInternal(page)
		childID := node.Lookup(start, t.cmp)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			t.unlatchUnpin(page, false, false)
			return nil, err
		}
		child.Latch.RLock()
		parent = page
		page = child
	}
	if parent != nil {
		t.unlatchUnpin(parent, false, false)
	}
	leaf := NewLeaf(page)
	c := &Cursor{tree: t, leaf: leaf, index: leaf.lowerBound(start, t.cmp)}
	c.skipToValid()
	return c, nil
}

// skipToValid advances across exhausted leaves until the cursor sits on a
// real entry or the tree is exhausted, mirroring BTreeCursor.Next's
// "if the next node is empty, step again" loop.
func (c *Cursor) skipToValid() {
	for !c.done && c.index >= int(c.leaf.Size()) {
		next := c.leaf.NextPageID()
		if next < 0 {
			c.tree.unlatchUnpin(c.leaf.Page(), false, false)
			c.done = true
			return
		}
		nextPage, err := c.tree.pool.FetchPage(next)
		if err != nil {
			c.tree.unlatchUnpin(c.leaf.Page(), false, false)
			c.done = true
			return
		}
		nextPage.Latch.RLock()
		c.tree.unlatchUnpin(c.leaf.Page(), false, false)
		c.leaf = NewLeaf(nextPage)
		c.index = 0
	}
}

// Next advances the cursor by one entry. Returns false once the cursor has
// moved past the last entry in the tree.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	c.index++
	c.skipToValid()
	return !c.done
}

// GetEntry returns the (key, value) pair the cursor currently sits on.
func (c *Cursor) GetEntry() (int64, rid.RID, error) {
	if c.done || c.leaf == nil || c.index >= int(c.leaf.Size()) {
		return 0, rid.RID{}, ErrNoMoreEntries
	}
	return c.leaf.KeyAt(c.index), c.leaf.ValueAt(c.index), nil
}

// Close releases the read latch and pin the cursor is holding, if any. A
// cursor that has run off the end of the tree already released its latch
// in skipToValid, so Close is a no-op for it.
func (c *Cursor) Close() {
	if c.done || c.leaf == nil {
		return
	}
	c.tree.unlatchUnpin(c.leaf.Page(), false, false)
	c.done = true
}
