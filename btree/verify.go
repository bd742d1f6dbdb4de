package btree

import "fmt"

// Verify walks the whole tree checking the B+tree invariants: every leaf's
// keys are strictly increasing, every internal node's separator keys
// correctly bound their children's key ranges, and every non-root node
// meets its minimum occupancy. Intended for tests and offline diagnostics,
// not the hot path, so it doesn't bother latching pages. Grounded on
// pkg/btree/verify.go's IsBTree/isBTree recursion.
func (t *Tree) Verify() error {
	if t.IsEmpty() {
		return nil
	}
	_, _, err := t.verify(t.currentRoot(), true)
	return err
}

func (t *Tree) verify(pageID int32, isRoot bool) (low, high int64, err error) {
	page, err := t.pool.FetchPage(pageID)
	if err != nil {
		return 0, 0, err
	}
	defer t.pool.UnpinPage(pageID, false)

	if IsLeaf(page) {
		leaf := NewLeaf(page)
		n := int(leaf.Size())
		if !isRoot && int32(n) < t.leafMinSize() {
			return 0, 0, fmt.Errorf("btree: leaf %d underfull: size %d < min %d", pageID, n, t.leafMinSize())
		}
		for i := 0; i < n-1; i++ {
			if t.cmp(leaf.KeyAt(i), leaf.KeyAt(i+1)) >= 0 {
				return 0, 0, fmt.Errorf("btree: leaf %d keys out of order at slot %d", pageID, i)
			}
		}
		if n == 0 {
			return 0, 0, nil
		}
		return leaf.KeyAt(0), leaf.KeyAt(n - 1), nil
	}

	node := NewInternal(page)
	n := int(node.Size())
	if !isRoot && int32(n) < t.internalMinSize() {
		return 0, 0, fmt.Errorf("btree: internal node %d underfull: size %d < min %d", pageID, n, t.internalMinSize())
	}
	if n < 1 {
		return 0, 0, fmt.Errorf("btree: internal node %d has no children", pageID)
	}

	var lowest, highest int64
	for i := 0; i < n; i++ {
		child := node.ValueAt(i)
		cl, ch, err := t.verify(child, false)
		if err != nil {
			return 0, 0, err
		}
		if i == 0 {
			lowest = cl
		}
		if i == n-1 {
			highest = ch
		}
		if i > 0 && t.cmp(node.KeyAt(i), cl) > 0 {
			return 0, 0, fmt.Errorf("btree: internal node %d separator at slot %d exceeds child %d's lowest key", pageID, i, child)
		}
		if i+1 < n && t.cmp(node.KeyAt(i+1), ch) <= 0 {
			return 0, 0, fmt.Errorf("btree: internal node %d separator at slot %d undercuts child %d's highest key", pageID, i+1, child)
		}
	}
	return lowest, highest, nil
}
