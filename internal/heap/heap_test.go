package heap_test

import (
	"bytes"
	"testing"

	"dbcore/internal/buffer"
	"dbcore/internal/disk"
	"dbcore/internal/heap"
	"dbcore/internal/testutil"
)

func setupPool(t *testing.T, poolSize int) *buffer.Pool {
	t.Parallel()
	dbName := testutil.TempDBFile(t)
	d, err := disk.Open(dbName)
	if err != nil {
		t.Fatal("failed to open disk manager:", err)
	}
	pool := buffer.NewPool(poolSize, d, nil, nil)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestHeapPage(t *testing.T) {
	t.Run("InsertAndGet", testPageInsertAndGet)
	t.Run("DeleteTombstones", testPageDeleteTombstones)
	t.Run("FillsUpAndReportsFull", testPageFillsUp)
	t.Run("GetOutOfRangeSlot", testPageGetOutOfRange)
}

func testPageInsertAndGet(t *testing.T) {
	pool := setupPool(t, 4)
	page, id, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.UnpinPage(id, true)

	hp := heap.New(page)
	hp.Init()

	slot, err := hp.Insert([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if slot != 0 {
		t.Fatalf("expected first slot id 0, got %d", slot)
	}
	got, err := hp.Get(slot)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func testPageDeleteTombstones(t *testing.T) {
	pool := setupPool(t, 4)
	page, id, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.UnpinPage(id, true)

	hp := heap.New(page)
	hp.Init()

	slot, err := hp.Insert([]byte("gone"))
	if err != nil {
		t.Fatal(err)
	}
	if err := hp.Delete(slot); err != nil {
		t.Fatal(err)
	}
	if _, err := hp.Get(slot); err != heap.ErrTupleNotFound {
		t.Fatalf("expected ErrTupleNotFound for a tombstoned slot, got %v", err)
	}
	if err := hp.Delete(slot); err != heap.ErrTupleNotFound {
		t.Fatalf("expected double delete to report ErrTupleNotFound, got %v", err)
	}
}

func testPageFillsUp(t *testing.T) {
	pool := setupPool(t, 4)
	page, id, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.UnpinPage(id, true)

	hp := heap.New(page)
	hp.Init()

	tuple := bytes.Repeat([]byte{0xAB}, 64)
	inserted := 0
	for {
		if _, err := hp.Insert(tuple); err != nil {
			if err != heap.ErrPageFull {
				t.Fatalf("unexpected error filling page: %v", err)
			}
			break
		}
		inserted++
	}
	if inserted == 0 {
		t.Fatal("expected at least one tuple to fit before the page filled up")
	}
	if hp.SlotCount() != inserted {
		t.Fatalf("expected SlotCount %d, got %d", inserted, hp.SlotCount())
	}
}

func testPageGetOutOfRange(t *testing.T) {
	pool := setupPool(t, 4)
	page, id, err := pool.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	defer pool.UnpinPage(id, true)

	hp := heap.New(page)
	hp.Init()
	if _, err := hp.Get(0); err != heap.ErrTupleNotFound {
		t.Fatalf("expected ErrTupleNotFound for an out-of-range slot, got %v", err)
	}
}

func TestHeapChain(t *testing.T) {
	t.Run("CreateAndInsert", testHeapCreateAndInsert)
	t.Run("SpansMultiplePages", testHeapSpansMultiplePages)
	t.Run("DeleteRemovesFromIteration", testHeapDeleteRemovesFromIteration)
	t.Run("OpenFindsTailAfterReopen", testHeapOpenFindsTail)
}

func testHeapCreateAndInsert(t *testing.T) {
	pool := setupPool(t, 16)
	h, err := heap.Create(pool)
	if err != nil {
		t.Fatal(err)
	}
	r, err := h.Insert([]byte("row one"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Get(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("row one")) {
		t.Fatalf("expected %q, got %q", "row one", got)
	}
}

// Inserting enough large tuples forces Insert to allocate and link a new
// tail page; the iterator should still walk every row across the chain.
func testHeapSpansMultiplePages(t *testing.T) {
	pool := setupPool(t, 16)
	h, err := heap.Create(pool)
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	tuple := bytes.Repeat([]byte{0x11}, 32)
	rids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		r, err := h.Insert(tuple)
		if err != nil {
			t.Fatalf("insert #%d: %v", i, err)
		}
		rids[r.String()] = true
	}

	count := 0
	it := h.NewIterator()
	for {
		r, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if !rids[r.String()] {
			t.Fatalf("iterator produced an unexpected rid %v", r)
		}
		count++
	}
	if count != n {
		t.Fatalf("expected to iterate %d tuples, got %d", n, count)
	}
}

func testHeapDeleteRemovesFromIteration(t *testing.T) {
	pool := setupPool(t, 16)
	h, err := heap.Create(pool)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Insert([]byte("a")); err != nil {
		t.Fatal(err)
	}
	r2, err := h.Insert([]byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Insert([]byte("c")); err != nil {
		t.Fatal(err)
	}
	if err := h.Delete(r2); err != nil {
		t.Fatal(err)
	}

	it := h.NewIterator()
	var seen []string
	for {
		r, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		tuple, err := h.Get(r)
		if err != nil {
			t.Fatal(err)
		}
		seen = append(seen, string(tuple))
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "c" {
		t.Fatalf("expected [a c] after deleting the middle row, got %v", seen)
	}
}

func testHeapOpenFindsTail(t *testing.T) {
	pool := setupPool(t, 16)
	h, err := heap.Create(pool)
	if err != nil {
		t.Fatal(err)
	}

	const n = 150
	tuple := bytes.Repeat([]byte{0x22}, 32)
	for i := 0; i < n; i++ {
		if _, err := h.Insert(tuple); err != nil {
			t.Fatalf("insert #%d: %v", i, err)
		}
	}

	reopened, err := heap.Open(pool, h.FirstPageID())
	if err != nil {
		t.Fatal(err)
	}
	r, err := reopened.Insert([]byte("appended after reopen"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("appended after reopen")) {
		t.Fatalf("expected the reopened heap to append successfully, got %q", got)
	}
}
