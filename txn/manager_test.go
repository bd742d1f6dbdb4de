package txn_test

import (
	"testing"

	"dbcore/txn"
)

func TestManagerBegin(t *testing.T) {
	t.Parallel()
	m := txn.NewManager()

	t1 := m.Begin(txn.RepeatableRead)
	t2 := m.Begin(txn.ReadCommitted)

	if t1.ID() == t2.ID() {
		t.Fatal("expected distinct monotonic ids")
	}
	if t1.State() != txn.Growing {
		t.Fatalf("expected a freshly begun transaction to be GROWING, got %v", t1.State())
	}
	if t1.IsolationLevel() != txn.RepeatableRead {
		t.Fatalf("expected isolation level to stick, got %v", t1.IsolationLevel())
	}
}

func TestManagerGet(t *testing.T) {
	t.Parallel()
	m := txn.NewManager()
	t1 := m.Begin(txn.RepeatableRead)

	got, ok := m.Get(t1.ID())
	if !ok || got != t1 {
		t.Fatal("expected Get to return the same transaction handle")
	}

	if _, ok := m.Get(t1.ID() + 999); ok {
		t.Fatal("expected Get on an unknown id to fail")
	}
}

func TestManagerForget(t *testing.T) {
	t.Parallel()
	m := txn.NewManager()
	t1 := m.Begin(txn.RepeatableRead)

	m.Forget(t1.ID())
	if _, ok := m.Get(t1.ID()); ok {
		t.Fatal("expected transaction to be gone after Forget")
	}
}

func TestManagerIDsAreUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()
	m := txn.NewManager()

	const n = 100
	ids := make(chan int64, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			ids <- m.Begin(txn.RepeatableRead).ID()
		}()
	}
	go func() {
		seen := make(map[int64]bool, n)
		for i := 0; i < n; i++ {
			id := <-ids
			if seen[id] {
				t.Errorf("duplicate transaction id %d handed out concurrently", id)
			}
			seen[id] = true
		}
		close(done)
	}()
	<-done
}
