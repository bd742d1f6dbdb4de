package deadlock_test

import (
	"sync"
	"testing"
	"time"

	"dbcore/deadlock"
)

// fakeSource is a Source stub that a test can mutate under lock while the
// Detector's background goroutine polls it concurrently.
type fakeSource struct {
	mu       sync.Mutex
	edges    map[int64][]int64
	aborted  []int64
	abortHit chan int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{edges: map[int64][]int64{}, abortHit: make(chan int64, 8)}
}

func (f *fakeSource) Snapshot() map[int64][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64][]int64, len(f.edges))
	for k, v := range f.edges {
		out[k] = append([]int64(nil), v...)
	}
	return out
}

func (f *fakeSource) Abort(txnID int64) {
	f.mu.Lock()
	f.aborted = append(f.aborted, txnID)
	delete(f.edges, txnID)
	f.mu.Unlock()
	f.abortHit <- txnID
}

func (f *fakeSource) setEdges(edges map[int64][]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = edges
}

func TestDetectorAbortsCycleVictim(t *testing.T) {
	t.Parallel()
	source := newFakeSource()
	source.setEdges(map[int64][]int64{1: {2}, 2: {1}})

	d := deadlock.NewDetector(source, 10*time.Millisecond, nil, nil)
	d.Start()
	defer d.Stop()

	select {
	case victim := <-source.abortHit:
		if victim != 1 {
			t.Fatalf("expected victim 1, got %d", victim)
		}
	case <-time.After(time.Second):
		t.Fatal("detector never aborted the cycle victim")
	}
}

func TestDetectorLeavesAcyclicGraphAlone(t *testing.T) {
	t.Parallel()
	source := newFakeSource()
	source.setEdges(map[int64][]int64{1: {2}, 2: {3}})

	d := deadlock.NewDetector(source, 10*time.Millisecond, nil, nil)
	d.Start()

	select {
	case victim := <-source.abortHit:
		t.Fatalf("detector aborted %d on an acyclic graph", victim)
	case <-time.After(100 * time.Millisecond):
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
}
