package lockmgr

import "sync"

// LockMode is the mode a lock request asks for.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// request is one transaction's ask for a lock on a resource, queued FIFO
// the way original_source/src/concurrency/lock_manager.cpp's LockRequest is.
type request struct {
	txnID   int64
	mode    LockMode
	granted bool
}

// requestQueue is the FIFO of lock requests against one RID. Each queue
// gets its own mutex/condvar pair rather than sharing original_source's
// single process-wide latch_, so waiters on unrelated RIDs never contend.
type requestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// find returns the request belonging to txnID, or nil. Caller holds q.mu.
func (q *requestQueue) find(txnID int64) *request {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return r
		}
	}
	return nil
}

// removeTxn drops txnID's request from the queue. Caller holds q.mu.
func (q *requestQueue) removeTxn(txnID int64) {
	for i, r := range q.requests {
		if r.txnID == txnID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// canGrantShared reports whether the request belonging to txnID may be
// granted a shared lock: every request ahead of it in the queue must
// already be granted and not exclusive.
func (q *requestQueue) canGrantShared(txnID int64) bool {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return true
		}
		if !r.granted || r.mode == Exclusive {
			return false
		}
	}
	return false
}

// canGrantExclusive reports whether txnID's request is at the head of the
// queue, the only position an exclusive lock may be granted from.
func (q *requestQueue) canGrantExclusive(txnID int64) bool {
	return len(q.requests) > 0 && q.requests[0].txnID == txnID
}

// empty reports whether the queue has no pending requests left at all,
// the signal the manager uses to garbage-collect the map entry for a RID.
func (q *requestQueue) empty() bool {
	return len(q.requests) == 0
}
