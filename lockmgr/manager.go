// Package lockmgr implements record-granularity two-phase locking: a FIFO
// request queue per RID, isolation-level-aware shared-lock rules, lock
// upgrade, and a wait-for-graph snapshot the deadlock package's background
// detector polls. Ported from
// original_source/src/concurrency/lock_manager.cpp's LockShared/
// LockExclusive/LockUpgrade/Unlock/HasCycle algorithm, generalized from its
// single global latch_ to one mutex per RID, and split across
// manager.go/request_queue.go/errors.go after the resource.go/transaction.go
// file-split idiom dinodb's pkg/concurrency uses for its own (much simpler,
// queue-less) lock manager.
package lockmgr

import (
	"sort"
	"sync"

	"dbcore/internal/corelog"
	"dbcore/internal/diag"
	"dbcore/rid"
	"dbcore/txn"
)

// Manager is the record lock manager: one FIFO request queue per RID,
// guarded collectively by tableMu for queue creation/lookup and
// individually by each queue's own mutex for waiting.
type Manager struct {
	tableMu sync.Mutex
	table   map[rid.RID]*requestQueue

	txnReg  *txn.Manager
	log     corelog.Logger
	journal *diag.Journal
}

// New constructs an empty lock manager. reg is the transaction registry the
// background deadlock detector uses to turn a victim id back into a
// Transaction it can abort. journal may be nil, in which case aborts simply
// aren't recorded anywhere.
func New(reg *txn.Manager, log corelog.Logger, journal *diag.Journal) *Manager {
	if log == nil {
		log = corelog.Noop()
	}
	return &Manager{table: make(map[rid.RID]*requestQueue), txnReg: reg, log: log, journal: journal}
}

// checkValid enforces the two-phase-locking precondition: a transaction may
// only acquire new locks while in the GROWING phase.
func checkValid(t *txn.Transaction) error {
	if t.State() == txn.Growing {
		return nil
	}
	t.SetState(txn.Aborted)
	return ErrOnShrinking
}

func (m *Manager) queueFor(r rid.RID) *requestQueue {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	q, ok := m.table[r]
	if !ok {
		q = newRequestQueue()
		m.table[r] = q
	}
	return q
}

// LockShared acquires a shared lock on r for t, blocking until it is
// granted. READ_UNCOMMITTED transactions never take shared locks at all
// (there's no notion of dirty-read protection to buy); READ_COMMITTED
// transactions that land on an empty queue release their shared lock
// immediately after taking it, matching original_source's behavior exactly
// (including its asymmetry: only the empty-queue path releases
// immediately, not the contended path — a faithful port of the reference
// algorithm, not an omission).
func (m *Manager) LockShared(t *txn.Transaction, r rid.RID) error {
	if err := checkValid(t); err != nil {
		return err
	}
	if t.IsolationLevel() == txn.ReadUncommitted {
		return nil
	}

	q := m.queueFor(r)
	q.mu.Lock()

	if len(q.requests) == 0 {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: Shared, granted: true})
		q.mu.Unlock()
		t.AddSharedLock(r)
		if t.IsolationLevel() == txn.ReadCommitted {
			return m.Unlock(t, r)
		}
		return nil
	}

	req := &request{txnID: t.ID(), mode: Shared}
	q.requests = append(q.requests, req)
	for !q.canGrantShared(t.ID()) {
		if t.State() == txn.Aborted {
			q.removeTxn(t.ID())
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrAborted
		}
		q.cond.Wait()
	}
	req.granted = true
	q.mu.Unlock()
	t.AddSharedLock(r)
	q.cond.Broadcast()
	return nil
}

// LockExclusive acquires an exclusive lock on r for t, blocking until it is
// granted.
func (m *Manager) LockExclusive(t *txn.Transaction, r rid.RID) error {
	if err := checkValid(t); err != nil {
		return err
	}

	q := m.queueFor(r)
	q.mu.Lock()

	if len(q.requests) == 0 {
		q.requests = append(q.requests, &request{txnID: t.ID(), mode: Exclusive, granted: true})
		q.mu.Unlock()
		t.AddExclusiveLock(r)
		return nil
	}

	req := q.find(t.ID())
	if req == nil {
		req = &request{txnID: t.ID(), mode: Exclusive}
		q.requests = append(q.requests, req)
	}
	for !q.canGrantExclusive(t.ID()) {
		if t.State() == txn.Aborted {
			q.removeTxn(t.ID())
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrAborted
		}
		q.cond.Wait()
	}
	req.granted = true
	q.mu.Unlock()
	t.AddExclusiveLock(r)
	q.cond.Broadcast()
	return nil
}

// LockUpgrade upgrades t's shared lock on r to exclusive. If another
// transaction is already upgrading its lock on r, t is aborted with
// ErrUpgradeConflict (only one upgrade may be in flight per RID, to avoid
// two upgraders deadlocking on each other).
func (m *Manager) LockUpgrade(t *txn.Transaction, r rid.RID) error {
	if err := checkValid(t); err != nil {
		return err
	}

	q := m.queueFor(r)
	q.mu.Lock()
	req := q.find(t.ID())
	if req == nil || !req.granted || req.mode != Shared {
		q.mu.Unlock()
		return ErrNotLocked
	}
	if q.upgrading {
		t.SetState(txn.Aborted)
		q.mu.Unlock()
		return ErrUpgradeConflict
	}
	q.upgrading = true
	req.mode = Exclusive
	req.granted = false
	t.RemoveSharedLock(r)
	// move the upgrading request to the back of the queue, the same
	// splice original_source performs, so it waits behind every request
	// already ahead of it rather than jumping the line
	q.removeTxn(t.ID())
	q.requests = append(q.requests, req)

	for !q.canGrantExclusive(t.ID()) {
		if t.State() == txn.Aborted {
			q.removeTxn(t.ID())
			q.upgrading = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return ErrAborted
		}
		q.cond.Wait()
	}
	req.granted = true
	q.upgrading = false
	q.mu.Unlock()
	t.AddExclusiveLock(r)
	q.cond.Broadcast()
	return nil
}

// Unlock releases whichever lock t holds on r (shared or exclusive). If t
// is REPEATABLE_READ and still in the GROWING phase, this is the 2PL
// shrink transition; READ_COMMITTED transactions releasing a shared lock
// never transition phases, since they are expected to take and drop many
// shared locks over the lifetime of one transaction.
func (m *Manager) Unlock(t *txn.Transaction, r rid.RID) error {
	if !t.IsSharedLocked(r) && !t.IsExclusiveLocked(r) {
		return ErrNotLocked
	}

	q := m.queueFor(r)
	q.mu.Lock()
	defer q.mu.Unlock()

	readCommittedShared := t.IsolationLevel() == txn.ReadCommitted && t.IsSharedLocked(r)
	if !readCommittedShared && t.State() == txn.Growing {
		t.SetState(txn.Shrinking)
	}

	if t.IsSharedLocked(r) {
		t.RemoveSharedLock(r)
	} else {
		t.RemoveExclusiveLock(r)
	}
	q.removeTxn(t.ID())
	if q.empty() {
		m.tableMu.Lock()
		delete(m.table, r)
		m.tableMu.Unlock()
	}
	q.cond.Broadcast()
	return nil
}

// Snapshot builds the wait-for graph from the current lock table: every
// transaction with an ungranted request waits for every transaction ahead
// of it holding a granted lock on the same RID in an incompatible mode
// (either side exclusive).
func (m *Manager) Snapshot() map[int64][]int64 {
	m.tableMu.Lock()
	queues := make([]*requestQueue, 0, len(m.table))
	for _, q := range m.table {
		queues = append(queues, q)
	}
	m.tableMu.Unlock()

	graph := make(map[int64][]int64)
	for _, q := range queues {
		q.mu.Lock()
		for i, r := range q.requests {
			if r.granted {
				continue
			}
			for _, h := range q.requests[:i] {
				if h.granted && h.txnID != r.txnID && (h.mode == Exclusive || r.mode == Exclusive) {
					graph[r.txnID] = append(graph[r.txnID], h.txnID)
				}
			}
		}
		q.mu.Unlock()
	}
	for _, edges := range graph {
		sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
	}
	return graph
}

// Abort marks txnID aborted and removes every request it has in the lock
// table, granted or pending, waking each queue it appeared in. The
// transaction's own lock sets are left as they are.
// original_source's RunCycleDetection only flips the victim's TransactionState
// to ABORTED and leaves it to a later Unlock call to notify waiters; since
// this detector has direct access to the table it wakes the blocked waiter
// immediately instead of relying on that indirection.
func (m *Manager) Abort(txnID int64) {
	t, ok := m.txnReg.Get(txnID)
	if !ok {
		return
	}
	t.SetState(txn.Aborted)

	m.tableMu.Lock()
	queues := make([]*requestQueue, 0, len(m.table))
	for _, q := range m.table {
		queues = append(queues, q)
	}
	m.tableMu.Unlock()

	for _, q := range queues {
		q.mu.Lock()
		if q.find(txnID) != nil {
			q.removeTxn(txnID)
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
	m.log.Warnw("aborted transaction", "txn_id", txnID, "reason", "deadlock")
	if m.journal != nil {
		m.journal.Append("abort", diag.Field("txn_id", txnID), diag.Field("reason", "deadlock"))
	}
}
