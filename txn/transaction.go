// Package txn defines the transaction handle the lock manager threads
// through every call, grounded on dinodb's
// pkg/concurrency.Transaction but generalized to the isolation levels and
// two-phase-locking states original_source/src/concurrency/lock_manager.cpp
// requires, which dinodb's own Transaction doesn't model at all.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"dbcore/rid"
)

// IsolationLevel controls how the lock manager grants shared locks.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	default:
		return "UNKNOWN"
	}
}

// State is a transaction's position in the two-phase-locking protocol.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the handle passed to the lock manager. Its id is a monotonic int64 rather than a uuid: deadlock
// victim selection needs a total order over transactions (see the deadlock
// package's cycle detector), which a uuid can't give cheaply. SessionID
// still uses google/uuid, identifying the external client session the
// transaction belongs to, matching dinodb's client-identifies-a-transaction
// convention (pkg/concurrency.Transaction.clientId).
type Transaction struct {
	mu sync.Mutex

	id        int64
	sessionID uuid.UUID
	isolation IsolationLevel
	state     State

	sharedLocks    map[rid.RID]struct{}
	exclusiveLocks map[rid.RID]struct{}
}

// New constructs a transaction with the given monotonic id and isolation
// level, starting in the GROWING state with a fresh session id.
func New(id int64, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		sessionID:      uuid.New(),
		isolation:      isolation,
		state:          Growing,
		sharedLocks:    make(map[rid.RID]struct{}),
		exclusiveLocks: make(map[rid.RID]struct{}),
	}
}

func (t *Transaction) ID() int64                   { return t.id }
func (t *Transaction) SessionID() uuid.UUID        { return t.sessionID }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// IsSharedLocked reports whether the transaction currently holds a shared
// lock on r.
func (t *Transaction) IsSharedLocked(r rid.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedLocks[r]
	return ok
}

// IsExclusiveLocked reports whether the transaction currently holds an
// exclusive lock on r.
func (t *Transaction) IsExclusiveLocked(r rid.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveLocks[r]
	return ok
}

// AddSharedLock records that the transaction now holds a shared lock on r.
// Called by lockmgr once a shared lock request is granted.
func (t *Transaction) AddSharedLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLocks[r] = struct{}{}
}

// AddExclusiveLock records that the transaction now holds an exclusive lock
// on r. Called by lockmgr once an exclusive lock request is granted.
func (t *Transaction) AddExclusiveLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveLocks[r] = struct{}{}
}

// RemoveSharedLock forgets a shared lock on r, called by lockmgr on unlock
// or on upgrade (the shared lock is dropped in favor of an exclusive one).
func (t *Transaction) RemoveSharedLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLocks, r)
}

// RemoveExclusiveLock forgets an exclusive lock on r, called by lockmgr on
// unlock.
func (t *Transaction) RemoveExclusiveLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.exclusiveLocks, r)
}

// SharedLockSet returns a snapshot slice of every RID this transaction holds
// a shared lock on.
func (t *Transaction) SharedLockSet() []rid.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]rid.RID, 0, len(t.sharedLocks))
	for r := range t.sharedLocks {
		out = append(out, r)
	}
	return out
}

// ExclusiveLockSet returns a snapshot slice of every RID this transaction
// holds an exclusive lock on.
func (t *Transaction) ExclusiveLockSet() []rid.RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]rid.RID, 0, len(t.exclusiveLocks))
	for r := range t.exclusiveLocks {
		out = append(out, r)
	}
	return out
}
