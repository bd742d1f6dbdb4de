package lockmgr

import "errors"

var (
	// ErrOnShrinking is returned when a transaction past the growing
	// phase tries to acquire a new lock, violating two-phase locking.
	ErrOnShrinking = errors.New("lockmgr: transaction is in the shrinking phase")
	// ErrUpgradeConflict is returned when two transactions race to
	// upgrade their shared lock on the same RID to exclusive; the loser
	// is aborted.
	ErrUpgradeConflict = errors.New("lockmgr: another transaction is already upgrading this lock")
	// ErrNotLocked is returned by LockUpgrade/Unlock when the calling
	// transaction doesn't hold the lock it's trying to change.
	ErrNotLocked = errors.New("lockmgr: transaction does not hold this lock")
	// ErrAborted is returned to a lock request that was waiting when its
	// transaction was aborted (e.g. chosen as a deadlock victim). A new
	// request from an already-aborted transaction gets ErrOnShrinking.
	ErrAborted = errors.New("lockmgr: transaction has been aborted")
)
