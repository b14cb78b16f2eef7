package ledger

import "sync"

// accountLocks serializes mutations per account. Operations on different
// accounts proceed in parallel; Append/Edit/Delete/Recompute on the same
// account must not interleave because Recompute is a full read-then-rewrite
// of the account's entry set.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for an account and returns its unlock function.
func (l *accountLocks) Lock(accountID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
