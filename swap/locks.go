package swap

import "sync"

// accountLocks serializes trades per source account. Concurrent trades on one
// account would race for the same sequence number, so each trade holds its
// account's mutex for the full quote-to-submit run. Trades for distinct
// accounts proceed independently.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the account's lock is held and returns the release
// function. Lock entries are never evicted; the set of active accounts in one
// process is small.
func (l *accountLocks) acquire(account string) func() {
	l.mu.Lock()
	m, ok := l.locks[account]
	if !ok {
		m = &sync.Mutex{}
		l.locks[account] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
