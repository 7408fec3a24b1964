package app

import (
	"sync"

	"github.com/artpar/speechquota/domain/wait"
)

// WaitRegistry holds one wait scheduler per account.
//
// Entries are reference counted so an idle account costs nothing once its
// last admission has finished.
type WaitRegistry struct {
	mu      sync.Mutex
	entries map[string]*waitEntry
}

type waitEntry struct {
	sched *wait.Scheduler
	refs  int
}

// NewWaitRegistry creates an empty registry.
func NewWaitRegistry() *WaitRegistry {
	return &WaitRegistry{entries: make(map[string]*waitEntry)}
}

// Acquire returns the account's scheduler, creating it if needed.
// Every Acquire must be paired with a Release.
func (r *WaitRegistry) Acquire(accountID string) *wait.Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[accountID]
	if !ok {
		e = &waitEntry{sched: wait.NewScheduler()}
		r.entries[accountID] = e
	}
	e.refs++
	return e.sched
}

// Release drops a reference taken by Acquire.
func (r *WaitRegistry) Release(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[accountID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 && !e.sched.IsWaiting() {
		delete(r.entries, accountID)
	}
}

// Snapshot reports the account's wait state. Unknown accounts are idle.
func (r *WaitRegistry) Snapshot(accountID string) wait.Snapshot {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	r.mu.Unlock()

	if !ok {
		return wait.Snapshot{}
	}
	return e.sched.Snapshot()
}

// Cancel aborts the account's running wait and reports whether one was running.
func (r *WaitRegistry) Cancel(accountID string) bool {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	r.mu.Unlock()

	if !ok || !e.sched.IsWaiting() {
		return false
	}
	e.sched.Cancel()
	return true
}

// Active returns the number of accounts with a registered scheduler.
func (r *WaitRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
