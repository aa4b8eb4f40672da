// Package inflight tracks how many requests are currently in flight to
// each account, so the selector can prefer the least-loaded candidate
// and the failover driver can cap concurrency per account. This is a
// deliberately small slice of what the teacher's concurrency manager
// did: there is no per-user limit and no wait queue here, because
// admission control is the worker pool's job (internal/workerpool); this
// package only ever needs to answer "how many, and go/no-go at the cap".
package inflight

import "sync"

// Tracker counts in-flight requests per account id.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

// New builds a tracker. max <= 0 means unlimited (counts are still
// tracked for load-based selection, but Acquire never refuses).
func New(max int) *Tracker {
	return &Tracker{counts: map[string]int{}, max: max}
}

// Acquire increments accountID's in-flight count and reports whether
// the account was under its cap before this acquisition. On false the
// count is left unincremented and the caller must not proceed.
func (t *Tracker) Acquire(accountID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max > 0 && t.counts[accountID] >= t.max {
		return false
	}
	t.counts[accountID]++
	return true
}

// Release decrements accountID's in-flight count. Safe to call even if
// Acquire was never called (count floors at zero).
func (t *Tracker) Release(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[accountID] > 0 {
		t.counts[accountID]--
	}
}

// Load returns the current in-flight count for accountID.
func (t *Tracker) Load(accountID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[accountID]
}

// Guard is a convenience wrapper releasing the acquired slot exactly once.
type Guard struct {
	tracker   *Tracker
	accountID string
	done      bool
}

// AcquireGuard acquires a slot and returns a Guard to release it, or
// nil if the account is at its cap.
func (t *Tracker) AcquireGuard(accountID string) *Guard {
	if !t.Acquire(accountID) {
		return nil
	}
	return &Guard{tracker: t, accountID: accountID}
}

// Release releases the guard's slot. Idempotent.
func (g *Guard) Release() {
	if g == nil || g.done {
		return
	}
	g.done = true
	g.tracker.Release(g.accountID)
}
