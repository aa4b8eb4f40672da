// Package routequality scores an account's recent reliability within a
// route-hint scope so the selector can break ties between equally
// loaded, equally cool candidates in favor of the one that has not
// recently been challenged or throttled.
package routequality

import (
	"sync"
	"time"
)

// TTL is how long a quality record stays live before it is considered
// stale and reset.
const TTL = 24 * time.Hour

// Record accumulates outcome counters for one (scope, account) pair.
type Record struct {
	Success2xx  int
	Challenge403 int
	Throttle429 int
	UpdatedAt   time.Time
}

// Penalty computes the tie-break score: lower is better. Challenges
// weigh heaviest since they usually indicate the account's credentials
// are flagged, throttles next, successes pull the score down.
func (r Record) Penalty() int {
	return 6*r.Challenge403 + 3*r.Throttle429 - 2*r.Success2xx
}

// Registry is the process-wide route quality table, keyed by the same
// scope string routehint.Key produces, then by account id.
type Registry struct {
	mu      sync.Mutex
	records map[string]map[string]Record
	now     func() time.Time
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{records: map[string]map[string]Record{}, now: time.Now}
}

func (r *Registry) get(scope, accountID string) Record {
	byAccount, ok := r.records[scope]
	if !ok {
		return Record{}
	}
	rec, ok := byAccount[accountID]
	if !ok || r.now().Sub(rec.UpdatedAt) > TTL {
		return Record{}
	}
	return rec
}

func (r *Registry) put(scope, accountID string, rec Record) {
	byAccount, ok := r.records[scope]
	if !ok {
		byAccount = map[string]Record{}
		r.records[scope] = byAccount
	}
	rec.UpdatedAt = r.now()
	byAccount[accountID] = rec
}

// Penalty returns the current tie-break penalty for account within scope.
func (r *Registry) Penalty(scope, accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(scope, accountID).Penalty()
}

// RecordSuccess2xx notes a successful response.
func (r *Registry) RecordSuccess2xx(scope, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.get(scope, accountID)
	rec.Success2xx++
	r.put(scope, accountID, rec)
}

// RecordChallenge403 notes an upstream challenge/ban response.
func (r *Registry) RecordChallenge403(scope, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.get(scope, accountID)
	rec.Challenge403++
	r.put(scope, accountID, rec)
}

// RecordThrottle429 notes an upstream rate-limit response.
func (r *Registry) RecordThrottle429(scope, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.get(scope, accountID)
	rec.Throttle429++
	r.put(scope, accountID, rec)
}
