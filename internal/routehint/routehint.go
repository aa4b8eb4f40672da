// Package routehint remembers, per (api key, path, model) scope, which
// account last served a request successfully, so the selector can
// prefer sending the next request from the same scope back to that
// account. Entries expire after ttl so a long-cooled or removed
// account eventually falls out of consideration.
package routehint

import (
	"fmt"
	"sync"
	"time"
)

// TTL is how long a remembered route stays preferred.
const TTL = 30 * time.Minute

type entry struct {
	accountID string
	expiresAt time.Time
}

// Registry is the process-wide route hint table.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{entries: map[string]entry{}, now: time.Now}
}

// Key builds the scope key a hint is stored and looked up under.
func Key(keyID, path, model string) string {
	if model == "" {
		model = "-"
	}
	return fmt.Sprintf("%s|%s|%s", keyID, path, model)
}

// Preferred returns the account id remembered for scope, if any and
// not yet expired.
func (r *Registry) Preferred(scope string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scope]
	if !ok {
		return "", false
	}
	if r.now().After(e.expiresAt) {
		delete(r.entries, scope)
		return "", false
	}
	return e.accountID, true
}

// RememberSuccess records accountID as the preferred route for scope.
func (r *Registry) RememberSuccess(scope, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[scope] = entry{accountID: accountID, expiresAt: r.now().Add(TTL)}
}

// Forget drops any remembered route for scope, used when the
// remembered account stops being viable.
func (r *Registry) Forget(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, scope)
}
