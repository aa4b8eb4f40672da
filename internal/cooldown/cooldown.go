// Package cooldown implements the per-account time-based backoff
// registry used by candidate selection and the failover driver.
package cooldown

import (
	"sync"
	"time"
)

// Reason classifies why an account was cooled down; each reason carries
// its own default duration.
type Reason int

const (
	ReasonDefault Reason = iota
	ReasonNetwork
	ReasonRateLimited
	ReasonUpstream5xx
	ReasonUpstream4xx
	ReasonChallenge
)

func (r Reason) String() string {
	switch r {
	case ReasonNetwork:
		return "network"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonUpstream5xx:
		return "upstream_5xx"
	case ReasonUpstream4xx:
		return "upstream_4xx"
	case ReasonChallenge:
		return "challenge"
	default:
		return "default"
	}
}

const (
	defaultSecs     = 20 * time.Second
	networkSecs     = 20 * time.Second
	rateLimitedSecs = 45 * time.Second
	upstream5xxSecs = 30 * time.Second
	upstream4xxSecs = 20 * time.Second
	// ChallengeShortSecs covers transient, single-candidate challenges;
	// ChallengeLongSecs covers a gateway-wide challenge that is unlikely
	// to clear quickly.
	ChallengeShortSecs = 6 * time.Second
	ChallengeLongSecs  = 60 * time.Second
)

func secondsFor(reason Reason) time.Duration {
	switch reason {
	case ReasonNetwork:
		return networkSecs
	case ReasonRateLimited:
		return rateLimitedSecs
	case ReasonUpstream5xx:
		return upstream5xxSecs
	case ReasonUpstream4xx:
		return upstream4xxSecs
	case ReasonChallenge:
		return ChallengeShortSecs
	default:
		return defaultSecs
	}
}

// ReasonForStatus classifies an upstream HTTP status code into a
// cooldown reason. Callers that already know a response is a challenge
// (HTML body) should use ReasonChallenge directly instead of this
// status-only mapping.
func ReasonForStatus(status int) Reason {
	switch {
	case status == 429:
		return ReasonRateLimited
	case status >= 500 && status <= 599:
		return ReasonUpstream5xx
	case status >= 400 && status <= 499:
		return ReasonUpstream4xx
	default:
		return ReasonDefault
	}
}

// Registry tracks per-account cooldown expiry. Entries expire lazily on
// read; a mark never lowers an existing expiry.
type Registry struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewRegistry constructs an empty cooldown registry.
func NewRegistry() *Registry {
	return &Registry{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Mark inserts or raises the cooldown expiry for account for the given
// reason. Concurrent marks never lose a later expiry.
func (r *Registry) Mark(account string, reason Reason) {
	r.MarkFor(account, secondsFor(reason))
}

// MarkFor inserts or raises the cooldown expiry using an explicit
// duration, used by callers (e.g. the challenge path) that pick between
// ChallengeShortSecs and ChallengeLongSecs based on context the reason
// alone does not carry.
func (r *Registry) MarkFor(account string, d time.Duration) {
	until := r.now().Add(d)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.until[account]; !ok || until.After(existing) {
		r.until[account] = until
	}
}

// IsCooling reports whether account is currently in cooldown, purging
// the entry first if it has already expired.
func (r *Registry) IsCooling(account string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.until[account]
	if !ok {
		return false
	}
	if !until.After(now) {
		delete(r.until, account)
		return false
	}
	return true
}

// Clear removes any cooldown for account, called on a successful attempt.
func (r *Registry) Clear(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.until, account)
}

// Until returns the cooldown expiry for account, or the zero time if the
// account is not currently cooling.
func (r *Registry) Until(account string) time.Time {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.until[account]
	if !ok || !until.After(now) {
		return time.Time{}
	}
	return until
}
