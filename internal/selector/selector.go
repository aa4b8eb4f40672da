// Package selector orders an account list into the sequence the
// failover driver should try, adapting the teacher's least-loaded
// scheduler to the gateway's cooldown/route-hint/route-quality model
// instead of sticky-session hashing and circuit-breaker state.
package selector

import (
	"sort"
	"sync"

	"gpttoolsgw/internal/cooldown"
	"gpttoolsgw/internal/inflight"
	"gpttoolsgw/internal/routehint"
	"gpttoolsgw/internal/routequality"
)

// Selector ranks candidate accounts for one request scope.
type Selector struct {
	cooldown *cooldown.Registry
	inflight *inflight.Tracker
	hints    *routehint.Registry
	quality  *routequality.Registry

	mu        sync.Mutex
	rotations map[string]int
}

// New builds a Selector over the given collaborators.
func New(cd *cooldown.Registry, infl *inflight.Tracker, hints *routehint.Registry, quality *routequality.Registry) *Selector {
	return &Selector{
		cooldown:  cd,
		inflight:  infl,
		hints:     hints,
		quality:   quality,
		rotations: map[string]int{},
	}
}

// Order returns accountIDs ranked for scope: accounts currently
// cooling sort last; among the rest, ascending in-flight count wins,
// ties broken by ascending route-quality penalty. The remembered
// route-hint account, if present, viable, and not cooling, is moved to
// the front ahead of everything else. A per-scope rotation offset is
// applied before the stable sort so that candidates tied on every
// criterion take turns going first across calls instead of one account
// monopolizing the top slot.
func (s *Selector) Order(scope string, accountIDs []string) []string {
	if len(accountIDs) == 0 {
		return nil
	}

	rotated := s.rotate(scope, accountIDs)

	sort.SliceStable(rotated, func(i, j int) bool {
		a, b := rotated[i], rotated[j]
		aCooling, bCooling := s.cooldown.IsCooling(a), s.cooldown.IsCooling(b)
		if aCooling != bCooling {
			return !aCooling
		}
		aLoad, bLoad := s.inflight.Load(a), s.inflight.Load(b)
		if aLoad != bLoad {
			return aLoad < bLoad
		}
		return s.quality.Penalty(scope, a) < s.quality.Penalty(scope, b)
	})

	if preferred, ok := s.hints.Preferred(scope); ok && !s.cooldown.IsCooling(preferred) {
		rotated = bringToFront(rotated, preferred)
	}

	return rotated
}

func (s *Selector) rotate(scope string, accountIDs []string) []string {
	s.mu.Lock()
	offset := s.rotations[scope] % len(accountIDs)
	s.rotations[scope]++
	s.mu.Unlock()

	if offset == 0 {
		out := make([]string, len(accountIDs))
		copy(out, accountIDs)
		return out
	}
	out := make([]string, 0, len(accountIDs))
	out = append(out, accountIDs[offset:]...)
	out = append(out, accountIDs[:offset]...)
	return out
}

func bringToFront(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	found := false
	for _, id := range ids {
		if id == target {
			found = true
			continue
		}
		out = append(out, id)
	}
	if !found {
		return ids
	}
	return append([]string{target}, out...)
}
