package services

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// gateCapacity bounds concurrent normal operations per scope. A transition acquires all of it.
const gateCapacity int64 = 1 << 20

// scopeGate is a per-scope two-phase lock. Normal traffic shares a scope; a transition holds it
// exclusively. Waiting transitions block later normal traffic, so a sign-in is never starved.
type scopeGate struct {
	mu     sync.Mutex
	scopes map[string]*gateEntry
}

type gateEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newScopeGate() *scopeGate {
	return &scopeGate{scopes: make(map[string]*gateEntry)}
}

// Shared enters the normal phase of scope.
func (g *scopeGate) Shared(ctx context.Context, scope string) (func(), error) {
	return g.acquire(ctx, scope, 1)
}

// Exclusive enters the transition phase of every scope, in sorted order so that two transitions
// over overlapping scopes cannot deadlock. Empty scopes are ignored.
func (g *scopeGate) Exclusive(ctx context.Context, scopes ...string) (func(), error) {
	unique := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		unique = append(unique, scope)
	}
	sort.Strings(unique)

	releases := make([]func(), 0, len(unique))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, scope := range unique {
		release, err := g.acquire(ctx, scope, gateCapacity)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func (g *scopeGate) acquire(ctx context.Context, scope string, weight int64) (func(), error) {
	g.mu.Lock()
	entry, ok := g.scopes[scope]
	if !ok {
		entry = &gateEntry{sem: semaphore.NewWeighted(gateCapacity)}
		g.scopes[scope] = entry
	}
	entry.refs++
	g.mu.Unlock()

	if err := entry.sem.Acquire(ctx, weight); err != nil {
		g.unref(scope, entry)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(weight)
			g.unref(scope, entry)
		})
	}, nil
}

func (g *scopeGate) unref(scope string, entry *gateEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(g.scopes, scope)
	}
}

// size reports the number of tracked scopes.
func (g *scopeGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.scopes)
}

func userScope(userID string) string {
	if userID == "" {
		return ""
	}
	return "user:" + userID
}

func guestScope(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "guest:" + sessionID
}
