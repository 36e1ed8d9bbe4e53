// Package routing implements the connector's longest-prefix-match routing
// table: a copy-on-write snapshot swapped atomically so lookups (the fast
// path) never observe a half-applied mutation, mirroring the teacher's
// preference for atomic-swap snapshots over a single global mutex.
package routing

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"ilpconnector/ilpaddr"
)

// ErrNoRoute is returned when no route matches a destination.
var ErrNoRoute = errors.New("routing: no route to destination")

// Route maps an ILP address prefix to a next-hop peer.
type Route struct {
	Prefix   string
	NextHop  string
	Priority int32
	Weight   uint32
}

// Table holds the active route set and answers longest-prefix-match
// lookups. The zero value is not usable; use New.
type Table struct {
	mu      sync.Mutex // serializes writers only; readers never block
	current atomic.Pointer[[]Route]
}

// New returns an empty routing table.
func New() *Table {
	t := &Table{}
	empty := make([]Route, 0)
	t.current.Store(&empty)
	return t
}

// AddRoute inserts or replaces the route for (prefix, nextHop). Any
// existing route with the same prefix and next hop is replaced in place;
// otherwise the route is appended. The update is published atomically.
func (t *Table) AddRoute(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := *t.current.Load()
	next := make([]Route, 0, len(old)+1)
	replaced := false
	for _, existing := range old {
		if existing.Prefix == r.Prefix && existing.NextHop == r.NextHop {
			next = append(next, r)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, r)
	}
	sortRoutes(next)
	t.current.Store(&next)
}

// RemoveRoute deletes the route matching (prefix, nextHop), if present.
func (t *Table) RemoveRoute(prefix, nextHop string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := *t.current.Load()
	next := make([]Route, 0, len(old))
	for _, existing := range old {
		if existing.Prefix == prefix && existing.NextHop == nextHop {
			continue
		}
		next = append(next, existing)
	}
	sortRoutes(next)
	t.current.Store(&next)
}

// ListRoutes returns a snapshot of the currently active routes.
func (t *Table) ListRoutes() []Route {
	cur := *t.current.Load()
	out := make([]Route, len(cur))
	copy(out, cur)
	return out
}

// Lookup returns the next-hop peer for destination by longest-prefix
// match, breaking ties by lower Priority, then higher Weight, then
// lexicographically smaller NextHop. It fails with ErrNoRoute if nothing
// matches.
func (t *Table) Lookup(destination string) (string, error) {
	routes := *t.current.Load()
	bestIdx := -1
	for i, r := range routes {
		if !ilpaddr.IsPrefix(r.Prefix, destination) {
			continue
		}
		if bestIdx == -1 || isBetter(r, routes[bestIdx]) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return "", ErrNoRoute
	}
	return routes[bestIdx].NextHop, nil
}

// isBetter reports whether candidate should win over current per the
// longest-prefix-then-tie-break rule.
func isBetter(candidate, current Route) bool {
	cLen := ilpaddr.SegmentCount(candidate.Prefix)
	curLen := ilpaddr.SegmentCount(current.Prefix)
	if cLen != curLen {
		return cLen > curLen
	}
	if candidate.Priority != current.Priority {
		return candidate.Priority < current.Priority
	}
	if candidate.Weight != current.Weight {
		return candidate.Weight > current.Weight
	}
	return candidate.NextHop < current.NextHop
}

// sortRoutes orders routes best-first by the same rule Lookup applies
// (descending prefix segment count, then the tie-breaks), which keeps
// ListRoutes output stable and deterministic for callers and tests.
// Lookup scans every route and does not depend on this order.
func sortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		return isBetter(routes[i], routes[j])
	})
}
