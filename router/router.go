// Package router maintains warren routing state: a table of directly
// connected peers and a one-hop forwarding table for peers reached
// indirectly (spec.md §4.11).
package router

import (
	"sync"
	"time"
)

// RouteEntry is a single forwarding table entry: to reach target, send
// via nextHop.
type RouteEntry struct {
	Target   string
	NextHop  string
	LastSeen time.Time
}

// Table is a minimal routing table keyed by target burrow ID. It does not
// consider link quality or TTLs; route entries are simply overwritten on
// update.
type Table struct {
	mu     sync.RWMutex
	routes map[string]RouteEntry
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{routes: make(map[string]RouteEntry)}
}

// AddRoute records or replaces the route to target via nextHop.
func (t *Table) AddRoute(target, nextHop string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[target] = RouteEntry{Target: target, NextHop: nextHop, LastSeen: time.Now()}
}

// Resolve returns the next hop toward target, if known.
func (t *Table) Resolve(target string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.routes[target]
	if !ok {
		return "", false
	}
	return e.NextHop, true
}

// All returns a snapshot of every route entry.
func (t *Table) All() []RouteEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RouteEntry, 0, len(t.routes))
	for _, e := range t.routes {
		out = append(out, e)
	}
	return out
}

// PeerInfo describes a burrow directly reachable via a live tunnel.
type PeerInfo struct {
	BurrowID     string
	Address      string
	LastSeen     time.Time
	Capabilities []string
}

// WarrenRouter augments a forwarding Table with a table of direct peers:
// resolving a direct peer always short-circuits to itself before
// consulting the underlying forwarding table.
type WarrenRouter struct {
	peersMu sync.RWMutex
	peers   map[string]PeerInfo

	routes *Table
}

// NewWarrenRouter returns an empty warren router.
func NewWarrenRouter() *WarrenRouter {
	return &WarrenRouter{
		peers:  make(map[string]PeerInfo),
		routes: NewTable(),
	}
}

// RegisterPeer adds or overwrites info for info.BurrowID. It reports
// whether the peer is newly added.
func (r *WarrenRouter) RegisterPeer(info PeerInfo) bool {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	_, existed := r.peers[info.BurrowID]
	r.peers[info.BurrowID] = info
	return !existed
}

// ListPeers returns a snapshot of all known direct peers.
func (r *WarrenRouter) ListPeers() []PeerInfo {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// AddRoute forwards to the underlying routing table.
func (r *WarrenRouter) AddRoute(target, nextHop string) {
	r.routes.AddRoute(target, nextHop)
}

// Resolve returns the next hop toward target: itself if target is a
// direct peer, otherwise the underlying table's entry.
func (r *WarrenRouter) Resolve(target string) (string, bool) {
	r.peersMu.RLock()
	_, direct := r.peers[target]
	r.peersMu.RUnlock()
	if direct {
		return target, true
	}
	return r.routes.Resolve(target)
}
