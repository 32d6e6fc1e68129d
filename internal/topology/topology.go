// Package topology maintains the overlay graph centered on the local
// peer: neighbor symmetry, shortest-path next-hop computation, bridge
// selection for newcomers, and fracture/underconnection healing
// (spec.md §4.3).
package topology

import (
	"math"
	"sort"
	"sync"
)

// Peer is one node of the overlay graph, as seen from the center.
// Distance/Previous/NextHop are transient fields recomputed by every
// mutation; Neighbors is the only field the caller should treat as
// durable.
type Peer struct {
	Hostname  string
	NextHop   string
	Neighbors map[string]struct{}
	Distance  int
	Previous  string
}

// Topology is the undirected graph of peers, centered on the local
// instance. All mutating methods recompute routing state before
// returning, per spec.md §4.3's "next-hop computation runs ... on every
// mutation".
type Topology struct {
	mu     sync.Mutex
	center string
	peers  map[string]*Peer
}

// New returns a Topology containing only the center peer.
func New(center string) *Topology {
	t := &Topology{
		center: center,
		peers:  make(map[string]*Peer),
	}
	t.peers[center] = &Peer{Hostname: center, Neighbors: make(map[string]struct{})}
	t.recompute()
	return t
}

func (t *Topology) ensurePeer(hostname string) *Peer {
	p, ok := t.peers[hostname]
	if !ok {
		p = &Peer{Hostname: hostname, Neighbors: make(map[string]struct{})}
		t.peers[hostname] = p
	}
	return p
}

// AddPeer adds hostname to the graph with no edges, if not already
// present. Creating a peer before its first SetConnection is how the
// orchestrator bootstraps ADDCONNECTION's optional newPeers map
// (spec.md §6).
func (t *Topology) AddPeer(hostname string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensurePeer(hostname)
	t.recompute()
}

// RemovePeer removes hostname and every edge referencing it.
func (t *Topology) RemovePeer(hostname string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hostname == t.center {
		return
	}
	if _, ok := t.peers[hostname]; !ok {
		return
	}
	delete(t.peers, hostname)
	for _, p := range t.peers {
		delete(p.Neighbors, hostname)
	}
	t.recompute()
}

// SetConnection adds the symmetric edge (a, b). Invariant: if a is in
// b.Neighbors then b is in a.Neighbors (spec.md §3).
func (t *Topology) SetConnection(a, b string) {
	if a == b {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pa := t.ensurePeer(a)
	pb := t.ensurePeer(b)
	pa.Neighbors[b] = struct{}{}
	pb.Neighbors[a] = struct{}{}
	t.recompute()
}

// RemoveConnection deletes the symmetric edge (a, b), if present,
// without removing either peer. Used internally by fracture scenarios
// where a link is lost but both endpoints remain reachable some other
// way.
func (t *Topology) RemoveConnection(a, b string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pa, ok := t.peers[a]; ok {
		delete(pa.Neighbors, b)
	}
	if pb, ok := t.peers[b]; ok {
		delete(pb.Neighbors, a)
	}
	t.recompute()
}

// Center returns the local hostname.
func (t *Topology) Center() string {
	return t.center
}

// Peers returns a snapshot of every known peer, including the center.
func (t *Topology) Peers() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, clonePeer(p))
	}
	return out
}

func clonePeer(p *Peer) Peer {
	neighbors := make(map[string]struct{}, len(p.Neighbors))
	for n := range p.Neighbors {
		neighbors[n] = struct{}{}
	}
	return Peer{
		Hostname:  p.Hostname,
		NextHop:   p.NextHop,
		Neighbors: neighbors,
		Distance:  p.Distance,
		Previous:  p.Previous,
	}
}

// Neighbors returns the direct neighbors of hostname.
func (t *Topology) Neighbors(hostname string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[hostname]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.Neighbors))
	for n := range p.Neighbors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Degree returns the number of direct neighbors of hostname.
func (t *Topology) Degree(hostname string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[hostname]
	if !ok {
		return 0
	}
	return len(p.Neighbors)
}

// NextHop returns the neighbor of the center on a shortest path to
// dest, or "" if dest is unreachable or unknown.
func (t *Topology) NextHop(dest string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[dest]
	if !ok {
		return ""
	}
	return p.NextHop
}

// ShortestPath returns the explicit hop list from the center to dest,
// inclusive at both ends, or [dest] if dest is unknown, unreachable, or
// the center itself (spec.md §4.3).
func (t *Topology) ShortestPath(dest string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dest == t.center {
		return []string{dest}
	}
	p, ok := t.peers[dest]
	if !ok || p.NextHop == "" {
		return []string{dest}
	}
	path := []string{dest}
	cur := dest
	for cur != t.center {
		prev := t.peers[cur].Previous
		if prev == "" {
			return []string{dest}
		}
		path = append([]string{prev}, path...)
		cur = prev
	}
	return path
}

// recompute runs Dijkstra from the center over unit-weight edges, then
// derives NextHop for every peer by walking the Previous chain back to
// the hop adjacent to the center (spec.md §4.3). Must be called with
// t.mu held.
func (t *Topology) recompute() {
	const unreached = math.MaxInt32
	dist := make(map[string]int, len(t.peers))
	prev := make(map[string]string, len(t.peers))
	visited := make(map[string]bool, len(t.peers))
	for h := range t.peers {
		dist[h] = unreached
	}
	dist[t.center] = 0

	for {
		// Pick the closest unvisited peer.
		cur := ""
		best := unreached + 1
		for h, d := range dist {
			if visited[h] {
				continue
			}
			if d < best {
				best = d
				cur = h
			}
		}
		if cur == "" || dist[cur] == unreached {
			break
		}
		visited[cur] = true
		for n := range t.peers[cur].Neighbors {
			if visited[n] {
				continue
			}
			// <= lets a later equal-distance predecessor overwrite an
			// earlier one, matching the relaxation rule in spec.md §4.3;
			// Go's map iteration order makes the actual winner
			// non-deterministic across runs, which is why the spec
			// requires tests to accept any valid shortest path.
			if dist[cur]+1 <= dist[n] {
				dist[n] = dist[cur] + 1
				prev[n] = cur
			}
		}
	}

	for h, p := range t.peers {
		if h == t.center {
			p.Distance = 0
			p.Previous = ""
			p.NextHop = ""
			continue
		}
		if dist[h] == unreached {
			p.Distance = 0
			p.Previous = ""
			p.NextHop = ""
			continue
		}
		p.Distance = dist[h]
		p.Previous = prev[h]
		p.NextHop = t.walkToFirstHop(h, prev)
	}
}

// walkToFirstHop walks the Previous chain from dest back toward the
// center and returns the peer adjacent to the center: the first hop a
// message from the center takes. A peer whose own predecessor is the
// center is its own next hop.
func (t *Topology) walkToFirstHop(dest string, prev map[string]string) string {
	cur := dest
	for {
		p, ok := prev[cur]
		if !ok {
			return ""
		}
		if p == t.center {
			return cur
		}
		cur = p
	}
}

// byDegreeThenHostname sorts hostnames ascending by (degree, hostname),
// the ordering spec.md §4.3 uses for bridge selection and healing.
func (t *Topology) byDegreeThenHostname(hostnames []string) {
	sort.Slice(hostnames, func(i, j int) bool {
		di, dj := len(t.peers[hostnames[i]].Neighbors), len(t.peers[hostnames[j]].Neighbors)
		if di != dj {
			return di < dj
		}
		return hostnames[i] < hostnames[j]
	})
}

func (t *Topology) allHostnames() []string {
	out := make([]string, 0, len(t.peers))
	for h := range t.peers {
		out = append(out, h)
	}
	return out
}

// BridgePeers returns the 1 or 2 existing peers responsible for
// connecting a newcomer (spec.md §4.3): sort all peers by
// (degree, hostname); the first is always a bridge, and if the overlay
// already has 4 or more peers the second is also a bridge, so the
// newcomer gets two links.
func (t *Topology) BridgePeers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	hosts := t.allHostnames()
	t.byDegreeThenHostname(hosts)
	if len(hosts) == 0 {
		return nil
	}
	n := 1
	if len(hosts) >= 4 {
		n = 2
	}
	if n > len(hosts) {
		n = len(hosts)
	}
	return append([]string(nil), hosts[:n]...)
}

// IsFractured reports whether any known peer (other than the center)
// has no next hop (spec.md §4.3).
func (t *Topology) IsFractured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h, p := range t.peers {
		if h == t.center {
			continue
		}
		if p.NextHop == "" {
			return true
		}
	}
	return false
}

// HealEdge is one edge HealFracture proposes adding, along with
// whether the center is the side expected to dial out (Rmin).
type HealEdge struct {
	A, B       string
	CenterDials bool
}

// HealFracture computes the edges needed to reconnect the overlay after
// a fracture, per spec.md §4.3: sort peers by (degree, hostname); pick
// Rmin as the lowest-sorted reachable peer and Umin as the lowest-sorted
// unreachable peer; add edge (Rmin, Umin); if still fractured, recurse
// within the reachable component. Applies each edge to the topology as
// it goes (so the returned edges are already reflected in Peers()/
// NextHop()) — the caller only needs to dial out where CenterDials is
// true and broadcast the edges as ADDCONNECTION.
func (t *Topology) HealFracture() []HealEdge {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healFractureLocked()
}

func (t *Topology) healFractureLocked() []HealEdge {
	reachable, unreachable := t.partitionLocked()
	if len(unreachable) == 0 {
		return nil
	}
	t.byDegreeThenHostname(reachable)
	t.byDegreeThenHostname(unreachable)
	rmin := reachable[0]
	umin := unreachable[0]
	edge := HealEdge{A: rmin, B: umin, CenterDials: rmin == t.center}

	// Add the edge to the live graph, recompute routing, and recurse
	// while the graph is still fractured.
	t.peers[rmin].Neighbors[umin] = struct{}{}
	t.peers[umin].Neighbors[rmin] = struct{}{}
	t.recompute()
	more := t.healFractureLocked()
	return append([]HealEdge{edge}, more...)
}

func (t *Topology) partitionLocked() (reachable, unreachable []string) {
	for h, p := range t.peers {
		if h == t.center || p.NextHop != "" {
			reachable = append(reachable, h)
		} else {
			unreachable = append(unreachable, h)
		}
	}
	return reachable, unreachable
}

// IsUnderconnected reports whether the overlay has at least 5 peers and
// some peer has only a single neighbor (spec.md §4.3).
func (t *Topology) IsUnderconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.peers) < 5 {
		return false
	}
	for _, p := range t.peers {
		if len(p.Neighbors) == 1 {
			return true
		}
	}
	return false
}

// UnderconnectionFix returns the edge that should be added to resolve
// underconnection, and whether the center is the one expected to act
// (the peer at sorted index 1), per spec.md §4.3.
func (t *Topology) UnderconnectionFix() (edge HealEdge, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.peers) < 5 {
		return HealEdge{}, false
	}
	underconnected := false
	for _, p := range t.peers {
		if len(p.Neighbors) == 1 {
			underconnected = true
			break
		}
	}
	if !underconnected {
		return HealEdge{}, false
	}
	hosts := t.allHostnames()
	t.byDegreeThenHostname(hosts)
	if len(hosts) < 2 {
		return HealEdge{}, false
	}
	a, b := hosts[0], hosts[1]
	return HealEdge{A: b, B: a, CenterDials: b == t.center}, true
}
