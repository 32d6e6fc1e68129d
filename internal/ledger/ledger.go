// Package ledger tracks per-origin delivery dedup and in-flight
// proposals awaiting confirmation (spec.md §3/§4.4).
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"meshchat/internal/proto"
)

// ProposalTTL is how long a proposal may live before it is swept as
// expired (spec.md §3), measured against the envelope's timestamp.
const ProposalTTL = 20 * time.Second

// Seen is the seen-id table: origin -> highest integer id delivered
// (spec.md §3). Message ids have shape "<origin>-<n>" with n strictly
// increasing per origin.
type Seen struct {
	mu      sync.Mutex
	highest map[string]int64
}

// NewSeen returns an empty seen-id table.
func NewSeen() *Seen {
	return &Seen{highest: make(map[string]int64)}
}

// ParseID splits a message id "<origin>-<n>" into its origin and
// sequence number.
func ParseID(id string) (origin string, n int64, err error) {
	i := strings.LastIndex(id, "-")
	if i < 0 {
		return "", 0, fmt.Errorf("ledger: malformed id %q", id)
	}
	origin = id[:i]
	n, err = strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("ledger: malformed id %q: %w", id, err)
	}
	return origin, n, nil
}

// Deliver reports whether id is new (not previously delivered for its
// origin) and records it. Out-of-order or repeated ids for an origin
// are rejected so delivery stays monotone (spec.md §5, §8 property 5).
func (s *Seen) Deliver(id string) (bool, error) {
	origin, n, err := ParseID(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.highest[origin]; ok && n <= last {
		return false, nil
	}
	s.highest[origin] = n
	return true, nil
}

// Next returns the next id origin should use, advancing its counter.
func (s *Seen) Next(origin string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.highest[origin] + 1
	s.highest[origin] = n
	return fmt.Sprintf("%s-%d", origin, n)
}

// Proposal is a live proposal awaiting confirmation (spec.md §3):
// the originating envelope plus the set of hostnames that have
// confirmed it.
type Proposal struct {
	Data          proto.Envelope
	Confirmations map[string]struct{}
}

// Proposals is the live proposal table, swept for TTL expiry on every
// access (spec.md §3, §4.4 step 5), mirroring the candidate pool's
// lazy-prune-on-touch idiom.
type Proposals struct {
	mu    sync.Mutex
	byID  map[string]*Proposal
	now   func() time.Time
}

// NewProposals returns an empty proposal table.
func NewProposals() *Proposals {
	return &Proposals{byID: make(map[string]*Proposal), now: time.Now}
}

// Insert adds env to the table with an empty confirmation set. Returns
// false if a proposal for this id already exists.
func (p *Proposals) Insert(env proto.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	if _, ok := p.byID[env.ID]; ok {
		return false
	}
	p.byID[env.ID] = &Proposal{Data: env, Confirmations: make(map[string]struct{})}
	return true
}

// Get returns a copy of the proposal for id, if still live.
func (p *Proposals) Get(id string) (Proposal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	entry, ok := p.byID[id]
	if !ok {
		return Proposal{}, false
	}
	return cloneProposal(entry), true
}

func cloneProposal(entry *Proposal) Proposal {
	confirmations := make(map[string]struct{}, len(entry.Confirmations))
	for h := range entry.Confirmations {
		confirmations[h] = struct{}{}
	}
	return Proposal{Data: entry.Data, Confirmations: confirmations}
}

// Confirm records hostname's confirmation of id (idempotent) and
// returns the resulting confirmation count, or ok=false if id is no
// longer live.
func (p *Proposals) Confirm(id, hostname string) (count int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	entry, found := p.byID[id]
	if !found {
		return 0, false
	}
	entry.Confirmations[hostname] = struct{}{}
	return len(entry.Confirmations), true
}

// Remove drops a proposal unconditionally, used on commit or reject.
func (p *Proposals) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, id)
}

// BlockedBy reports whether a proposal targeting the same name, with a
// type that blocks typ per the blocking table (spec.md §4.4), is
// already live. Both checks use the proposal's TargetPayload target.
func (p *Proposals) BlockedBy(typ proto.CommandType, target string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	for _, entry := range p.byID {
		if !blocks(entry.Data.Type, typ) {
			continue
		}
		other, err := proto.DecodeTargetPayload(entry.Data.Payload)
		if err != nil || other.Target != target {
			continue
		}
		return true
	}
	return false
}

// blocks reports whether a live proposal of type existing blocks a new
// incoming proposal of type incoming, per spec.md §4.4's table.
func blocks(existing, incoming proto.CommandType) bool {
	switch incoming {
	case proto.CmdNick:
		return existing == proto.CmdNick
	case proto.CmdCreate:
		return existing == proto.CmdCreate
	case proto.CmdJoin:
		return existing == proto.CmdCreate || existing == proto.CmdLeave
	case proto.CmdLeave:
		return existing == proto.CmdJoin
	default:
		return false
	}
}

func (p *Proposals) sweepLocked() {
	cutoff := p.now()
	for id, entry := range p.byID {
		age := cutoff.Sub(time.UnixMilli(entry.Data.Timestamp))
		if age > ProposalTTL {
			delete(p.byID, id)
		}
	}
}

// Len returns the number of live proposals, after sweeping expired
// ones. Intended for tests and introspection.
func (p *Proposals) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	return len(p.byID)
}
