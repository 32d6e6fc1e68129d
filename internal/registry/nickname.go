// Package registry holds the orchestrator's small injective mappings:
// nicknames, IP addresses, and groups (spec.md §3).
package registry

import (
	"regexp"
	"sort"
	"sync"
)

// NicknamePattern is the grammar a nickname must match (spec.md §3):
// 1-9 characters, alphanumeric.
var NicknamePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,9}$`)

// ValidNickname reports whether nick matches NicknamePattern.
func ValidNickname(nick string) bool {
	return NicknamePattern.MatchString(nick)
}

// Nicknames is an injective partial mapping hostname -> nickname.
type Nicknames struct {
	mu      sync.RWMutex
	byHost  map[string]string
	byNick  map[string]string
}

// NewNicknames returns an empty nickname registry.
func NewNicknames() *Nicknames {
	return &Nicknames{
		byHost: make(map[string]string),
		byNick: make(map[string]string),
	}
}

// Taken reports whether nick is already assigned to some hostname.
func (n *Nicknames) Taken(nick string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.byNick[nick]
	return ok
}

// Set assigns nick to hostname, replacing any nickname hostname
// previously held. Fails (returns false) if nick is already held by a
// different hostname, preserving injectivity.
func (n *Nicknames) Set(hostname, nick string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if owner, ok := n.byNick[nick]; ok && owner != hostname {
		return false
	}
	if old, ok := n.byHost[hostname]; ok {
		delete(n.byNick, old)
	}
	n.byHost[hostname] = nick
	n.byNick[nick] = hostname
	return true
}

// Get returns hostname's nickname, if any.
func (n *Nicknames) Get(hostname string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	nick, ok := n.byHost[hostname]
	return nick, ok
}

// HostnameFor resolves a nickname back to its hostname.
func (n *Nicknames) HostnameFor(nick string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	host, ok := n.byNick[nick]
	return host, ok
}

// Remove deletes hostname's nickname mapping, if any.
func (n *Nicknames) Remove(hostname string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if nick, ok := n.byHost[hostname]; ok {
		delete(n.byNick, nick)
		delete(n.byHost, hostname)
	}
}

// List returns a snapshot of the mapping, keyed by hostname.
func (n *Nicknames) List() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.byHost))
	for h, nick := range n.byHost {
		out[h] = nick
	}
	return out
}

// Hostnames returns every hostname with a nickname, sorted.
func (n *Nicknames) Hostnames() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.byHost))
	for h := range n.byHost {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
