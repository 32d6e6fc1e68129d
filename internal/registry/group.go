package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Group is a named chat room: an admin, a topic, and a non-empty member
// set (spec.md §3). Invariant: Admin is always a member while Members
// is non-empty; a group whose last member leaves is deleted entirely.
type Group struct {
	Name    string
	Admin   string
	Topic   string
	Members map[string]struct{}
}

// Groups owns every known group, keyed by name.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

// NewGroups returns an empty group registry.
func NewGroups() *Groups {
	return &Groups{groups: make(map[string]*Group)}
}

// Exists reports whether a group named name exists.
func (g *Groups) Exists(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.groups[name]
	return ok
}

// Create adds a new group with admin as its sole member. Fails if the
// group already exists (CREATE's precondition, spec.md §4.4).
func (g *Groups) Create(name, admin string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[name]; ok {
		return fmt.Errorf("registry: group %q already exists", name)
	}
	g.groups[name] = &Group{
		Name:    name,
		Admin:   admin,
		Members: map[string]struct{}{admin: {}},
	}
	return nil
}

// Join adds hostname to an existing group's members. Fails if the group
// does not exist (JOIN's precondition, spec.md §4.4).
func (g *Groups) Join(name, hostname string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[name]
	if !ok {
		return fmt.Errorf("registry: group %q does not exist", name)
	}
	grp.Members[hostname] = struct{}{}
	return nil
}

// Leave removes hostname from a group's members. If hostname was the
// admin, the new admin is the lexicographically-smallest remaining
// member; if the group becomes empty, it is deleted entirely (spec.md
// §3/§4.4). Fails if the group does not exist (LEAVE's precondition).
func (g *Groups) Leave(name, hostname string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[name]
	if !ok {
		return fmt.Errorf("registry: group %q does not exist", name)
	}
	delete(grp.Members, hostname)
	if len(grp.Members) == 0 {
		delete(g.groups, name)
		return nil
	}
	if grp.Admin == hostname {
		grp.Admin = smallestMember(grp.Members)
	}
	return nil
}

func smallestMember(members map[string]struct{}) string {
	names := make([]string, 0, len(members))
	for m := range members {
		names = append(names, m)
	}
	sort.Strings(names)
	return names[0]
}

// SetTopic changes a group's topic. Fails if the group does not exist
// or hostname is not its admin (PermissionDenied, spec.md §7).
func (g *Groups) SetTopic(name, hostname, topic string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[name]
	if !ok {
		return fmt.Errorf("registry: group %q does not exist", name)
	}
	if grp.Admin != hostname {
		return fmt.Errorf("registry: %s is not admin of %q", hostname, name)
	}
	grp.Topic = topic
	return nil
}

// Get returns a copy of a group's current state.
func (g *Groups) Get(name string) (Group, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	grp, ok := g.groups[name]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(grp), true
}

func cloneGroup(grp *Group) Group {
	members := make(map[string]struct{}, len(grp.Members))
	for m := range grp.Members {
		members[m] = struct{}{}
	}
	return Group{Name: grp.Name, Admin: grp.Admin, Topic: grp.Topic, Members: members}
}

// Members returns a sorted snapshot of a group's members.
func (g *Groups) Members(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	grp, ok := g.groups[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(grp.Members))
	for m := range grp.Members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// IsMember reports whether hostname belongs to group name.
func (g *Groups) IsMember(name, hostname string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	grp, ok := g.groups[name]
	if !ok {
		return false
	}
	_, ok = grp.Members[hostname]
	return ok
}

// List returns every group's name, sorted.
func (g *Groups) List() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.groups))
	for name := range g.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RemoveHostname removes hostname from every group it belongs to (used
// when a peer is permanently lost), applying the same admin-succession
// and empty-group-deletion rules as Leave.
func (g *Groups) RemoveHostname(hostname string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, grp := range g.groups {
		if _, ok := grp.Members[hostname]; !ok {
			continue
		}
		delete(grp.Members, hostname)
		if len(grp.Members) == 0 {
			delete(g.groups, name)
			continue
		}
		if grp.Admin == hostname {
			grp.Admin = smallestMember(grp.Members)
		}
	}
}
