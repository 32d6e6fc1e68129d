package registry

import "testing"

func TestValidNickname(t *testing.T) {
	cases := map[string]bool{
		"abc":         true,
		"ABC123":      true,
		"123456789":   true,
		"1234567890":  false, // 10 chars, too long
		"":            false,
		"has space":   false,
		"under_score": false,
	}
	for nick, want := range cases {
		if got := ValidNickname(nick); got != want {
			t.Errorf("ValidNickname(%q) = %v, want %v", nick, got, want)
		}
	}
}

func TestNicknamesInjective(t *testing.T) {
	n := NewNicknames()
	if !n.Set("hostA", "alice") {
		t.Fatalf("expected first assignment to succeed")
	}
	if n.Set("hostB", "alice") {
		t.Fatalf("expected second host claiming same nickname to fail")
	}
	if !n.Taken("alice") {
		t.Fatalf("expected alice to be taken")
	}
	if host, ok := n.HostnameFor("alice"); !ok || host != "hostA" {
		t.Fatalf("expected alice to resolve to hostA, got %q %v", host, ok)
	}
}

func TestNicknamesRenameFreesOldNick(t *testing.T) {
	n := NewNicknames()
	n.Set("hostA", "alice")
	if !n.Set("hostA", "bob") {
		t.Fatalf("expected rename to succeed")
	}
	if n.Taken("alice") {
		t.Fatalf("expected alice to be freed after rename")
	}
	if !n.Taken("bob") {
		t.Fatalf("expected bob to be taken after rename")
	}
}

func TestNicknamesRemove(t *testing.T) {
	n := NewNicknames()
	n.Set("hostA", "alice")
	n.Remove("hostA")
	if n.Taken("alice") {
		t.Fatalf("expected alice freed after removal")
	}
	if _, ok := n.Get("hostA"); ok {
		t.Fatalf("expected hostA to have no nickname after removal")
	}
}

func TestIPsSetGetRemove(t *testing.T) {
	r := NewIPs()
	r.Set("hostA", "[::1]:9001")
	addr, ok := r.Get("hostA")
	if !ok || addr != "[::1]:9001" {
		t.Fatalf("unexpected IP lookup: %q %v", addr, ok)
	}
	r.Remove("hostA")
	if _, ok := r.Get("hostA"); ok {
		t.Fatalf("expected hostA removed")
	}
}

func TestGroupsCreateJoinLeave(t *testing.T) {
	g := NewGroups()
	if err := g.Create("room", "admin"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := g.Create("room", "other"); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
	if err := g.Join("room", "bob"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !g.IsMember("room", "bob") {
		t.Fatalf("expected bob to be a member")
	}
	if err := g.Join("missing", "bob"); err == nil {
		t.Fatalf("expected join to nonexistent group to fail")
	}
	if err := g.Leave("room", "bob"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if g.IsMember("room", "bob") {
		t.Fatalf("expected bob removed")
	}
}

func TestGroupsAdminSuccession(t *testing.T) {
	g := NewGroups()
	g.Create("room", "charlie")
	g.Join("room", "alice")
	g.Join("room", "bob")
	if err := g.Leave("room", "charlie"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	grp, ok := g.Get("room")
	if !ok {
		t.Fatalf("expected group to still exist")
	}
	if grp.Admin != "alice" {
		t.Fatalf("expected lexicographically-smallest remaining member alice as admin, got %q", grp.Admin)
	}
}

func TestGroupsDeletedWhenEmpty(t *testing.T) {
	g := NewGroups()
	g.Create("room", "solo")
	if err := g.Leave("room", "solo"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if g.Exists("room") {
		t.Fatalf("expected group deleted once empty")
	}
}

func TestGroupsSetTopicRequiresAdmin(t *testing.T) {
	g := NewGroups()
	g.Create("room", "admin")
	g.Join("room", "bob")
	if err := g.SetTopic("room", "bob", "hello"); err == nil {
		t.Fatalf("expected non-admin topic change to fail")
	}
	if err := g.SetTopic("room", "admin", "hello"); err != nil {
		t.Fatalf("admin topic change failed: %v", err)
	}
	grp, _ := g.Get("room")
	if grp.Topic != "hello" {
		t.Fatalf("expected topic updated, got %q", grp.Topic)
	}
}

func TestGroupsRemoveHostnameAcrossGroups(t *testing.T) {
	g := NewGroups()
	g.Create("room1", "alice")
	g.Create("room2", "alice")
	g.Join("room2", "bob")
	g.RemoveHostname("alice")
	if g.Exists("room1") {
		t.Fatalf("expected room1 deleted once its only member left")
	}
	grp, ok := g.Get("room2")
	if !ok {
		t.Fatalf("expected room2 to survive")
	}
	if grp.Admin != "bob" {
		t.Fatalf("expected bob to succeed as admin, got %q", grp.Admin)
	}
}
