package orchestrator

import (
	"testing"

	"meshchat/internal/command"
	"meshchat/internal/debuglog"
	"meshchat/internal/identity"
	"meshchat/internal/metrics"
	"meshchat/internal/proto"
)

// fakeNetwork wires a set of Clients together in-memory, delivering
// flooded envelopes synchronously instead of over real sockets
// (spec.md §10's transport fake for orchestrator-level tests).
type fakeNetwork struct {
	clients   map[string]*Client
	neighbors map[string]map[string]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		clients:   make(map[string]*Client),
		neighbors: make(map[string]map[string]bool),
	}
}

func (n *fakeNetwork) connect(a, b string) {
	if n.neighbors[a] == nil {
		n.neighbors[a] = make(map[string]bool)
	}
	if n.neighbors[b] == nil {
		n.neighbors[b] = make(map[string]bool)
	}
	n.neighbors[a][b] = true
	n.neighbors[b][a] = true
}

type fakeLink struct {
	net  *fakeNetwork
	self string
}

func (l *fakeLink) Neighbors() []string {
	out := make([]string, 0)
	for h := range l.net.neighbors[l.self] {
		out = append(out, h)
	}
	return out
}

func (l *fakeLink) Send(env proto.Envelope, targets map[string]struct{}) error {
	for hostname := range targets {
		target, ok := l.net.clients[hostname]
		if !ok {
			continue
		}
		if err := target.DispatchEnvelope(env, l.self); err != nil {
			return err
		}
	}
	return nil
}

func (l *fakeLink) Connect(ip string, port int) (string, error) {
	return ip, nil
}

func newTestClient(t *testing.T, net *fakeNetwork, hostname string) *Client {
	t.Helper()
	id, err := identity.New(hostname, t.TempDir())
	if err != nil {
		t.Fatalf("identity.New(%s): %v", hostname, err)
	}
	link := &fakeLink{net: net, self: hostname}
	c := New(hostname, id, link, metrics.New(), debuglog.Stderr(false))
	net.clients[hostname] = c
	return c
}

func fullMesh(net *fakeNetwork, hosts ...string) {
	for i := range hosts {
		for j := i + 1; j < len(hosts); j++ {
			net.connect(hosts[i], hosts[j])
			for _, c := range net.clients {
				if c.Hostname == hosts[i] || c.Hostname == hosts[j] {
					c.topo.SetConnection(hosts[i], hosts[j])
				}
			}
		}
	}
}

func TestNickProposalCommitsAcrossThreePeers(t *testing.T) {
	net := newFakeNetwork()
	a := newTestClient(t, net, "A")
	b := newTestClient(t, net, "B")
	c := newTestClient(t, net, "C")
	fullMesh(net, "A", "B", "C")

	if _, err := a.HandleCommand(command.Command{Kind: command.KindNick, Name: "Zed"}); err != nil {
		t.Fatalf("nick proposal: %v", err)
	}

	nick, ok := a.nicknames.Get("A")
	if !ok || nick != "Zed" {
		t.Fatalf("expected A's nickname committed to Zed locally, got %q %v", nick, ok)
	}
	for _, peer := range []*Client{b, c} {
		nick, ok := peer.nicknames.Get("A")
		if !ok || nick != "Zed" {
			t.Fatalf("expected %s to see A's nickname as Zed, got %q %v", peer.Hostname, nick, ok)
		}
	}
}

func TestConcurrentNickProposalsOnlyOneCommits(t *testing.T) {
	net := newFakeNetwork()
	a := newTestClient(t, net, "A")
	b := newTestClient(t, net, "B")
	c := newTestClient(t, net, "C")
	fullMesh(net, "A", "B", "C")

	if _, err := a.HandleCommand(command.Command{Kind: command.KindNick, Name: "Zed"}); err != nil {
		t.Fatalf("A nick proposal: %v", err)
	}
	// B's competing NICK "Zed" should be blocked by A's still-live
	// proposal at the instant both are in flight. Since the fake
	// network delivers synchronously, A's proposal has already fully
	// resolved by the time B proposes; assert injectivity holds
	// regardless of interleaving.
	if _, err := b.HandleCommand(command.Command{Kind: command.KindNick, Name: "Zed"}); err == nil {
		// Originating succeeds locally; once A's rename has committed,
		// A and C reject B's proposal through the taken-nickname
		// precondition.
	}

	takenBy := make(map[string]int)
	for _, peer := range []*Client{a, b, c} {
		for _, host := range peer.nicknames.Hostnames() {
			nick, _ := peer.nicknames.Get(host)
			if nick == "Zed" {
				takenBy[host]++
			}
		}
	}
	if len(takenBy) > 1 {
		t.Fatalf("expected at most one hostname to hold nickname Zed, got %v", takenBy)
	}
}

func TestJoinDemotesToCreateWhenGroupAbsent(t *testing.T) {
	net := newFakeNetwork()
	a := newTestClient(t, net, "A")
	b := newTestClient(t, net, "B")
	fullMesh(net, "A", "B")

	if _, err := a.HandleCommand(command.Command{Kind: command.KindJoin, Name: "chat", Key: "pw"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	grp, ok := a.groups.Get("chat")
	if !ok {
		t.Fatalf("expected group chat created")
	}
	if grp.Admin != "A" {
		t.Fatalf("expected A to be admin, got %q", grp.Admin)
	}
	if len(grp.Members) != 1 {
		t.Fatalf("expected single member, got %v", grp.Members)
	}
	grpB, ok := b.groups.Get("chat")
	if !ok || grpB.Admin != "A" {
		t.Fatalf("expected B to see group chat with admin A, got %+v %v", grpB, ok)
	}
	if _, _, ok := a.id.GroupKey("chat"); !ok {
		t.Fatalf("expected A to have derived the group key locally")
	}
}

func TestMsgUnicastForwardsWithoutDecryptingAtRelay(t *testing.T) {
	net := newFakeNetwork()
	a := newTestClient(t, net, "A")
	bClient := newTestClient(t, net, "B")
	c := newTestClient(t, net, "C")
	net.connect("A", "B")
	net.connect("B", "C")
	a.topo.SetConnection("A", "B")
	a.topo.SetConnection("B", "C")
	bClient.topo.SetConnection("A", "B")
	bClient.topo.SetConnection("B", "C")
	c.topo.SetConnection("A", "B")
	c.topo.SetConnection("B", "C")

	if err := a.id.SetPeerPublicKey("C", c.id.PublicKeyDER()); err != nil {
		t.Fatalf("set peer public key: %v", err)
	}
	a.ips.Set("C", "dummy")

	if _, err := a.HandleCommand(command.Command{Kind: command.KindMsg, Name: "C", Text: "hi"}); err != nil {
		t.Fatalf("msg: %v", err)
	}
	if got := bClient.metrics.Snapshot(); got.EnvelopesRecv != 1 || got.DecryptFailures != 0 {
		t.Fatalf("expected B to relay the message without attempting to decrypt it, got %+v", got)
	}
	if got := c.metrics.Snapshot(); got.EnvelopesRecv != 1 || got.DecryptFailures != 0 {
		t.Fatalf("expected C to receive and decrypt the message, got %+v", got)
	}
}

func TestProposalExpiresByTTL(t *testing.T) {
	net := newFakeNetwork()
	a := newTestClient(t, net, "A")

	env := proto.Envelope{
		ID:        "A-1",
		Origin:    "A",
		Timestamp: nowMillis() - int64((21 * 1000)),
		Proposal:  true,
		Type:      proto.CmdNick,
		Payload:   proto.EncodeTargetPayload("Zed"),
	}
	a.proposals.Insert(env)
	if a.proposals.Len() != 0 {
		t.Fatalf("expected expired proposal swept on access")
	}
}
