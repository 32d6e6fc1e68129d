// Package orchestrator implements the Client event loop: the single-
// threaded tick that binds identity, the registries, the topology, the
// ledger, and the transport together (spec.md §4.5).
package orchestrator

import (
	"errors"
	"fmt"

	"meshchat/internal/debuglog"
	"meshchat/internal/identity"
	"meshchat/internal/ledger"
	"meshchat/internal/metrics"
	"meshchat/internal/proto"
	"meshchat/internal/registry"
	"meshchat/internal/topology"
)

// Sentinel errors for the local error kinds spec.md §7 names that
// carry no protocol message of their own.
var (
	ErrUnknownTarget     = errors.New("orchestrator: unknown target")
	ErrPermissionDenied  = errors.New("orchestrator: permission denied")
	ErrDuplicateName     = errors.New("orchestrator: duplicate name")
	ErrInvalidCommand    = errors.New("orchestrator: invalid command")
)

// PeerLink is the subset of internal/transport.Links the orchestrator
// needs to fan out envelopes; an in-memory fake satisfies it in tests
// (spec.md §10's transport fake for orchestrator-level tests).
type PeerLink interface {
	Send(env proto.Envelope, targets map[string]struct{}) error
	Neighbors() []string
	Connect(ip string, port int) (string, error)
}

// Client is the orchestrator: it exclusively owns the registries and
// the topology (spec.md §3's ownership rule); the transport exclusively
// owns sockets and buffers.
type Client struct {
	Hostname string

	id        *identity.Identity
	nicknames *registry.Nicknames
	ips       *registry.IPs
	groups    *registry.Groups
	topo      *topology.Topology
	seen      *ledger.Seen
	proposals *ledger.Proposals

	links    PeerLink
	selfAddr string

	hellos *helloCache

	metrics *metrics.Metrics
	log     *debuglog.Logger
}

// New wires a fresh Client around its components. links may be nil
// until the transport is attached with SetLinks (useful for bootstrap
// ordering in cmd/meshchat).
func New(hostname string, id *identity.Identity, links PeerLink, m *metrics.Metrics, log *debuglog.Logger) *Client {
	return &Client{
		Hostname:  hostname,
		id:        id,
		nicknames: registry.NewNicknames(),
		ips:       registry.NewIPs(),
		groups:    registry.NewGroups(),
		topo:      topology.New(hostname),
		seen:      ledger.NewSeen(),
		proposals: ledger.NewProposals(),
		links:     links,
		hellos:    newHelloCache(),
		metrics:   m,
		log:       log,
	}
}

// SetLinks attaches the transport once it has been established.
func (c *Client) SetLinks(links PeerLink) {
	c.links = links
}

// SetSelfAddr records this peer's own dialable ip:port, so it can
// announce itself to the rest of the overlay in the self-announce
// ADDCONNECTION sent after bootstrap (spec.md §4.3).
func (c *Client) SetSelfAddr(addr string) {
	c.selfAddr = addr
}

// Topology exposes the topology for read-only introspection (ROUTE,
// NEIGHBORS, PLOT) and for the cmd/meshchat wiring that drives
// multicast/TCP bootstrap decisions.
func (c *Client) Topology() *topology.Topology { return c.topo }

// Groups, Nicknames, IPs expose the registries for introspection
// commands (LIST, GETMEMBERS, GETTOPIC).
func (c *Client) Groups() *registry.Groups       { return c.groups }
func (c *Client) Nicknames() *registry.Nicknames { return c.nicknames }
func (c *Client) IPs() *registry.IPs             { return c.ips }
func (c *Client) Identity() *identity.Identity   { return c.id }

func (c *Client) nextID() string {
	return c.seen.Next(c.Hostname)
}

func (c *Client) flood(env proto.Envelope, except string) error {
	if c.links == nil {
		return fmt.Errorf("orchestrator: no transport attached")
	}
	targets := make(map[string]struct{})
	for _, n := range c.links.Neighbors() {
		if n != except {
			targets[n] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return c.links.Send(env, targets)
}

func (c *Client) sendTo(env proto.Envelope, hosts []string) error {
	if c.links == nil {
		return fmt.Errorf("orchestrator: no transport attached")
	}
	targets := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		targets[h] = struct{}{}
	}
	if len(targets) == 0 {
		return nil
	}
	return c.links.Send(env, targets)
}
