package orchestrator

import (
	"net"
	"sort"
	"strconv"

	"meshchat/internal/proto"
	"meshchat/internal/topology"
)

// healFracture runs the fracture-healing policy (spec.md §4.3) after
// a REMOVEPEER commit: it computes the repairing edge set, dials out
// only for the edge where this peer is Rmin, and broadcasts every new
// edge as ADDCONNECTION.
func (c *Client) healFracture() error {
	if !c.topo.IsFractured() {
		return nil
	}
	edges := c.topo.HealFracture()
	if len(edges) == 0 {
		return nil
	}
	for _, e := range edges {
		if e.CenterDials {
			c.dialHealEdge(e)
		}
	}
	c.metrics.IncFracturesHealed()
	return c.broadcastAddConnection(edges)
}

// checkUnderconnection runs the underconnection-resolution policy
// (spec.md §4.3): only the peer at sorted index 1 acts, dialing the
// peer at index 0.
func (c *Client) checkUnderconnection() error {
	if !c.topo.IsUnderconnected() {
		return nil
	}
	edge, ok := c.topo.UnderconnectionFix()
	if !ok {
		return nil
	}
	if edge.CenterDials {
		c.dialHealEdge(edge)
	}
	c.topo.SetConnection(edge.A, edge.B)
	c.metrics.IncUnderconnections()
	return c.broadcastAddConnection([]topology.HealEdge{edge})
}

func (c *Client) dialHealEdge(e topology.HealEdge) {
	peer := e.A
	if peer == c.Hostname {
		peer = e.B
	}
	addr, ok := c.ips.Get(peer)
	if !ok || c.links == nil {
		return
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return
	}
	_, _ = c.links.Connect(host, port)
}

func (c *Client) broadcastAddConnection(edges []topology.HealEdge) error {
	conns := make([]proto.Edge, 0, len(edges))
	for _, e := range edges {
		conns = append(conns, proto.Edge{e.A, e.B})
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i][0] < conns[j][0] })
	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdAddConnection,
		Payload:   proto.EncodeAddConnectionPayload(proto.AddConnectionPayload{Connections: conns}),
	}
	return c.flood(env, "")
}
