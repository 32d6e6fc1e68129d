package orchestrator

import (
	"encoding/base64"
	"fmt"

	"meshchat/internal/proto"
)

// applySetTopic takes effect immediately on receipt (spec.md §4.4:
// SETTOPIC is not a proposal). Origin is trusted as the admin the
// sender claims to be; Groups.SetTopic itself rejects a non-admin
// origin, so a forged envelope from a non-admin hostname is a no-op.
func (c *Client) applySetTopic(env proto.Envelope) error {
	payload, err := proto.DecodeTextPayload(env.Payload)
	if err != nil {
		return err
	}
	_ = c.groups.SetTopic(payload.Target, env.Origin, payload.Text)
	return nil
}

// applyRemovePeer tears down a lost peer's state (spec.md §4.1, §7's
// PeerLost kind after a failed reconnect) and triggers fracture
// healing if the removal fractured the topology.
func (c *Client) applyRemovePeer(env proto.Envelope) error {
	payload, err := proto.DecodeRemovePeerPayload(env.Payload)
	if err != nil {
		return err
	}
	c.topo.RemovePeer(payload.Hostname)
	c.ips.Remove(payload.Hostname)
	c.nicknames.Remove(payload.Hostname)
	c.groups.RemoveHostname(payload.Hostname)
	c.id.RemovePeer(payload.Hostname)
	c.metrics.IncPeersLost()

	return c.healFracture()
}

// applyAddConnection merges newly-announced edges and any peer
// metadata into local state (spec.md §4.3's bridge/fracture healing
// broadcast, §6's ADDCONNECTION payload).
func (c *Client) applyAddConnection(env proto.Envelope) error {
	payload, err := proto.DecodeAddConnectionPayload(env.Payload)
	if err != nil {
		return err
	}
	for host, info := range payload.NewPeers {
		c.topo.AddPeer(host)
		if info.IP != "" {
			c.ips.Set(host, info.IP)
		}
		if info.Name != "" {
			c.nicknames.Set(host, info.Name)
		}
		if info.PublicKey != "" {
			if der, err := base64.StdEncoding.DecodeString(info.PublicKey); err == nil {
				_ = c.id.SetPeerPublicKey(host, der)
			}
		}
	}
	for _, edge := range payload.Connections {
		c.topo.SetConnection(edge[0], edge[1])
	}
	return nil
}

// applyInit seeds local state from a bootstrap INIT message sent by
// the bridge peer (spec.md §4.3, §6). Not re-flooded: INIT only ever
// travels point-to-point from bridge to newcomer.
func (c *Client) applyInit(env proto.Envelope) error {
	payload, err := proto.DecodeInitPayload(env.Payload)
	if err != nil {
		return err
	}
	for host, neighbors := range payload.Topology {
		c.topo.AddPeer(host)
		for _, n := range neighbors {
			c.topo.SetConnection(host, n)
		}
	}
	for host, addr := range payload.IPs {
		c.ips.Set(host, addr)
	}
	for host, nick := range payload.Nicknames {
		c.nicknames.Set(host, nick)
	}
	for host, encoded := range payload.PublicKeys {
		if host == c.Hostname {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("orchestrator: decode init public key for %s: %w", host, err)
		}
		if err := c.id.SetPeerPublicKey(host, der); err != nil {
			return fmt.Errorf("orchestrator: apply init public key for %s: %w", host, err)
		}
	}
	for _, g := range payload.Groups {
		if err := c.groups.Create(g.Name, g.Admin); err != nil {
			continue
		}
		for _, m := range g.Members {
			_ = c.groups.Join(g.Name, m)
		}
		if g.Topic != "" {
			_ = c.groups.SetTopic(g.Name, g.Admin, g.Topic)
		}
	}

	return c.announceSelf()
}

// announceSelf floods the newcomer's own edges and metadata to its
// neighbors right after bootstrap (spec.md §4.3), so peers beyond the
// bridge learn the newcomer exists and can route to/resolve it. Without
// this, only the direct bridge(s) ever see the new hostname.
func (c *Client) announceSelf() error {
	if c.links == nil {
		return nil
	}
	neighbors := c.links.Neighbors()
	if len(neighbors) == 0 {
		return nil
	}
	conns := make([]proto.Edge, 0, len(neighbors))
	for _, n := range neighbors {
		c.topo.SetConnection(c.Hostname, n)
		conns = append(conns, proto.Edge{c.Hostname, n})
	}

	name, _ := c.nicknames.Get(c.Hostname)
	payload := proto.AddConnectionPayload{
		Connections: conns,
		NewPeers: map[string]proto.NewPeerInfo{
			c.Hostname: {
				IP:        c.selfAddr,
				Name:      name,
				PublicKey: base64.StdEncoding.EncodeToString(c.id.PublicKeyDER()),
			},
		},
	}
	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdAddConnection,
		Payload:   proto.EncodeAddConnectionPayload(payload),
	}
	return c.sendTo(env, neighbors)
}
