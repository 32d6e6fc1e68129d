package orchestrator

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"

	"meshchat/internal/crypto"
	"meshchat/internal/proto"
)

func helloAddrKey(hello proto.DiscoveryHello) string {
	return net.JoinHostPort(hello.IP, strconv.Itoa(hello.Port))
}

// HandleDiscoveryHello reacts to a fresh peer's multicast hello
// (spec.md §4.3's bridge selection). Only peers selected as bridges
// actually dial the newcomer; the bridge at index 0 also ships the
// INIT bootstrap.
func (c *Client) HandleDiscoveryHello(hello proto.DiscoveryHello) error {
	if c.hellos.seen(helloAddrKey(hello)) {
		return nil
	}
	bridges := c.topo.BridgePeers()
	myIndex := -1
	for i, h := range bridges {
		if h == c.Hostname {
			myIndex = i
			break
		}
	}
	if myIndex < 0 || c.links == nil {
		return nil
	}

	hostname, err := c.links.Connect(hello.IP, hello.Port)
	if err != nil {
		return fmt.Errorf("orchestrator: bridge connect: %w", err)
	}
	pubDER, err := base64.StdEncoding.DecodeString(hello.PublicKey)
	if err != nil {
		return fmt.Errorf("orchestrator: decode hello public key: %w", err)
	}
	if err := c.id.SetPeerPublicKey(hostname, pubDER); err != nil {
		return fmt.Errorf("orchestrator: set newcomer public key: %w", err)
	}
	c.ips.Set(hostname, net.JoinHostPort(hello.IP, strconv.Itoa(hello.Port)))
	c.topo.AddPeer(hostname)
	c.topo.SetConnection(c.Hostname, hostname)

	if myIndex != 0 {
		return nil
	}
	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdInit,
		Payload:   proto.EncodeInitPayload(c.buildInitPayload()),
	}
	return c.sendTo(env, []string{hostname})
}

// buildInitPayload snapshots the full local state handed to a
// newcomer (spec.md §4.3's bootstrap INIT message).
func (c *Client) buildInitPayload() proto.InitPayload {
	topoMap := make(map[string][]string)
	for _, p := range c.topo.Peers() {
		neighbors := make([]string, 0, len(p.Neighbors))
		for n := range p.Neighbors {
			neighbors = append(neighbors, n)
		}
		topoMap[p.Hostname] = neighbors
	}

	pubKeys := map[string]string{
		c.Hostname: base64.StdEncoding.EncodeToString(c.id.PublicKeyDER()),
	}
	for _, host := range c.nicknames.Hostnames() {
		if pub, ok := c.id.PeerPublicKey(host); ok {
			der, err := crypto.MarshalPublicKey(pub)
			if err == nil {
				pubKeys[host] = base64.StdEncoding.EncodeToString(der)
			}
		}
	}

	var groups []proto.GroupSnapshot
	for _, name := range c.groups.List() {
		g, ok := c.groups.Get(name)
		if !ok {
			continue
		}
		groups = append(groups, proto.GroupSnapshot{
			Name:    g.Name,
			Admin:   g.Admin,
			Topic:   g.Topic,
			Members: c.groups.Members(name),
		})
	}

	return proto.InitPayload{
		Topology:   topoMap,
		IPs:        c.ips.List(),
		Nicknames:  c.nicknames.List(),
		Groups:     groups,
		PublicKeys: pubKeys,
	}
}
