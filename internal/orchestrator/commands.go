package orchestrator

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"meshchat/internal/command"
	"meshchat/internal/crypto"
	"meshchat/internal/plotter"
	"meshchat/internal/proto"
	"meshchat/internal/registry"
)

// HandleCommand dispatches one parsed interactive command (spec.md
// §4.5 tick step 1: Tick takes one command off the pending channel and
// passes it here). QUIT and
// HELP are front-end concerns (spec.md §1's out-of-scope CLI) and are
// expected to be intercepted by the caller before reaching here.
// Returns the text to show the user.
func (c *Client) HandleCommand(cmd command.Command) (string, error) {
	switch cmd.Kind {
	case command.KindJoin:
		return c.handleJoin(cmd)
	case command.KindLeave:
		return c.handleLeave(cmd)
	case command.KindNick:
		return c.handleNick(cmd)
	case command.KindList:
		return strings.Join(c.groups.List(), "\n"), nil
	case command.KindGetMembers:
		return c.handleGetMembers(cmd)
	case command.KindGetTopic:
		return c.handleGetTopic(cmd)
	case command.KindSetTopic:
		return c.handleSetTopic(cmd)
	case command.KindMsg:
		return c.handleMsg(cmd)
	case command.KindNeighbors:
		return strings.Join(c.topo.Neighbors(c.Hostname), "\n"), nil
	case command.KindPing:
		return c.handlePing(cmd)
	case command.KindRoute:
		return c.handleRoute(cmd)
	case command.KindPlot:
		if err := plotter.Write("plot.png", c.topo); err != nil {
			return "", fmt.Errorf("orchestrator: plot: %w", err)
		}
		return "wrote plot.png", nil
	case command.KindGetPublicKey:
		return c.handleGetPublicKey(cmd)
	case command.KindGetKeyPair:
		return c.handleGetKeyPair()
	default:
		return "", ErrInvalidCommand
	}
}

func (c *Client) handleJoin(cmd command.Command) (string, error) {
	typ := proto.CmdJoin
	if !c.groups.Exists(cmd.Name) {
		typ = proto.CmdCreate
	}
	c.id.DeriveGroupKey(cmd.Name, cmd.Key)
	if err := c.originateProposal(typ, cmd.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("proposed %s %s", typ, cmd.Name), nil
}

func (c *Client) handleLeave(cmd command.Command) (string, error) {
	if !c.groups.Exists(cmd.Name) {
		return "", ErrUnknownTarget
	}
	if err := c.originateProposal(proto.CmdLeave, cmd.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("proposed LEAVE %s", cmd.Name), nil
}

func (c *Client) handleNick(cmd command.Command) (string, error) {
	if !registry.ValidNickname(cmd.Name) {
		return "", ErrInvalidCommand
	}
	// Self-NICK preconditions are intentionally not checked here
	// (spec.md §9 open question): only the blocking table guards
	// concurrent proposals.
	if err := c.originateProposal(proto.CmdNick, cmd.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("proposed NICK %s", cmd.Name), nil
}

func (c *Client) handleGetMembers(cmd command.Command) (string, error) {
	if !c.groups.Exists(cmd.Name) {
		return "", ErrUnknownTarget
	}
	return strings.Join(c.groups.Members(cmd.Name), "\n"), nil
}

func (c *Client) handleGetTopic(cmd command.Command) (string, error) {
	grp, ok := c.groups.Get(cmd.Name)
	if !ok {
		return "", ErrUnknownTarget
	}
	return grp.Topic, nil
}

func (c *Client) handleSetTopic(cmd command.Command) (string, error) {
	if err := c.groups.SetTopic(cmd.Name, c.Hostname, cmd.Text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	env := proto.Envelope{
		ID:      c.nextID(),
		Origin:  c.Hostname,
		Type:    proto.CmdSetTopic,
		Payload: proto.EncodeTextPayload(cmd.Name, cmd.Text),
	}
	if err := c.flood(env, ""); err != nil {
		return "", err
	}
	return "topic set", nil
}

func (c *Client) handleMsg(cmd command.Command) (string, error) {
	if c.groups.Exists(cmd.Name) {
		key, iv, ok := c.id.GroupKey(cmd.Name)
		if !ok {
			return "", ErrUnknownTarget
		}
		ciphertext, err := crypto.GroupEncrypt([]byte(cmd.Text), key, iv)
		if err != nil {
			return "", fmt.Errorf("orchestrator: group encrypt: %w", err)
		}
		env := proto.Envelope{
			ID:      c.nextID(),
			Origin:  c.Hostname,
			Type:    proto.CmdMsg,
			Payload: proto.EncodeTextPayload(cmd.Name, ciphertext),
		}
		hops := c.groupNextHops(cmd.Name)
		if err := c.sendTo(env, hops); err != nil {
			return "", err
		}
		return "sent", nil
	}

	hostname, ok := c.resolveHostname(cmd.Name)
	if !ok {
		return "", ErrUnknownTarget
	}
	pub, ok := c.id.PeerPublicKey(hostname)
	if !ok {
		return "", ErrUnknownTarget
	}
	ciphertext, err := crypto.PublicEncrypt([]byte(cmd.Text), pub)
	if err != nil {
		return "", fmt.Errorf("orchestrator: public encrypt: %w", err)
	}
	env := proto.Envelope{
		ID:      c.nextID(),
		Origin:  c.Hostname,
		Type:    proto.CmdMsg,
		Payload: proto.EncodeTextPayload(hostname, ciphertext),
	}
	nextHop := c.topo.NextHop(hostname)
	if nextHop == "" {
		return "", ErrUnknownTarget
	}
	if err := c.sendTo(env, []string{nextHop}); err != nil {
		return "", err
	}
	return "sent", nil
}

func (c *Client) handlePing(cmd command.Command) (string, error) {
	hostname, ok := c.resolveHostname(cmd.Target)
	if !ok {
		return "", ErrUnknownTarget
	}
	nextHop := c.topo.NextHop(hostname)
	if nextHop == "" {
		return "", ErrUnknownTarget
	}
	env := proto.Envelope{
		ID:      c.nextID(),
		Origin:  c.Hostname,
		Type:    proto.CmdPing,
		Payload: proto.EncodePingPongPayload(hostname, nowMillis()),
	}
	if err := c.sendTo(env, []string{nextHop}); err != nil {
		return "", err
	}
	return fmt.Sprintf("ping sent to %s", hostname), nil
}

func (c *Client) handleRoute(cmd command.Command) (string, error) {
	if cmd.Name == "" {
		var b strings.Builder
		hosts := make([]string, 0)
		for _, p := range c.topo.Peers() {
			if p.Hostname != c.Hostname {
				hosts = append(hosts, p.Hostname)
			}
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			fmt.Fprintf(&b, "%s: %s\n", h, strings.Join(c.topo.ShortestPath(h), " -> "))
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
	return strings.Join(c.topo.ShortestPath(cmd.Name), " -> "), nil
}

func (c *Client) handleGetPublicKey(cmd command.Command) (string, error) {
	hostname, ok := c.resolveHostname(cmd.Name)
	if !ok {
		return "", ErrUnknownTarget
	}
	if hostname == c.Hostname {
		return base64.StdEncoding.EncodeToString(c.id.PublicKeyDER()), nil
	}
	pub, ok := c.id.PeerPublicKey(hostname)
	if !ok {
		return "", ErrUnknownTarget
	}
	der, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("orchestrator: encode public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func (c *Client) handleGetKeyPair() (string, error) {
	pub := base64.StdEncoding.EncodeToString(c.id.PublicKeyDER())
	return fmt.Sprintf("public: %s", pub), nil
}

// resolveHostname resolves a PING/MSG/GETPUBLICKEY argument that may
// be a nickname or a raw hostname/address already known to the IP
// registry (spec.md §6: "PING <nick|ip>").
func (c *Client) resolveHostname(arg string) (string, bool) {
	if host, ok := c.nicknames.HostnameFor(arg); ok {
		return host, true
	}
	if _, ok := c.ips.Get(arg); ok {
		return arg, true
	}
	for host, addr := range c.ips.List() {
		if addr == arg {
			return host, true
		}
	}
	return "", false
}
