package orchestrator

import (
	"fmt"

	"meshchat/internal/proto"
	"meshchat/internal/transport"
)

// HandleFrame decodes one inbound peer-link frame and dispatches it
// (spec.md §4.5 tick step 3).
func (c *Client) HandleFrame(frame transport.Frame) error {
	env, err := proto.DecodeEnvelope(frame.Payload)
	if err != nil {
		return fmt.Errorf("orchestrator: decode frame from %s: %w", frame.Hostname, err)
	}
	env.ReceivedFrom = frame.Hostname
	return c.DispatchEnvelope(env, frame.Hostname)
}

// DispatchEnvelope checks the seen-id table, then branches on
// proposal vs. direct handling (spec.md §4.5). Exported so the
// bridge/INIT bootstrap path and tests can feed envelopes without a
// real socket.
func (c *Client) DispatchEnvelope(env proto.Envelope, from string) error {
	if env.Type == proto.CmdInit {
		return c.applyInit(env)
	}

	fresh, err := c.seen.Deliver(env.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if !fresh {
		c.metrics.IncEnvelopesDeduped()
		return nil
	}
	c.metrics.IncEnvelopesRecv()

	switch env.Type {
	case proto.CmdMsg, proto.CmdPing, proto.CmdPong:
		return c.dispatchRouted(env, from)
	case proto.CmdCreate, proto.CmdJoin, proto.CmdLeave, proto.CmdNick:
		return c.receiveProposal(env, from)
	case proto.CmdConfirmation:
		floodErr := c.flood(env, from)
		if err := c.handleConfirmation(env); err != nil {
			return err
		}
		return floodErr
	case proto.CmdReject:
		floodErr := c.flood(env, from)
		if err := c.handleReject(env); err != nil {
			return err
		}
		return floodErr
	case proto.CmdSetTopic:
		floodErr := c.flood(env, from)
		if err := c.applySetTopic(env); err != nil {
			return err
		}
		return floodErr
	case proto.CmdRemovePeer:
		floodErr := c.flood(env, from)
		if err := c.applyRemovePeer(env); err != nil {
			return err
		}
		return floodErr
	case proto.CmdAddConnection:
		floodErr := c.flood(env, from)
		if err := c.applyAddConnection(env); err != nil {
			return err
		}
		return floodErr
	}
	return nil
}

// dispatchRouted handles MSG/PING/PONG: route toward the target's
// next hop, and deliver locally when this peer is a recipient
// (spec.md §4.5's unicast/group fan-out rule).
func (c *Client) dispatchRouted(env proto.Envelope, from string) error {
	switch env.Type {
	case proto.CmdMsg:
		payload, err := proto.DecodeTextPayload(env.Payload)
		if err != nil {
			return err
		}
		if c.groups.Exists(payload.Target) {
			isRecipient := c.groups.IsMember(payload.Target, c.Hostname)
			if isRecipient {
				c.deliverGroupMsg(env.Origin, payload.Target, payload.Text)
			}
			return c.sendTo(env, c.groupNextHops(payload.Target))
		}
		if payload.Target == c.Hostname {
			c.deliverUnicastMsg(env.Origin, payload.Text)
			return nil
		}
		nextHop := c.topo.NextHop(payload.Target)
		if nextHop == "" {
			return ErrUnknownTarget
		}
		return c.sendTo(env, []string{nextHop})

	case proto.CmdPing, proto.CmdPong:
		payload, err := proto.DecodePingPongPayload(env.Payload)
		if err != nil {
			return err
		}
		if payload.Target == c.Hostname {
			if env.Type == proto.CmdPing {
				return c.respondPong(env.Origin, payload.Start)
			}
			c.deliverPong(env.Origin, payload.Start)
			return nil
		}
		nextHop := c.topo.NextHop(payload.Target)
		if nextHop == "" {
			return ErrUnknownTarget
		}
		return c.sendTo(env, []string{nextHop})
	}
	return nil
}

func (c *Client) respondPong(target string, start int64) error {
	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdPong,
		Payload:   proto.EncodePingPongPayload(target, start),
	}
	nextHop := c.topo.NextHop(target)
	if nextHop == "" {
		return ErrUnknownTarget
	}
	return c.sendTo(env, []string{nextHop})
}
