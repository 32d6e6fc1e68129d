package orchestrator

import (
	"meshchat/internal/proto"
)

// originateProposal starts a new proposal for typ/target (spec.md
// §4.4 step 1). On a one-peer overlay it commits synchronously since
// there is no one to confirm.
func (c *Client) originateProposal(typ proto.CommandType, target string) error {
	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Proposal:  true,
		Type:      typ,
		Payload:   proto.EncodeTargetPayload(target),
	}
	c.proposals.Insert(env)
	c.metrics.IncProposalsOriginated()

	if c.links == nil || len(c.links.Neighbors()) == 0 {
		return c.commitProposal(env)
	}
	return c.flood(env, "")
}

// receiveProposal implements spec.md §4.4 step 2: validate, check the
// blocking table, then confirm or reject; the envelope is re-flooded
// either way. An accepted proposal is recorded with this peer's own
// confirmation before the re-flood, and commits at once if that
// confirmation already completes the set.
func (c *Client) receiveProposal(env proto.Envelope, from string) error {
	payload, err := proto.DecodeTargetPayload(env.Payload)
	if err != nil {
		_ = c.flood(env, from)
		return err
	}

	if c.violatesPrecondition(env.Type, env.Origin, payload.Target) ||
		c.proposals.BlockedBy(env.Type, payload.Target) {
		floodErr := c.flood(env, from)
		if rejErr := c.rejectProposal(env.ID); rejErr != nil {
			return rejErr
		}
		return floodErr
	}

	c.proposals.Insert(env)
	count, _ := c.proposals.Confirm(env.ID, c.Hostname)
	if peerCount := len(c.topo.Peers()); peerCount <= 1 || count >= peerCount-1 {
		if err := c.commitProposal(env); err != nil {
			return err
		}
	}
	floodErr := c.flood(env, from)

	confirmEnv := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdConfirmation,
		Payload:   proto.EncodeIDPayload(env.ID),
	}
	if err := c.flood(confirmEnv, ""); err != nil {
		return err
	}
	return floodErr
}

// violatesPrecondition checks the semantic precondition for typ
// (spec.md §4.4 step 2b). A NICK is rejected when any hostname already
// holds the target nickname, the origin itself included; the originator
// does not run this check before proposing (see handleNick).
func (c *Client) violatesPrecondition(typ proto.CommandType, origin, target string) bool {
	switch typ {
	case proto.CmdCreate:
		return c.groups.Exists(target)
	case proto.CmdJoin:
		return !c.groups.Exists(target)
	case proto.CmdLeave:
		return !c.groups.Exists(target)
	case proto.CmdNick:
		return c.nicknames.Taken(target)
	default:
		return false
	}
}

func (c *Client) rejectProposal(id string) error {
	c.proposals.Remove(id)
	c.metrics.IncProposalsRejected()
	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdReject,
		Payload:   proto.EncodeIDPayload(id),
	}
	return c.flood(env, "")
}

// handleConfirmation processes an incoming CONFIRMATION envelope
// (spec.md §4.4 step 3): record the confirmer and commit once every
// other peer in the overlay has confirmed.
func (c *Client) handleConfirmation(env proto.Envelope) error {
	idPayload, err := proto.DecodeIDPayload(env.Payload)
	if err != nil {
		return err
	}
	count, ok := c.proposals.Confirm(idPayload.ID, env.Origin)
	if !ok {
		return nil
	}
	peerCount := len(c.topo.Peers())
	if peerCount > 1 && count < peerCount-1 {
		return nil
	}
	prop, ok := c.proposals.Get(idPayload.ID)
	if !ok {
		return nil
	}
	return c.commitProposal(prop.Data)
}

// handleReject drops the ledger entry named by a REJECT envelope
// (spec.md §4.4 step 4); the originator does not retry.
func (c *Client) handleReject(env proto.Envelope) error {
	idPayload, err := proto.DecodeIDPayload(env.Payload)
	if err != nil {
		return err
	}
	c.proposals.Remove(idPayload.ID)
	return nil
}

// commitProposal applies a committed proposal's effect to the
// registries (spec.md §4.4's "Commit actions per type").
func (c *Client) commitProposal(env proto.Envelope) error {
	payload, err := proto.DecodeTargetPayload(env.Payload)
	if err != nil {
		return err
	}
	switch env.Type {
	case proto.CmdCreate:
		_ = c.groups.Create(payload.Target, env.Origin)
	case proto.CmdJoin:
		_ = c.groups.Join(payload.Target, env.Origin)
	case proto.CmdLeave:
		_ = c.groups.Leave(payload.Target, env.Origin)
		if env.Origin == c.Hostname && !c.groups.Exists(payload.Target) {
			c.id.ForgetGroupKey(payload.Target)
		}
	case proto.CmdNick:
		c.nicknames.Set(env.Origin, payload.Target)
	}
	c.proposals.Remove(env.ID)
	c.metrics.IncProposalsCommitted()
	return nil
}
