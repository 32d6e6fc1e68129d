package ledger

import (
	"testing"
	"time"

	"meshchat/internal/proto"
)

func TestSeenDeliverMonotonic(t *testing.T) {
	s := NewSeen()
	ok, err := s.Deliver("A-1")
	if err != nil || !ok {
		t.Fatalf("expected first delivery to succeed: %v %v", ok, err)
	}
	ok, err = s.Deliver("A-1")
	if err != nil || ok {
		t.Fatalf("expected repeat delivery to be rejected: %v %v", ok, err)
	}
	ok, err = s.Deliver("A-0")
	if err != nil || ok {
		t.Fatalf("expected out-of-order delivery to be rejected: %v %v", ok, err)
	}
	ok, err = s.Deliver("A-2")
	if err != nil || !ok {
		t.Fatalf("expected next-in-order delivery to succeed: %v %v", ok, err)
	}
}

func TestSeenDeliverPerOriginIndependent(t *testing.T) {
	s := NewSeen()
	mustDeliver(t, s, "A-5")
	ok, err := s.Deliver("B-1")
	if err != nil || !ok {
		t.Fatalf("expected independent origin to deliver: %v %v", ok, err)
	}
}

func TestSeenDeliverRejectsMalformedID(t *testing.T) {
	s := NewSeen()
	if _, err := s.Deliver("no-dash-but-not-number"); err == nil {
		t.Fatalf("expected malformed id to error")
	}
}

func TestSeenNextAdvancesAndAgreesWithDeliver(t *testing.T) {
	s := NewSeen()
	id := s.Next("A")
	if id != "A-1" {
		t.Fatalf("expected A-1, got %q", id)
	}
	ok, err := s.Deliver(id)
	if err != nil || !ok {
		t.Fatalf("expected self-issued id to deliver: %v %v", ok, err)
	}
	if next := s.Next("A"); next != "A-2" {
		t.Fatalf("expected A-2, got %q", next)
	}
}

func mustDeliver(t *testing.T, s *Seen, id string) {
	t.Helper()
	ok, err := s.Deliver(id)
	if err != nil || !ok {
		t.Fatalf("expected %q to deliver: %v %v", id, ok, err)
	}
}

func newProposal(id, origin string, typ proto.CommandType, target string, ts int64) proto.Envelope {
	return proto.Envelope{
		ID:        id,
		Origin:    origin,
		Timestamp: ts,
		Proposal:  true,
		Type:      typ,
		Payload:   proto.EncodeTargetPayload(target),
	}
}

func TestProposalsInsertGetConfirm(t *testing.T) {
	p := NewProposals()
	env := newProposal("A-1", "A", proto.CmdNick, "Zed", time.Now().UnixMilli())
	if !p.Insert(env) {
		t.Fatalf("expected first insert to succeed")
	}
	if p.Insert(env) {
		t.Fatalf("expected duplicate insert to fail")
	}
	count, ok := p.Confirm("A-1", "B")
	if !ok || count != 1 {
		t.Fatalf("expected confirm count 1, got %d %v", count, ok)
	}
	count, ok = p.Confirm("A-1", "B")
	if !ok || count != 1 {
		t.Fatalf("expected idempotent confirm to stay at 1, got %d %v", count, ok)
	}
	count, ok = p.Confirm("A-1", "C")
	if !ok || count != 2 {
		t.Fatalf("expected confirm count 2, got %d %v", count, ok)
	}
}

func TestProposalsRemove(t *testing.T) {
	p := NewProposals()
	env := newProposal("A-1", "A", proto.CmdCreate, "chat", time.Now().UnixMilli())
	p.Insert(env)
	p.Remove("A-1")
	if _, ok := p.Get("A-1"); ok {
		t.Fatalf("expected proposal removed")
	}
}

func TestProposalsExpireByTTL(t *testing.T) {
	p := NewProposals()
	base := time.Now()
	env := newProposal("A-1", "A", proto.CmdCreate, "chat", base.UnixMilli())
	p.Insert(env)
	p.now = func() time.Time { return base.Add(ProposalTTL + time.Second) }
	if _, ok := p.Get("A-1"); ok {
		t.Fatalf("expected proposal expired after TTL")
	}
	if p.Len() != 0 {
		t.Fatalf("expected table empty after sweep")
	}
}

func TestProposalsBlockingTable(t *testing.T) {
	p := NewProposals()
	ts := time.Now().UnixMilli()

	p.Insert(newProposal("A-1", "A", proto.CmdNick, "Zed", ts))
	if !p.BlockedBy(proto.CmdNick, "Zed") {
		t.Fatalf("expected NICK blocked by live NICK for same nickname")
	}
	if p.BlockedBy(proto.CmdNick, "Other") {
		t.Fatalf("expected NICK for different nickname not blocked")
	}

	p2 := NewProposals()
	p2.Insert(newProposal("A-1", "A", proto.CmdCreate, "chat", ts))
	if !p2.BlockedBy(proto.CmdJoin, "chat") {
		t.Fatalf("expected JOIN blocked by live CREATE for same group")
	}
	if !p2.BlockedBy(proto.CmdCreate, "chat") {
		t.Fatalf("expected CREATE blocked by live CREATE for same group")
	}
	if p2.BlockedBy(proto.CmdLeave, "chat") {
		t.Fatalf("expected LEAVE not blocked by CREATE")
	}

	p3 := NewProposals()
	p3.Insert(newProposal("A-1", "A", proto.CmdLeave, "chat", ts))
	if !p3.BlockedBy(proto.CmdJoin, "chat") {
		t.Fatalf("expected JOIN blocked by live LEAVE for same group")
	}

	p4 := NewProposals()
	p4.Insert(newProposal("A-1", "A", proto.CmdJoin, "chat", ts))
	if !p4.BlockedBy(proto.CmdLeave, "chat") {
		t.Fatalf("expected LEAVE blocked by live JOIN for same group")
	}
	if p4.BlockedBy(proto.CmdCreate, "chat") {
		t.Fatalf("expected CREATE not blocked by JOIN")
	}
}
