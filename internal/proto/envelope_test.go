package proto

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatalf("expected error for oversized frame length")
	}
}

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{
		ID:        "alice-1",
		Origin:    "alice",
		Timestamp: 1000,
		Proposal:  true,
		Type:      CmdNick,
		Payload:   EncodeTargetPayload("Zed"),
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != env.ID || got.Origin != env.Origin || got.Type != env.Type || !got.Proposal {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	target, err := DecodeTargetPayload(got.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if target.Target != "Zed" {
		t.Fatalf("expected target Zed, got %q", target.Target)
	}
}

func TestCommandTypeIsProposal(t *testing.T) {
	proposalTypes := []CommandType{CmdCreate, CmdJoin, CmdLeave, CmdNick}
	for _, ct := range proposalTypes {
		if !ct.IsProposal() {
			t.Fatalf("%s should be a proposal type", ct)
		}
	}
	directTypes := []CommandType{CmdMsg, CmdPing, CmdPong, CmdSetTopic, CmdConfirmation, CmdReject, CmdRemovePeer, CmdAddConnection, CmdInit}
	for _, ct := range directTypes {
		if ct.IsProposal() {
			t.Fatalf("%s should not be a proposal type", ct)
		}
	}
}

func TestAddConnectionPayloadRoundTrip(t *testing.T) {
	p := AddConnectionPayload{
		Connections: []Edge{{"alice", "bob"}, {"bob", "carol"}},
		NewPeers: map[string]NewPeerInfo{
			"carol": {IP: "2001:db8::1", Name: "carol", PublicKey: "deadbeef"},
		},
	}
	raw := EncodeAddConnectionPayload(p)
	got, err := DecodeAddConnectionPayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Connections) != 2 || got.Connections[0] != (Edge{"alice", "bob"}) {
		t.Fatalf("unexpected connections: %+v", got.Connections)
	}
	if got.NewPeers["carol"].IP != "2001:db8::1" {
		t.Fatalf("unexpected new peer info: %+v", got.NewPeers)
	}
}
