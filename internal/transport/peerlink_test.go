package transport

import (
	"net"
	"testing"
	"time"

	"meshchat/internal/proto"
)

func newTestLinks() *Links {
	return &Links{
		conns: make(map[string]net.Conn),
		addrs: make(map[string]string),
	}
}

func TestLinksSendAndPollRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	l := newTestLinks()
	l.conns["B"] = client

	env := proto.Envelope{ID: "A-1", Origin: "A", Type: proto.CmdMsg, Payload: proto.EncodeTextPayload("chat", "hello")}
	payload, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- proto.WriteFrame(server, payload)
	}()

	frames, lost := l.PollPeers(200 * time.Millisecond)
	if err := <-done; err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if len(lost) != 0 {
		t.Fatalf("expected no lost peers, got %v", lost)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	if frames[0].Hostname != "B" {
		t.Fatalf("expected frame tagged with B, got %q", frames[0].Hostname)
	}
	got, err := proto.DecodeEnvelope(frames[0].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "A-1" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestLinksPollPeersTimesOutWithoutData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	l := newTestLinks()
	l.conns["B"] = client

	frames, lost := l.PollPeers(10 * time.Millisecond)
	if len(frames) != 0 || len(lost) != 0 {
		t.Fatalf("expected no frames and no losses on idle link, got %v %v", frames, lost)
	}
}

func TestLinksPollPeersDetectsEOF(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	l := newTestLinks()
	l.conns["B"] = client
	server.Close()

	frames, lost := l.PollPeers(200 * time.Millisecond)
	if len(frames) != 0 {
		t.Fatalf("expected no frames on closed link, got %v", frames)
	}
	if len(lost) != 1 || lost[0] != "B" {
		t.Fatalf("expected B reported lost, got %v", lost)
	}
}

func TestLinksNeighborsAndDrop(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	l := newTestLinks()
	l.conns["B"] = client

	neighbors := l.Neighbors()
	if len(neighbors) != 1 || neighbors[0] != "B" {
		t.Fatalf("expected [B], got %v", neighbors)
	}
	l.Drop("B")
	if len(l.Neighbors()) != 0 {
		t.Fatalf("expected no neighbors after drop")
	}
}

func TestListensForReconnectLexicographic(t *testing.T) {
	if !ListensForReconnect("A", "B") {
		t.Fatalf("expected A (lexicographically smaller) to listen")
	}
	if ListensForReconnect("B", "A") {
		t.Fatalf("expected B not to listen when A is smaller")
	}
}

func TestSendSkipsUnknownTargets(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	l := newTestLinks()
	l.conns["B"] = client

	env := proto.Envelope{ID: "A-1", Origin: "A", Type: proto.CmdPing, Payload: proto.EncodePingPongPayload("B", 0)}

	go func() {
		proto.ReadFrame(server)
	}()

	err := l.Send(env, map[string]struct{}{"B": {}, "unknown": {}})
	if err != nil {
		t.Fatalf("expected send to known target to succeed despite unknown target, got %v", err)
	}
}
