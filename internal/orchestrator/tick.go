package orchestrator

import (
	"net"
	"strconv"
	"time"

	"meshchat/internal/command"
	"meshchat/internal/proto"
	"meshchat/internal/transport"
)

// pollTimeout is the non-blocking poll budget for steps 2 and 3 of the
// tick (spec.md §4.5): small enough that a quiet tick never stalls the
// single-threaded loop.
const pollTimeout = 1 * time.Millisecond

// Tick runs one pass of the cooperative event loop (spec.md §4.5):
// drain one pending user command, poll the discovery socket, then
// poll the peer sockets. cmd/meshchat calls this in a loop; links and
// discovery may be nil before the transport finishes bootstrapping.
func (c *Client) Tick(pending chan command.Command, links *transport.Links, disco *transport.DiscoverySocket) {
	select {
	case cmd := <-pending:
		if msg, err := c.HandleCommand(cmd); err != nil {
			c.log.Errorf("command failed: %v", err)
		} else if msg != "" {
			c.log.Infof("%s", msg)
		}
	default:
	}

	if disco != nil {
		if hello, _, ok, err := disco.Poll(pollTimeout); err != nil {
			c.log.Errorf("discovery poll: %v", err)
		} else if ok {
			if err := c.HandleDiscoveryHello(hello); err != nil {
				c.log.Errorf("discovery hello from %s: %v", hello.IP, err)
			}
		}
	}

	if links == nil {
		return
	}
	frames, lost := links.PollPeers(pollTimeout)
	for _, frame := range frames {
		if err := c.HandleFrame(frame); err != nil {
			c.log.Errorf("frame from %s: %v", frame.Hostname, err)
		}
	}
	for _, hostname := range lost {
		c.reconcileLostPeer(hostname, links)
	}

	if err := c.checkUnderconnection(); err != nil {
		c.log.Errorf("underconnection check: %v", err)
	}
}

// reconcileLostPeer runs the reconnect window (spec.md §4.1): the
// lexicographically smaller hostname listens, the other dials. After a
// failed reconnect a REMOVEPEER envelope is flooded to the remaining
// neighbors and applied locally at once (REMOVEPEER is not a proposal).
func (c *Client) reconcileLostPeer(hostname string, links *transport.Links) {
	links.Drop(hostname)

	reconnected := false
	if transport.ListensForReconnect(c.Hostname, hostname) {
		peer, ok, err := links.AcceptFor(transport.ReconnectWindow)
		reconnected = err == nil && ok && peer == hostname
	} else if addr, ok := c.ips.Get(hostname); ok {
		reconnected = c.dialReconnect(hostname, addr, links)
	}

	if reconnected {
		c.metrics.IncReconnects()
		return
	}

	env := proto.Envelope{
		ID:        c.nextID(),
		Origin:    c.Hostname,
		Timestamp: nowMillis(),
		Type:      proto.CmdRemovePeer,
		Payload:   proto.EncodeRemovePeerPayload(hostname),
	}
	if err := c.flood(env, ""); err != nil {
		c.log.Errorf("flood removepeer for %s: %v", hostname, err)
	}
	if err := c.applyRemovePeer(env); err != nil {
		c.log.Errorf("apply removepeer for %s: %v", hostname, err)
	}
}

func (c *Client) dialReconnect(hostname, addr string, links *transport.Links) bool {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	deadline := time.Now().Add(transport.ReconnectWindow)
	for time.Now().Before(deadline) {
		if got, err := links.Connect(host, port); err == nil && got == hostname {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
