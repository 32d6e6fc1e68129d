package transport

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"meshchat/internal/proto"
)

// ConnectTimeout bounds an outbound peer-link dial (spec.md §4.1).
const ConnectTimeout = 7 * time.Second

// MaxInboundPeers is the degree cap: only this many inbound peer
// sockets are ever accepted at once (spec.md §4.1).
const MaxInboundPeers = 3

// Frame is one decoded inbound message, tagged with the hostname of
// the link it arrived on.
type Frame struct {
	Hostname string
	Payload  []byte
}

// Links owns every peer-link TCP socket: the listener accepting
// inbound connections and the map of established links, keyed by the
// neighbor's hostname (spec.md §4.1's hostnameSockets/hostnamePort).
type Links struct {
	mu           sync.Mutex
	listener     net.Listener
	conns        map[string]net.Conn
	addrs        map[string]string
	inboundCount int
}

// Listen opens the peer-link server socket on port.
func Listen(port int) (*Links, error) {
	ln, err := net.Listen("tcp6", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("transport: peer link listen: %w", err)
	}
	return &Links{
		listener: ln,
		conns:    make(map[string]net.Conn),
		addrs:    make(map[string]string),
	}, nil
}

// Connect dials a peer at ip:port, looks up its hostname by reverse
// DNS, and registers the link. Fails if the connect attempt exceeds
// ConnectTimeout.
func (l *Links) Connect(ip string, port int) (string, error) {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp6", addr, ConnectTimeout)
	if err != nil {
		return "", fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	hostname, err := reverseLookup(ip)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("transport: reverse lookup %s: %w", ip, err)
	}
	l.mu.Lock()
	l.conns[hostname] = conn
	l.addrs[hostname] = addr
	l.mu.Unlock()
	return hostname, nil
}

// AcceptFor blocks up to d waiting for a single inbound connection,
// used by the reconnect window (spec.md §4.1). Returns ok=false on
// timeout. Refuses once MaxInboundPeers
// inbound sockets are already registered.
func (l *Links) AcceptFor(d time.Duration) (string, bool, error) {
	l.mu.Lock()
	if l.inboundCount >= MaxInboundPeers {
		l.mu.Unlock()
		return "", false, nil
	}
	l.mu.Unlock()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", false, fmt.Errorf("transport: accept: %w", r.err)
		}
		host, _, err := net.SplitHostPort(r.conn.RemoteAddr().String())
		if err != nil {
			r.conn.Close()
			return "", false, fmt.Errorf("transport: split remote addr: %w", err)
		}
		hostname, err := reverseLookup(host)
		if err != nil {
			r.conn.Close()
			return "", false, fmt.Errorf("transport: reverse lookup %s: %w", host, err)
		}
		l.mu.Lock()
		l.conns[hostname] = r.conn
		l.addrs[hostname] = r.conn.RemoteAddr().String()
		l.inboundCount++
		l.mu.Unlock()
		return hostname, true, nil
	case <-time.After(d):
		return "", false, nil
	}
}

// reverseLookup resolves ip to a hostname, trimming the trailing dot
// net.LookupAddr leaves on FQDNs.
func reverseLookup(ip string) (string, error) {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return "", fmt.Errorf("no PTR record for %s", ip)
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// Send encodes env and writes it to every hostname in targets,
// skipping unknown hostnames. The first write error is returned after
// attempting every target so one dead link doesn't block the rest.
func (l *Links) Send(env proto.Envelope, targets map[string]struct{}) error {
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}
	l.mu.Lock()
	conns := make(map[string]net.Conn, len(targets))
	for hostname := range targets {
		if conn, ok := l.conns[hostname]; ok {
			conns[hostname] = conn
		}
	}
	l.mu.Unlock()

	var firstErr error
	for hostname, conn := range conns {
		if err := proto.WriteFrame(conn, payload); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("transport: send to %s: %w", hostname, err)
			}
		}
	}
	return firstErr
}

// PollPeers does a single non-blocking-ish read pass over every
// established link with a short per-socket deadline (spec.md §4.5
// step 3: 1ms poll), returning any frames that completed and the set
// of hostnames whose link returned EOF (peer loss, spec.md §4.1/§7).
func (l *Links) PollPeers(deadline time.Duration) (frames []Frame, lost []string) {
	l.mu.Lock()
	conns := make(map[string]net.Conn, len(l.conns))
	for h, c := range l.conns {
		conns[h] = c
	}
	l.mu.Unlock()

	for hostname, conn := range conns {
		conn.SetReadDeadline(timeNow().Add(deadline))
		payload, err := proto.ReadFrame(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			lost = append(lost, hostname)
			continue
		}
		frames = append(frames, Frame{Hostname: hostname, Payload: payload})
	}
	return frames, lost
}

// Neighbors returns the hostnames of every currently-established link.
func (l *Links) Neighbors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.conns))
	for h := range l.conns {
		out = append(out, h)
	}
	return out
}

// Drop closes and forgets the link to hostname, used when a link
// reports EOF, before the reconnect window runs.
func (l *Links) Drop(hostname string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conn, ok := l.conns[hostname]; ok {
		conn.Close()
		delete(l.conns, hostname)
		delete(l.addrs, hostname)
	}
}

// CloseAll shuts down the listener and every established link,
// per QUIT's synchronous socket close (spec.md §5).
func (l *Links) CloseAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, conn := range l.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.conns = make(map[string]net.Conn)
	l.addrs = make(map[string]string)
	if err := l.listener.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Port returns the TCP port the listener is bound to.
func (l *Links) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}
