package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv6"

	"meshchat/internal/proto"
)

// MulticastGroup is the site-local IPv6 multicast group every peer
// joins for discovery (spec.md §4.1, §6).
const MulticastGroup = "ff12::1234"

// DiscoverySocket wraps the UDP multicast listener used for peer
// discovery hellos (spec.md §4.1).
type DiscoverySocket struct {
	conn    *net.UDPConn
	pc      *ipv6.PacketConn
	group   *net.UDPAddr
	port    int
}

// NewDiscoverySocket binds a UDP socket on port, joins MulticastGroup
// on every usable multicast-capable interface, and sets the outgoing
// multicast hop limit used for hellos.
func NewDiscoverySocket(port int) (*DiscoverySocket, error) {
	group := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: port}
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: discovery listen: %w", err)
	}
	if err := setReuseAddr(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: discovery reuseaddr: %w", err)
	}
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetMulticastHopLimit(8); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: discovery set hop limit: %w", err)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: list interfaces: %w", err)
	}
	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("transport: discovery: no interface joined multicast group")
	}
	return &DiscoverySocket{conn: conn, pc: pc, group: group, port: port}, nil
}

// SendHello multicasts a discovery hello (spec.md §6).
func (d *DiscoverySocket) SendHello(hello proto.DiscoveryHello) error {
	data, err := proto.EncodeDiscoveryHello(hello)
	if err != nil {
		return fmt.Errorf("transport: encode hello: %w", err)
	}
	if _, err := d.conn.WriteToUDP(data, d.group); err != nil {
		return fmt.Errorf("transport: send hello: %w", err)
	}
	return nil
}

// Poll does a single non-blocking read with the given deadline
// (spec.md §4.5 step 2: 1ms poll). Returns ok=false on timeout.
func (d *DiscoverySocket) Poll(deadline time.Duration) (hello proto.DiscoveryHello, from *net.UDPAddr, ok bool, err error) {
	buf := make([]byte, 4096)
	if err := d.conn.SetReadDeadline(timeNow().Add(deadline)); err != nil {
		return proto.DiscoveryHello{}, nil, false, fmt.Errorf("transport: set discovery deadline: %w", err)
	}
	n, addr, readErr := d.conn.ReadFromUDP(buf)
	if readErr != nil {
		if isTimeout(readErr) {
			return proto.DiscoveryHello{}, nil, false, nil
		}
		return proto.DiscoveryHello{}, nil, false, fmt.Errorf("transport: discovery read: %w", readErr)
	}
	hello, err = proto.DecodeDiscoveryHello(buf[:n])
	if err != nil {
		return proto.DiscoveryHello{}, addr, false, err
	}
	return hello, addr, true, nil
}

// Close releases the discovery socket.
func (d *DiscoverySocket) Close() error {
	return d.conn.Close()
}
