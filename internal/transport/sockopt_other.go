//go:build !unix

package transport

import "net"

// setReuseAddr is a no-op on non-Unix platforms; SO_REUSEPORT-style
// tuning is a Unix-specific convenience for running multiple discovery
// listeners in tests, not required for correctness.
func setReuseAddr(conn *net.UDPConn) error {
	return nil
}
