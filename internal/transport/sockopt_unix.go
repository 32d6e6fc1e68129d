//go:build unix

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// setReuseAddr sets SO_REUSEADDR (and SO_REUSEPORT where available) on
// conn's underlying file descriptor so multiple local discovery
// listeners can bind the same multicast port during tests.
func setReuseAddr(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("transport: syscall conn: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = e
			return
		}
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return fmt.Errorf("transport: control fd: %w", err)
	}
	return sockErr
}
