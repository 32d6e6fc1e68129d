package transport

import "time"

// ReconnectWindow is how long the reconnect attempt gets before a peer
// loss becomes a REMOVEPEER commit (spec.md §4.1).
const ReconnectWindow = 1 * time.Second

// ListensForReconnect reports whether self is the side that waits for
// an inbound reconnect rather than dialing out: the peer with the
// lexicographically-smaller hostname listens (spec.md §4.1).
func ListensForReconnect(self, lost string) bool {
	return self < lost
}
