package transport

import (
	"net"
	"time"
)

// timeNow is a seam for tests; production code always uses time.Now.
var timeNow = time.Now

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
