package orchestrator

import "time"

// nowMillis is a seam so PING timestamps are deterministic in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }
