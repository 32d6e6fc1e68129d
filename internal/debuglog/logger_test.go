package debuglog

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoggerDebugGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, &sync.Mutex{}, false)
	l.Debugf("hidden")
	l.Infof("visible")
	l.Drain()
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked with debug=false: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("missing info line: %q", out)
	}
}

func TestLoggerDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, &sync.Mutex{}, true)
	l.Debugf("shown")
	l.Drain()
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug line missing with debug=true: %q", buf.String())
	}
}

func TestRateLimitedfSuppressesBursts(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, &sync.Mutex{}, false)
	for i := 0; i < 5; i++ {
		l.RateLimitedf("peer-a", time.Minute, "reconnect attempt")
	}
	l.Drain()
	if n := strings.Count(buf.String(), "reconnect attempt"); n != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", n, buf.String())
	}
}
