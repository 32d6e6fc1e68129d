package orchestrator

import (
	"container/list"
	"sync"
	"time"
)

const (
	helloCacheCap = 512
	helloCacheTTL = 30 * time.Second
)

// helloCache deduplicates discovery hellos from the same ip:port within
// a short window, so a peer re-broadcasting its hello every tick does
// not trigger a repeat bridge dial for every copy received.
type helloCache struct {
	mu    sync.Mutex
	hot   map[string]*list.Element
	order *list.List
}

type helloCacheEntry struct {
	addr      string
	expiresAt time.Time
}

func newHelloCache() *helloCache {
	return &helloCache{
		hot:   make(map[string]*list.Element),
		order: list.New(),
	}
}

// seen reports whether addr was already recorded within the TTL, and
// records it either way.
func (h *helloCache) seen(addr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	if el, ok := h.hot[addr]; ok {
		ent := el.Value.(*helloCacheEntry)
		ent.expiresAt = time.Now().Add(helloCacheTTL)
		h.order.MoveToFront(el)
		return true
	}
	if len(h.hot) >= helloCacheCap {
		h.evictLocked(len(h.hot) - helloCacheCap + 1)
	}
	ent := &helloCacheEntry{addr: addr, expiresAt: time.Now().Add(helloCacheTTL)}
	h.hot[addr] = h.order.PushFront(ent)
	return false
}

func (h *helloCache) pruneLocked() {
	now := time.Now()
	for el := h.order.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*helloCacheEntry)
		if ent.expiresAt.After(now) {
			el = prev
			continue
		}
		delete(h.hot, ent.addr)
		h.order.Remove(el)
		el = prev
	}
}

func (h *helloCache) evictLocked(n int) {
	for n > 0 {
		el := h.order.Back()
		if el == nil {
			return
		}
		ent := el.Value.(*helloCacheEntry)
		delete(h.hot, ent.addr)
		h.order.Remove(el)
		n--
	}
}
