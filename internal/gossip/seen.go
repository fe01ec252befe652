package gossip

import (
	"sync"
	"time"
)

// SeenCache deduplicates gossip by content ID. It is bounded two ways:
// entries expire after a TTL, and when the map hits its size cap the
// oldest entries are evicted first — an unbounded seen set is a memory
// exhaustion vector.
type SeenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[Hash256]time.Time
	order   []Hash256
}

// NewSeenCache creates a cache holding at most maxSize IDs for ttl.
func NewSeenCache(ttl time.Duration, maxSize int) *SeenCache {
	return &SeenCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[Hash256]time.Time),
	}
}

// MarkSeen records id and reports whether it was already present (and
// unexpired). This is the single dedup gate every inbound gossip
// message passes before any handler runs.
func (c *SeenCache) MarkSeen(id Hash256) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked(now)

	if at, ok := c.entries[id]; ok && now.Sub(at) < c.ttl {
		return true
	}
	if _, ok := c.entries[id]; !ok {
		for len(c.entries) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, id)
	}
	c.entries[id] = now
	return false
}

func (c *SeenCache) evictExpiredLocked(now time.Time) {
	for len(c.order) > 0 {
		oldest := c.order[0]
		at, ok := c.entries[oldest]
		if ok && now.Sub(at) < c.ttl {
			return
		}
		c.order = c.order[1:]
		if ok {
			delete(c.entries, oldest)
		}
	}
}

// Len returns the number of live entries.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
