package listener

import (
	"sync"

	"github.com/nexus-trading/fourmeme-hunter/internal/events"
)

// dedupCache remembers the most recent keys in a fixed ring and forgets the
// oldest once size is exceeded.
type dedupCache struct {
	mu   sync.Mutex
	seen map[events.Key]struct{}
	ring []events.Key
	head int // next slot to write, the oldest key once full
	n    int
}

func newDedupCache(size int) *dedupCache {
	if size <= 0 {
		size = 1000
	}
	return &dedupCache{
		seen: make(map[events.Key]struct{}, size),
		ring: make([]events.Key, size),
	}
}

// Add records k and reports whether it was new.
func (c *dedupCache) Add(k events.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[k]; ok {
		return false
	}
	if c.n == len(c.ring) {
		delete(c.seen, c.ring[c.head])
	} else {
		c.n++
	}
	c.ring[c.head] = k
	c.head = (c.head + 1) % len(c.ring)
	c.seen[k] = struct{}{}
	return true
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
