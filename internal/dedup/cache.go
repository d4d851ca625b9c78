package dedup

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 2000
	defaultTTL        = 15 * time.Minute
)

type entry struct {
	id        string
	firstSeen time.Time
}

// Cache is a bounded, time-windowed set of message IDs. It is the sole
// defense against the at-least-once retransmit protocol delivering the same
// message to the application twice.
type Cache struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	order *list.List               // oldest insertion at the front
	index map[string]*list.Element // message_id -> element in order
	now   func() time.Time
}

func NewCache() *Cache {
	return NewCacheWith(defaultMaxEntries, defaultTTL)
}

func NewCacheWith(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		max:   maxEntries,
		ttl:   ttl,
		order: list.New(),
		index: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Seen reports whether id was already recorded within the TTL window,
// recording it on a miss. Expired entries are pruned opportunistically and
// the oldest insertion is evicted once the cache is over capacity.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if _, ok := c.index[id]; ok {
		return true
	}
	c.index[id] = c.order.PushBack(entry{id: id, firstSeen: now})
	if c.order.Len() > c.max {
		c.evictOldestLocked()
	}
	return false
}

// Len reports the number of tracked IDs, for diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) pruneLocked(now time.Time) {
	for el := c.order.Front(); el != nil; {
		ent := el.Value.(entry)
		if now.Sub(ent.firstSeen) <= c.ttl {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, ent.id)
		el = next
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Front()
	if el == nil {
		return
	}
	ent := el.Value.(entry)
	c.order.Remove(el)
	delete(c.index, ent.id)
}
