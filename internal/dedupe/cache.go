// ABOUTME: TTL cache suppressing duplicate synced message ids
// ABOUTME: Bounds memory with FIFO eviction; safe for concurrent webhook handlers

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores when a message id was first seen plus its eviction-list node.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers recently processed message ids so overlapping sync pulls do
// not relay the same message twice. Oldest ids are evicted first when the
// cache is full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int

	now func() time.Time
}

// New creates a cache holding at most maxSize ids for at most ttl each.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen atomically reports whether id was already recorded and records it if
// not. A single call site avoids check-then-mark races between concurrent
// sync pulls.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		if c.now().Sub(e.seenAt) < c.ttl {
			return true
		}
		// Expired: treat as fresh
		e.seenAt = c.now()
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.entries[id] = &entry{seenAt: c.now(), element: elem}
	return false
}

// Sweep drops all expired entries. Called opportunistically by the relay's
// maintenance loop rather than from a cache-owned goroutine.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.seenAt) >= c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the oldest tracked id. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, id)
}
