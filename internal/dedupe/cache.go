package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers the IDs of recently annotated documents so redelivered
// messages are not sent to TagMe twice. It is bounded by capacity and ttl.
type Cache struct {
	mu       sync.Mutex
	index    map[string]*list.Element
	lru      *list.List // front is the most recently marked key
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		index:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Contains reports whether key was marked within the ttl window.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return false
	}
	if c.now().Sub(el.Value.(*entry).seenAt) > c.ttl {
		c.remove(el)
		return false
	}
	return true
}

// Mark records key as processed, evicting expired and surplus keys.
func (c *Cache) Mark(key string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seenAt = now
		c.lru.MoveToFront(el)
	} else {
		c.index[key] = c.lru.PushFront(&entry{key: key, seenAt: now})
	}

	cutoff := now.Add(-c.ttl)
	for back := c.lru.Back(); back != nil; back = c.lru.Back() {
		if c.lru.Len() <= c.capacity && !back.Value.(*entry).seenAt.Before(cutoff) {
			break
		}
		c.remove(back)
	}
}

// Len returns the number of keys currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}
