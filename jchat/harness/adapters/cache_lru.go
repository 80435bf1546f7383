package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// LRUCache is a bounded in-memory cache. A ttl of zero or less never expires.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time // zero means no expiry
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns a copy of the value stored under key.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}

	c.order.MoveToFront(el)
	return append([]byte(nil), entry.value...), true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttlSeconds > 0 {
		expires = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	stored := append([]byte(nil), value...)

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = stored
		entry.expires = expires
		c.order.MoveToFront(el)
		return nil
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: stored, expires: expires})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	return nil
}

// Delete drops key. Missing keys are not an error.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	return nil
}

// Len reports the number of live and expired-but-unreaped entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

var _ ports.Cache = (*LRUCache)(nil)
