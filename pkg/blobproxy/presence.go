package blobproxy

import (
	"container/list"
	"sync"

	"github.com/jacktea/blobd/pkg/blob"
)

// presenceCache remembers which keys were recently confirmed present on
// local disk, so a repeat Get can skip the stat call on the hot path. It
// is purely an optimization: a miss here always falls through to a real
// Lookup, and a stale hit is harmless because Lookup is re-verified by
// the caller before any data is returned to read-through code.
type presenceCache struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[blob.Key]*list.Element
	capacity int
}

func newPresenceCache(capacity int) *presenceCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &presenceCache{
		ll:       list.New(),
		items:    make(map[blob.Key]*list.Element),
		capacity: capacity,
	}
}

func (c *presenceCache) has(key blob.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		return false
	}
	c.ll.MoveToFront(ele)
	return true
}

func (c *presenceCache) mark(key blob.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		return
	}
	if c.ll.Len() >= c.capacity {
		if oldest := c.ll.Back(); oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(blob.Key))
		}
	}
	c.items[key] = c.ll.PushFront(key)
}
