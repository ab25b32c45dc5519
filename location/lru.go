package location

import (
	"container/list"

	"github.com/nevindra/vtrt"
)

// lru is a fixed-capacity, least-recently-used cache from EntityID to
// NodeID, used for the location manager's learned-location table: bounded
// storage for current locations learned from replies, with LRU eviction.
type lru struct {
	capacity int
	items    map[vtrt.EntityID]*list.Element
	order    *list.List // front = most recently used
}

type lruEntry struct {
	key vtrt.EntityID
	val vtrt.NodeID
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = 1
	}
	return &lru{
		capacity: capacity,
		items:    make(map[vtrt.EntityID]*list.Element),
		order:    list.New(),
	}
}

func (c *lru) get(key vtrt.EntityID) (vtrt.NodeID, bool) {
	el, ok := c.items[key]
	if !ok {
		return 0, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).val, true
}

func (c *lru) put(key vtrt.EntityID, val vtrt.NodeID) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).val = val
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, val: val})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}

func (c *lru) len() int { return c.order.Len() }
