// Package pagecache layers a single-page LIFO cache, with watermark
// hysteresis, on top of a buddy zone. It exists to absorb bursts of
// order-0 alloc/free churn without hammering the buddy free lists on
// every call.
package pagecache

import (
	"github.com/kernelkit/kcore/mm/buddy"
)

// Watermarks, in pages, that drive refill/drain. When the cache drops below
// Low it is refilled up to Mid; when it grows past High it is drained
// back down to Mid.
const (
	Low  = 10
	Mid  = 40
	High = 70
)

// Cache is a stack of order-0 pages threaded through the buddy
// descriptors' CacheNext/CachePrev links, disjoint from the buddy
// allocator's own free-area siblings link. Pages are pushed and popped at
// the front, so the most recently cached page is handed out (or drained)
// first.
type Cache struct {
	inst *buddy.Instance

	head  int32 // -1 when empty
	tail  int32
	count int
}

// New creates a page cache over inst, starting empty: the first
// AllocCached call refills it from the underlying zone.
func New(inst *buddy.Instance) *Cache {
	return &Cache{inst: inst, head: -1, tail: -1}
}

func (c *Cache) pushFront(idx uint32) {
	d := c.inst.DescAt(idx)
	d.CacheNext = c.head
	d.CachePrev = -1
	if c.head != -1 {
		c.inst.DescAt(uint32(c.head)).CachePrev = int32(idx)
	} else {
		c.tail = int32(idx)
	}
	c.head = int32(idx)
	c.count++
}

func (c *Cache) popFront() (uint32, bool) {
	if c.head == -1 {
		return 0, false
	}
	idx := uint32(c.head)
	d := c.inst.DescAt(idx)
	c.head = d.CacheNext
	if c.head != -1 {
		c.inst.DescAt(uint32(c.head)).CachePrev = -1
	} else {
		c.tail = -1
	}
	d.CacheNext = -1
	d.CachePrev = -1
	c.count--
	return idx, true
}

// refill pulls single pages from the buddy zone until the cache reaches
// Mid pages, or the zone is exhausted.
func (c *Cache) refill() {
	for c.count < Mid {
		d := c.inst.AllocPages(0)
		if d == nil {
			return
		}
		c.pushFront(c.inst.IndexOf(d))
	}
}

// drain returns pages to the buddy zone until the cache shrinks back to
// Mid pages.
func (c *Cache) drain() {
	for c.count > Mid {
		idx, ok := c.popFront()
		if !ok {
			return
		}
		c.inst.FreePages(c.inst.DescAt(idx))
	}
}

// AllocCached returns a single page from the cache, refilling from the
// underlying buddy zone first if the cache has dropped below Low. Panics if
// the cache is empty and the underlying zone cannot supply a refill: a
// cache miss with nothing behind it is an unrecoverable allocation
// failure, not a condition this layer can propagate any other way.
func (c *Cache) AllocCached() *buddy.PageDescriptor {
	if c.count < Low {
		c.refill()
	}
	idx, ok := c.popFront()
	if !ok {
		panic("pagecache: zone exhausted, cache empty")
	}
	return c.inst.DescAt(idx)
}

// FreeCached pushes a single page onto the cache, then drains to the
// underlying buddy zone if the cache has grown past High.
func (c *Cache) FreeCached(page *buddy.PageDescriptor) {
	c.pushFront(c.inst.IndexOf(page))
	if c.count > High {
		c.drain()
	}
}

// CachedSpace returns the number of bytes currently held in the cache.
func (c *Cache) CachedSpace() uint64 {
	return uint64(c.count) * buddy.PageSize
}

// Len reports the current cache depth in pages, for tests and diagnostics.
func (c *Cache) Len() int {
	return c.count
}
