package pagecache

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelkit/kcore/mm/buddy"
)

func newTestCache(t *testing.T, rootBlocks uint32) (*buddy.Instance, *Cache) {
	t.Helper()
	stride := unsafe.Sizeof(buddy.PageDescriptor{})
	pages := rootBlocks << (buddy.MaxOrder - 1)
	arena := make([]byte, uintptr(pages)*stride)
	inst, err := buddy.New("z", arena, 0, stride, pages)
	require.NoError(t, err)
	return inst, New(inst)
}

// S2: the first AllocCached on an empty cache refills it to Mid; returning
// every page leaves the depth between Mid and High.
func TestCacheHysteresis(t *testing.T) {
	_, c := newTestCache(t, 4)

	var pages []*buddy.PageDescriptor
	for i := 0; i < Low+1; i++ {
		pages = append(pages, c.AllocCached())
	}
	// first AllocCached saw an empty cache (0 < Low) and refilled to Mid,
	// so after draining Low+1 pages the cache should hold Mid-(Low+1).
	assert.Equal(t, Mid-(Low+1), c.Len())

	for _, p := range pages {
		c.FreeCached(p)
	}
	assert.LessOrEqual(t, c.Len(), High)
	assert.GreaterOrEqual(t, c.Len(), Mid)
}

// Property 5: the cache depth never exceeds High nor is allowed to starve
// AllocCached while the underlying zone still has free pages.
func TestCacheBounds(t *testing.T) {
	_, c := newTestCache(t, 4)

	for i := 0; i < High+20; i++ {
		c.FreeCached(c.AllocCached())
		assert.LessOrEqual(t, c.Len(), High)
	}
}

func TestAllocCachedPanicsWhenZoneExhausted(t *testing.T) {
	_, c := newTestCache(t, 1)

	var pages []*buddy.PageDescriptor
	assert.Panics(t, func() {
		for {
			pages = append(pages, c.AllocCached())
		}
	})
}
