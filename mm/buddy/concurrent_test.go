package buddy

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/bytedance/gopkg/util/gopool"
)

// TestIndependentZoneSimulations drives many independent buddy zones
// concurrently through bytedance/gopkg's goroutine pool, verifying each
// converges to quiescence on its own without interfering with the others'
// free-area state. Each zone is internally single-threaded, as this package
// requires; the pool only parallelises across zones, never within one.
func TestIndependentZoneSimulations(t *testing.T) {
	const zones = 16
	stride := unsafe.Sizeof(PageDescriptor{})
	rootBlock := uint32(1) << (MaxOrder - 1)

	gp := gopool.NewPool("zones", zones, gopool.NewConfig())
	var wg sync.WaitGroup
	wg.Add(zones)
	for z := 0; z < zones; z++ {
		gp.Go(func() {
			defer wg.Done()
			arena := make([]byte, uintptr(rootBlock)*stride)
			inst, err := New("zone", arena, 0, stride, rootBlock)
			require.NoError(t, err)

			var live []*PageDescriptor
			for i := 0; i < 200; i++ {
				order := i % MaxOrder
				if d := inst.AllocPages(order); d != nil {
					live = append(live, d)
				}
				if len(live) > 4 {
					inst.FreePages(live[0])
					live = live[1:]
				}
			}
			for _, d := range live {
				inst.FreePages(d)
			}
			require.Equal(t, inst.TotalSpace(), inst.FreeSpace())
		})
	}
	wg.Wait()
}

// benchmarkZones drives a small buddy-zone simulation through the given
// dispatcher, comparing bytedance/gopkg's util/gopool against plain
// unpooled goroutines for the many-independent-zones workload.
func benchmarkZones(b *testing.B, dispatch func(func())) {
	stride := unsafe.Sizeof(PageDescriptor{})
	rootBlock := uint32(1) << (MaxOrder - 1)

	b.RunParallel(func(pb *testing.PB) {
		var wg sync.WaitGroup
		for pb.Next() {
			wg.Add(1)
			dispatch(func() {
				defer wg.Done()
				arena := make([]byte, uintptr(rootBlock)*stride)
				inst, _ := New("zone", arena, 0, stride, rootBlock)
				d := inst.AllocPages(3)
				if d != nil {
					inst.FreePages(d)
				}
			})
			wg.Wait()
		}
	})
}

func BenchmarkZonesGoPool(b *testing.B) {
	gp := gopool.NewPool("BenchmarkZonesGoPool", 1<<20, gopool.NewConfig())
	benchmarkZones(b, func(f func()) { gp.Go(f) })
}

func BenchmarkZonesPlainGoroutines(b *testing.B) {
	benchmarkZones(b, func(f func()) { go f() })
}
