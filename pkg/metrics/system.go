package metrics

import (
	"context"
	"runtime"
	"time"
)

// CollectSystemStats samples runtime memory, goroutine and GC pause figures.
func CollectSystemStats() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	UpdateSystemMemoryUsage(ms.Alloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > 0 {
		last := ms.PauseNs[(ms.NumGC+255)%256]
		RecordSystemGCPauseTime(float64(last) / float64(time.Millisecond))
	}
}

// RunSystemCollector samples system stats every refresh interval until ctx
// is done. It returns immediately when metrics are disabled.
func RunSystemCollector(ctx context.Context) {
	if !globalManager.enabled {
		return
	}
	ticker := time.NewTicker(globalManager.refreshInterval)
	defer ticker.Stop()
	for {
		CollectSystemStats()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
