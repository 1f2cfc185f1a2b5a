package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// MemorySampler periodically copies runtime memory statistics into Metrics.
// Training and large batches are the heavy consumers; a heap above
// warnHeapBytes is logged.
type MemorySampler struct {
	metrics       *Metrics
	logger        *Logger
	interval      time.Duration
	warnHeapBytes uint64
}

// NewMemorySampler creates a sampler. A zero warnHeapBytes disables the warning.
func NewMemorySampler(metrics *Metrics, logger *Logger, interval time.Duration, warnHeapBytes uint64) *MemorySampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MemorySampler{
		metrics:       metrics,
		logger:        logger,
		interval:      interval,
		warnHeapBytes: warnHeapBytes,
	}
}

// Run samples until ctx is done
func (s *MemorySampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample records one snapshot
func (s *MemorySampler) Sample() runtime.MemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.metrics.RecordGCMetrics(int64(ms.NumGC), int64(ms.PauseTotalNs), int64(ms.HeapAlloc), int64(ms.HeapSys))

	if s.warnHeapBytes > 0 && ms.HeapAlloc > s.warnHeapBytes && s.logger != nil {
		s.logger.SystemLogger("memory_pressure", fmt.Sprintf(
			"heap:%dMB/%dMB gc:%d goroutines:%d threshold:%dMB",
			ms.HeapAlloc/(1024*1024),
			ms.HeapSys/(1024*1024),
			ms.NumGC,
			runtime.NumGoroutine(),
			s.warnHeapBytes/(1024*1024),
		))
	}
	return ms
}
