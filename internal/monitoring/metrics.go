package monitoring

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const maxResponseSamples = 1000

// Metrics holds in-process counters for /metrics/stats. Every recorder also
// feeds the matching Prometheus collector.
type Metrics struct {
	RequestCount    int64
	ErrorCount      int64
	CacheHits       int64
	CacheMisses     int64
	AwardsScored    int64
	ScoringFailures int64
	BatchRuns       int64
	StartTime       time.Time

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	// assessments by band and by primary category
	BandCounts     map[string]int64
	CategoryCounts map[string]int64
	ScoringMutex   sync.RWMutex

	GCCount        int64
	GCPauseTotalNs int64
	HeapAlloc      int64
	HeapSys        int64

	RateLimitIPBlocks      int64
	RateLimitUserBlocks    int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:            time.Now(),
		ResponseTimes:        make([]time.Duration, 0, maxResponseSamples),
		RequestCountByStatus: make(map[int]int64),
		BandCounts:           make(map[string]int64),
		CategoryCounts:       make(map[string]int64),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
	cacheRequestsTotal.WithLabelValues("hit").Inc()
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
	cacheRequestsTotal.WithLabelValues("miss").Inc()
}

// RecordAssessment counts one produced assessment
func (m *Metrics) RecordAssessment(mode, primary, band string) {
	atomic.AddInt64(&m.AwardsScored, 1)
	awardsScoredTotal.WithLabelValues(mode, band).Inc()

	m.ScoringMutex.Lock()
	m.BandCounts[band]++
	m.CategoryCounts[primary]++
	m.ScoringMutex.Unlock()
}

// RecordScoringFailure counts one award that could not be scored
func (m *Metrics) RecordScoringFailure(mode string) {
	atomic.AddInt64(&m.ScoringFailures, 1)
	scoringFailuresTotal.WithLabelValues(mode).Inc()
}

// RecordScoringDuration records the latency of one score or batch request
func (m *Metrics) RecordScoringDuration(duration time.Duration, batch bool) {
	if batch {
		atomic.AddInt64(&m.BatchRuns, 1)
	}
	scoringLatency.Observe(duration.Seconds())
}

// RecordResponseTime records response time for percentiles
func (m *Metrics) RecordResponseTime(route string, duration time.Duration) {
	httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if len(m.ResponseTimes) > maxResponseSamples {
		m.ResponseTimes = m.ResponseTimes[1:]
	}
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(method, route string, statusCode int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()

	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// RecordGCMetrics records Go garbage collector metrics
func (m *Metrics) RecordGCMetrics(gcCount int64, gcPauseTotalNs int64, heapAlloc, heapSys int64) {
	atomic.StoreInt64(&m.GCCount, gcCount)
	atomic.StoreInt64(&m.GCPauseTotalNs, gcPauseTotalNs)
	atomic.StoreInt64(&m.HeapAlloc, heapAlloc)
	atomic.StoreInt64(&m.HeapSys, heapSys)
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()

	if len(m.ResponseTimes) == 0 {
		return 0
	}

	times := make([]time.Duration, len(m.ResponseTimes))
	copy(times, m.ResponseTimes)
	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * percentile / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.RequestCountByStatus))
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetScoringStats returns assessment counts by band and primary category
func (m *Metrics) GetScoringStats() map[string]interface{} {
	m.ScoringMutex.RLock()
	bands := make(map[string]int64, len(m.BandCounts))
	for k, v := range m.BandCounts {
		bands[k] = v
	}
	categories := make(map[string]int64, len(m.CategoryCounts))
	for k, v := range m.CategoryCounts {
		categories[k] = v
	}
	m.ScoringMutex.RUnlock()

	return map[string]interface{}{
		"awards_scored":    atomic.LoadInt64(&m.AwardsScored),
		"scoring_failures": atomic.LoadInt64(&m.ScoringFailures),
		"batch_runs":       atomic.LoadInt64(&m.BatchRuns),
		"by_band":          bands,
		"by_category":      categories,
	}
}

// GetRateLimitStats returns rate limiting statistics
func (m *Metrics) GetRateLimitStats() map[string]interface{} {
	return map[string]interface{}{
		"ip_blocks":      atomic.LoadInt64(&m.RateLimitIPBlocks),
		"user_blocks":    atomic.LoadInt64(&m.RateLimitUserBlocks),
		"redis_errors":   atomic.LoadInt64(&m.RateLimitRedisErrors),
		"fallback_count": atomic.LoadInt64(&m.RateLimitFallbackCount),
	}
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	heapAlloc := atomic.LoadInt64(&m.HeapAlloc)
	heapSys := atomic.LoadInt64(&m.HeapSys)
	heapUsage := float64(0)
	if heapSys > 0 {
		heapUsage = float64(heapAlloc) / float64(heapSys) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.StartTime).Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"start_time":             m.StartTime.Format(time.RFC3339),

		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1e6,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1e6,
		"p99_response_time_ms":     float64(m.GetPercentileResponseTime(99)) / 1e6,
		"status_code_distribution": m.GetStatusCodeDistribution(),

		"scoring":    m.GetScoringStats(),
		"rate_limit": m.GetRateLimitStats(),

		"go_gc_count":           atomic.LoadInt64(&m.GCCount),
		"go_gc_pause_total_ns":  atomic.LoadInt64(&m.GCPauseTotalNs),
		"go_heap_alloc_bytes":   heapAlloc,
		"go_heap_sys_bytes":     heapSys,
		"go_heap_usage_percent": heapUsage,
	}
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
	rateLimitBlocksTotal.WithLabelValues("ip").Inc()
}

// IncrementRateLimitUserBlock increments user-based rate limit blocks
func (m *Metrics) IncrementRateLimitUserBlock() {
	atomic.AddInt64(&m.RateLimitUserBlocks, 1)
	rateLimitBlocksTotal.WithLabelValues("user").Inc()
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// Reset resets the in-process counters. Prometheus collectors are cumulative and untouched.
func (m *Metrics) Reset() {
	for _, p := range []*int64{
		&m.RequestCount, &m.ErrorCount, &m.CacheHits, &m.CacheMisses,
		&m.AwardsScored, &m.ScoringFailures, &m.BatchRuns,
		&m.GCCount, &m.GCPauseTotalNs, &m.HeapAlloc, &m.HeapSys,
		&m.RateLimitIPBlocks, &m.RateLimitUserBlocks, &m.RateLimitRedisErrors, &m.RateLimitFallbackCount,
	} {
		atomic.StoreInt64(p, 0)
	}

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = m.ResponseTimes[:0]
	m.ResponseTimesMutex.Unlock()

	m.StatusMutex.Lock()
	m.RequestCountByStatus = make(map[int]int64)
	m.StatusMutex.Unlock()

	m.ScoringMutex.Lock()
	m.BandCounts = make(map[string]int64)
	m.CategoryCounts = make(map[string]int64)
	m.ScoringMutex.Unlock()

	m.StartTime = time.Now()
}
