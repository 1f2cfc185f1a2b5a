package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/resilience"
	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	Burst             int
	// MaxBatchCost caps the tokens one batch request can consume
	MaxBatchCost    int
	CleanupInterval time.Duration
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		Burst:             20,
		MaxBatchCost:      50,
		CleanupInterval:   time.Hour,
	}
}

// Rate is a token allowance: Limit events per Period with up to Burst at once
type Rate struct {
	Limit  int
	Burst  int
	Period time.Duration
}

func (r Rate) burst() int {
	if r.Burst > 0 {
		return r.Burst
	}
	return r.Limit
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	breaker      *resilience.Breaker
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*fallbackEntry
	fallbackMutex    sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter with Redis and in-memory fallback
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if redisClient == nil {
		redisClient = &RedisClient{}
	}
	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		breaker:          resilience.NewBreaker("redis-rate-limit", resilience.DefaultBreakerConfig()),
		fallbackLimiters: make(map[string]*fallbackEntry),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	interval := config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go rl.cleanupFallbackLimiters(interval)

	return rl
}

// IPRate is the per-client allowance derived from the config
func (rl *RateLimiter) IPRate() Rate {
	return Rate{Limit: rl.config.RequestsPerMinute, Burst: rl.config.Burst, Period: time.Minute}
}

// BatchCost is the number of tokens a batch of n awards consumes
func (rl *RateLimiter) BatchCost(n int) int {
	if n < 1 {
		return 1
	}
	if rl.config.MaxBatchCost > 0 && n > rl.config.MaxBatchCost {
		return rl.config.MaxBatchCost
	}
	return n
}

// Allow consumes one token from key
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit Rate) (*Result, error) {
	return rl.AllowN(ctx, key, limit, 1)
}

// AllowN consumes n tokens from key, using Redis when available
func (rl *RateLimiter) AllowN(ctx context.Context, key string, limit Rate, n int) (*Result, error) {
	if limit.Limit <= 0 || limit.Period <= 0 {
		return nil, fmt.Errorf("invalid rate %d/%s", limit.Limit, limit.Period)
	}

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		var result *Result
		err := rl.breaker.Call(func() error {
			var err error
			result, err = rl.allowRedis(ctx, key, limit, n)
			return err
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, resilience.ErrOpen) {
			slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitRedisError()
			}
		}
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, limit, n), nil
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit Rate, n int) (*Result, error) {
	res, err := rl.redisLimiter.AllowN(ctx, key, redis_rate.Limit{
		Rate:   limit.Limit,
		Burst:  limit.burst(),
		Period: limit.Period,
	}, n)
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	retryAfter := res.RetryAfter
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: retryAfter,
	}, nil
}

// allowFallback uses an in-memory token bucket per key
func (rl *RateLimiter) allowFallback(key string, limit Rate, n int) *Result {
	now := time.Now()

	rl.fallbackMutex.Lock()
	entry, exists := rl.fallbackLimiters[key]
	if !exists {
		every := limit.Period / time.Duration(limit.Limit)
		entry = &fallbackEntry{limiter: rate.NewLimiter(rate.Every(every), limit.burst())}
		rl.fallbackLimiters[key] = entry
	}
	entry.lastSeen = now
	rl.fallbackMutex.Unlock()

	result := &Result{Limit: limit.Limit}

	reservation := entry.limiter.ReserveN(now, n)
	switch {
	case !reservation.OK():
		// n exceeds the burst and can never be satisfied
		result.RetryAfter = limit.Period
	case reservation.DelayFrom(now) > 0:
		result.RetryAfter = reservation.DelayFrom(now)
		reservation.CancelAt(now)
	default:
		result.Allowed = true
	}

	tokens := entry.limiter.TokensAt(now)
	result.Remaining = int(math.Max(0, math.Floor(tokens)))
	missing := float64(limit.burst()) - tokens
	result.ResetAt = now.Add(time.Duration(missing * float64(limit.Period) / float64(limit.Limit)))
	return result
}

// Reset clears the allowance for key in both backends
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	rl.fallbackMutex.Lock()
	delete(rl.fallbackLimiters, key)
	rl.fallbackMutex.Unlock()

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		if err := rl.redisLimiter.Reset(ctx, key); err != nil {
			return fmt.Errorf("failed to reset rate limit %s: %w", key, err)
		}
	}
	return nil
}

func (rl *RateLimiter) cleanupFallbackLimiters(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evictIdle(now.Add(-interval))
		}
	}
}

// evictIdle drops fallback limiters untouched since cutoff
func (rl *RateLimiter) evictIdle(cutoff time.Time) int {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	evicted := 0
	for key, entry := range rl.fallbackLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.fallbackLimiters, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("Evicted idle fallback rate limiters", "count", evicted)
	}
	return evicted
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
		"redis_breaker":     rl.breaker.Stats(),
	}
	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}
	return stats
}
