package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisDisabled = errors.New("redis rate limit store disabled")

// RedisOptions locates the shared rate limit store
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// Timeout bounds dialing, each command and the startup ping
	Timeout time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	return o
}

// RedisClient shares token buckets between server replicas. A disabled
// client makes the limiter keep buckets in process memory.
type RedisClient struct {
	client  *redis.Client
	enabled bool
	addr    string
}

// NewRedisClient connects to opts.Addr. An empty address disables Redis
// without error; an unreachable one returns a disabled client and the ping
// error so the caller can decide whether to continue.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	if opts.Addr == "" {
		return &RedisClient{}, nil
	}
	opts = opts.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   1,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
		PoolTimeout:  opts.Timeout + time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return &RedisClient{addr: opts.Addr}, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	slog.Info("Redis rate limit store connected", "addr", opts.Addr, "db", opts.DB)
	return &RedisClient{client: client, enabled: true, addr: opts.Addr}, nil
}

// GetClient returns the underlying client, nil when disabled
func (r *RedisClient) GetClient() *redis.Client {
	if !r.IsEnabled() {
		return nil
	}
	return r.client
}

// IsEnabled reports whether buckets live in Redis
func (r *RedisClient) IsEnabled() bool {
	return r != nil && r.enabled && r.client != nil
}

// HealthCheck pings Redis. It is registered as a non-critical probe.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if !r.IsEnabled() {
		return ErrRedisDisabled
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	if !r.IsEnabled() {
		return nil
	}
	return r.client.Close()
}

// GetPoolStats reports connection pool counters
func (r *RedisClient) GetPoolStats() map[string]interface{} {
	if !r.IsEnabled() {
		return map[string]interface{}{"enabled": false}
	}

	stats := r.client.PoolStats()
	return map[string]interface{}{
		"enabled":     true,
		"addr":        r.addr,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
	}
}
