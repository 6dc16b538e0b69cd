package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RedisAuditSink streams audit entries to a Redis list, giving the ring a
// durable, cross-process forwarding destination without making the ring
// itself durable (spec.md Non-goals). Connection pool settings are carried
// over from the teacher's cache.Cache client defaults.
//
// Send is called from a fresh goroutine per entry (audit.Logger's
// fire-and-forget dispatch), so a burst of tool calls can otherwise open
// many concurrent Redis round trips at once. limiter smooths that burst
// into a steady outbound rate using the classic token-bucket algorithm
// (golang.org/x/time/rate) - unlike C3's allow/deny decision, which must be
// fixed-window per spec.md §4.3, there is no such constraint on sink
// delivery, so the token bucket's smoothing behavior is exactly what's
// wanted here.
type RedisAuditSink struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	limiter *rate.Limiter
}

// RedisSinkConfig configures a RedisAuditSink.
type RedisSinkConfig struct {
	Host     string
	Port     string
	Password string
	DB       int

	// Key is the Redis list key entries are pushed onto. Defaults to
	// "mcp-gateway:audit".
	Key string

	// TTL, if positive, is applied to Key after each push so a forgotten
	// sink doesn't grow the list unbounded.
	TTL time.Duration

	// MaxPushesPerSecond caps outbound Redis writes, smoothing bursts of
	// audit entries. Defaults to 200/s if zero.
	MaxPushesPerSecond float64
}

// NewRedisAuditSink dials Redis and verifies connectivity.
func NewRedisAuditSink(cfg RedisSinkConfig) (*RedisAuditSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("audit redis sink: ping failed: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "mcp-gateway:audit"
	}

	perSecond := cfg.MaxPushesPerSecond
	if perSecond <= 0 {
		perSecond = 200
	}

	return &RedisAuditSink{
		client:  client,
		key:     key,
		ttl:     cfg.TTL,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
	}, nil
}

// Send pushes entry's JSON encoding onto the configured Redis list, waiting
// for the outbound rate limiter before writing.
func (s *RedisAuditSink) Send(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit redis sink: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("audit redis sink: rate limiter wait: %w", err)
	}

	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("audit redis sink: rpush: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, s.key, s.ttl)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisAuditSink) Close() error {
	return s.client.Close()
}
