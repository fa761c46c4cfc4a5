package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "pbs:ratelimit:"

// Limiter bounds how often one claimed identity may drive transactions.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
	Remaining(ctx context.Context, identity string) (int, error)
	Reset(ctx context.Context, identity string) error
}

type Config struct {
	Limit  int
	Window time.Duration
}

// RedisLimiter is a sliding-window limiter over a redis sorted set, one
// set per identity scored by request time. Shared across replicas.
type RedisLimiter struct {
	client *redis.Client
	log    *zap.Logger
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, log *zap.Logger, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		log:    log,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	key := keyPrefix + identity
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCount(ctx, key, strconv.FormatInt(windowStart, 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	current, err := count.Result()
	if err != nil {
		return false, fmt.Errorf("failed to get count: %w", err)
	}
	if current >= int64(r.limit) {
		return false, nil
	}

	member := redis.Z{Score: float64(now), Member: uuid.NewString()}
	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return false, fmt.Errorf("failed to add rate limit entry: %w", err)
	}
	r.client.Expire(ctx, key, r.window)

	return true, nil
}

func (r *RedisLimiter) Remaining(ctx context.Context, identity string) (int, error) {
	key := keyPrefix + identity
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCount(ctx, key, strconv.FormatInt(windowStart, 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get remaining: %w", err)
	}

	current, err := count.Result()
	if err != nil {
		return 0, err
	}

	remaining := r.limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (r *RedisLimiter) Reset(ctx context.Context, identity string) error {
	return r.client.Del(ctx, keyPrefix+identity).Err()
}

// InMemoryLimiter is a per-process token bucket used when redis is not
// configured. Buckets refill continuously at limit/window.
type InMemoryLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	log     *zap.Logger
	limit   int
	window  time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func NewInMemoryLimiter(log *zap.Logger, cfg Config) *InMemoryLimiter {
	limiter := &InMemoryLimiter{
		buckets: make(map[string]*bucket),
		log:     log,
		limit:   cfg.Limit,
		window:  cfg.Window,
	}

	go limiter.cleanup()

	return limiter
}

func (l *InMemoryLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	l.mu.Lock()
	b, exists := l.buckets[identity]
	if !exists {
		b = &bucket{
			tokens:     float64(l.limit),
			lastRefill: time.Now(),
		}
		l.buckets[identity] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	l.refill(b)
	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

func (l *InMemoryLimiter) Remaining(ctx context.Context, identity string) (int, error) {
	l.mu.RLock()
	b, exists := l.buckets[identity]
	l.mu.RUnlock()
	if !exists {
		return l.limit, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	l.refill(b)
	return int(b.tokens), nil
}

func (l *InMemoryLimiter) Reset(ctx context.Context, identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, identity)
	return nil
}

func (l *InMemoryLimiter) refill(b *bucket) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	refillRate := float64(l.limit) / l.window.Seconds()
	b.tokens = min(float64(l.limit), b.tokens+elapsed.Seconds()*refillRate)
	b.lastRefill = now
}

func (l *InMemoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for identity, b := range l.buckets {
			b.mu.Lock()
			if now.Sub(b.lastRefill) > time.Hour {
				delete(l.buckets, identity)
			}
			b.mu.Unlock()
		}
		l.mu.Unlock()
	}
}
