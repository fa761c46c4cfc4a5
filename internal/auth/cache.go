package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/models"
)

// ErrCacheMiss is returned when no entry exists for the key.
var ErrCacheMiss = errors.New("auth cache miss")

// Cache keeps resolved operators in redis so the allowlist table is not
// hit on every request.
type Cache struct {
	redis  *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewCache(redisClient *redis.Client, logger *zap.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		redis:  redisClient,
		logger: logger,
		ttl:    ttl,
	}
}

func (c *Cache) SetOperator(ctx context.Context, key string, op *models.Operator) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operator: %w", err)
	}
	if err := c.redis.Set(ctx, c.buildKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set operator cache entry: %w", err)
	}
	return nil
}

func (c *Cache) GetOperator(ctx context.Context, key string) (*models.Operator, error) {
	data, err := c.redis.Get(ctx, c.buildKey(key)).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get operator cache entry: %w", err)
	}
	var op models.Operator
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return nil, fmt.Errorf("unmarshal cached operator: %w", err)
	}
	return &op, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("delete operator cache entry: %w", err)
	}
	return nil
}

// buildKey hashes the lookup key so arbitrary identities produce
// uniform redis keys.
func (c *Cache) buildKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "pbs:auth:op:" + hex.EncodeToString(sum[:])[:24]
}
