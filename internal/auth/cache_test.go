package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/models"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, zap.NewNop(), ttl), mr
}

func testOperator() *models.Operator {
	return &models.Operator{
		Identity:         "https://example.com",
		AuthorizedDomain: "https://example.com",
		ReportingOrigins: []string{"https://origin.example.com"},
		IsCoordinator:    false,
		IsActive:         true,
	}
}

func TestCacheSetGet(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetOperator(ctx, "https://example.com", testOperator()))

	op, err := c.GetOperator(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", op.Identity)
	assert.Equal(t, []string{"https://origin.example.com"}, []string(op.ReportingOrigins))
	assert.True(t, op.IsActive)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	_, err := c.GetOperator(context.Background(), "https://nobody.example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheDelete(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetOperator(ctx, "https://example.com", testOperator()))
	require.NoError(t, c.Delete(ctx, "https://example.com"))

	_, err := c.GetOperator(ctx, "https://example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetOperator(ctx, "https://example.com", testOperator()))
	mr.FastForward(2 * time.Minute)

	_, err := c.GetOperator(ctx, "https://example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheKeysAreHashed(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)

	identity := "https://example.com/some weird identity"
	require.NoError(t, c.SetOperator(context.Background(), identity, testOperator()))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "pbs:auth:op:"))
	assert.NotContains(t, keys[0], "weird", "raw identities never reach redis")
}
