package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/testutil"
)

func TestRedisLimiterIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping redis integration test in short mode")
	}

	client, cleanup := testutil.NewTestRedis(t)
	t.Cleanup(cleanup)

	limiter := NewRedisLimiter(client, zap.NewNop(), Config{Limit: 2, Window: 500 * time.Millisecond})
	ctx := context.Background()
	const identity = "https://a.example.com"

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, identity)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, identity)
	require.NoError(t, err)
	require.False(t, allowed)

	remaining, err := limiter.Remaining(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// The denied attempt did not record an entry, so once the first
	// burst ages out of the window requests are admitted again.
	time.Sleep(600 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, identity)
	require.NoError(t, err)
	assert.True(t, allowed)
}
