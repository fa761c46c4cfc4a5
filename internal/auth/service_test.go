package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/models"
	"github.com/opencoordinator/pbs/internal/testutil"
)

func TestAuthenticateNoneMode(t *testing.T) {
	s := NewService(ServiceConfig{Mode: ModeNone}, nil, nil, nil, zap.NewNop())

	caller, err := s.Authenticate(context.Background(), "https://origin.a.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", caller.Identity, "claimed identity collapses to its site")
	assert.Equal(t, "https://example.com", caller.AuthorizedDomain)
	assert.False(t, caller.IsCoordinator)
}

func TestAuthenticateRejectsBadIdentity(t *testing.T) {
	s := NewService(ServiceConfig{Mode: ModeNone}, nil, nil, nil, zap.NewNop())

	for _, identity := range []string{"", "127.0.0.1", "https://co.uk"} {
		_, err := s.Authenticate(context.Background(), identity, "")
		assert.ErrorIs(t, err, ErrForbidden, "identity %q", identity)
	}
}

func TestAuthenticateStaticMode(t *testing.T) {
	s := NewService(ServiceConfig{
		Mode:         ModeStatic,
		StaticTokens: map[string]string{"https://a.example.com": "sekret"},
	}, nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	caller, err := s.Authenticate(ctx, "https://origin.a.example.com", "sekret")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", caller.Identity)

	_, err = s.Authenticate(ctx, "https://a.example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = s.Authenticate(ctx, "https://a.example.com", "")
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = s.Authenticate(ctx, "https://stranger.net", "sekret")
	assert.ErrorIs(t, err, ErrBadToken, "no token configured for that site")
}

func TestAuthenticateJWTMode(t *testing.T) {
	s := NewService(ServiceConfig{
		Mode:      ModeJWT,
		JWTSecret: testSecret,
		JWTIssuer: testIssuer,
	}, nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	good, err := MintToken(testSecret, testIssuer, "https://a.example.com", time.Hour)
	require.NoError(t, err)

	caller, err := s.Authenticate(ctx, "https://origin.a.example.com", good)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", caller.Identity)

	foreign, err := MintToken(testSecret, testIssuer, "https://stranger.net", time.Hour)
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, "https://a.example.com", foreign)
	assert.ErrorIs(t, err, ErrForbidden, "token covers another site")

	_, err = s.Authenticate(ctx, "https://a.example.com", "garbage")
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestAuthenticateUnsupportedMode(t *testing.T) {
	s := NewService(ServiceConfig{Mode: "kerberos"}, nil, nil, nil, zap.NewNop())

	_, err := s.Authenticate(context.Background(), "https://a.example.com", "x")
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestAuthenticateAllowlist(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping database integration test in short mode")
	}
	db, cleanup := testutil.NewTestDB(t)
	t.Cleanup(cleanup)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Operator{
		Identity:         "https://example.com",
		AuthorizedDomain: "https://a.example.com",
		ReportingOrigins: []string{"https://origin.a.example.com"},
		TokenHash:        models.HashToken("op-token"),
		IsActive:         true,
	}).Error)
	require.NoError(t, db.Create(&models.Operator{
		Identity:         "https://disabled.net",
		AuthorizedDomain: "https://disabled.net",
		IsActive:         false,
	}).Error)

	s := NewService(ServiceConfig{Mode: ModeStatic}, db, nil, nil, zap.NewNop())

	t.Run("matching token hash", func(t *testing.T) {
		caller, err := s.Authenticate(ctx, "https://origin.a.example.com", "op-token")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", caller.Identity)
		assert.Equal(t, "https://a.example.com", caller.AuthorizedDomain)
		assert.Equal(t, []string{"https://origin.a.example.com"}, caller.AllowedOrigins)
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "https://a.example.com", "not-the-token")
		assert.ErrorIs(t, err, ErrBadToken)
	})

	t.Run("not allowlisted", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "https://stranger.net", "op-token")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("disabled operator", func(t *testing.T) {
		_, err := s.Authenticate(ctx, "https://disabled.net", "anything")
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestAuthenticateUsesOperatorCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping database integration test in short mode")
	}
	db, cleanup := testutil.NewTestDB(t)
	t.Cleanup(cleanup)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewCache(client, zap.NewNop(), time.Minute)

	require.NoError(t, db.Create(&models.Operator{
		Identity:         "https://example.com",
		AuthorizedDomain: "https://example.com",
		TokenHash:        models.HashToken("op-token"),
		IsActive:         true,
	}).Error)

	s := NewService(ServiceConfig{Mode: ModeStatic}, db, cache, nil, zap.NewNop())

	_, err := s.Authenticate(ctx, "https://example.com", "op-token")
	require.NoError(t, err)

	// Drop the row. The cached entry keeps serving until its TTL.
	require.NoError(t, db.Unscoped().Where("identity = ?", "https://example.com").Delete(&models.Operator{}).Error)

	_, err = s.Authenticate(ctx, "https://example.com", "op-token")
	assert.NoError(t, err, "second lookup is served from the cache")

	mr.FastForward(2 * time.Minute)
	_, err = s.Authenticate(ctx, "https://example.com", "op-token")
	assert.ErrorIs(t, err, ErrForbidden, "after expiry the allowlist decides again")
}

func TestResolveOperatorDisabledInCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping database integration test in short mode")
	}
	db, cleanup := testutil.NewTestDB(t)
	t.Cleanup(cleanup)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewCache(client, zap.NewNop(), time.Minute)

	require.NoError(t, cache.SetOperator(ctx, "https://example.com", &models.Operator{
		Identity: "https://example.com",
		IsActive: false,
	}))

	s := NewService(ServiceConfig{Mode: ModeNone}, db, cache, nil, zap.NewNop())
	_, err := s.Authenticate(ctx, "https://example.com", "")
	assert.ErrorIs(t, err, ErrForbidden, "a cached disable takes effect without a database read")
}
