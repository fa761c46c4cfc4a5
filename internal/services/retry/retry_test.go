package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, config.InitialDelay)
	assert.Equal(t, 2*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.Multiplier)
	assert.True(t, config.Jitter)
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		return nil
	}

	err := Do(context.Background(), fastConfig(), fn, IsTransient)

	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestDo_EventualSuccess(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("i/o timeout")
		}
		return nil
	}

	err := Do(context.Background(), fastConfig(), fn, IsTransient)

	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestDo_NonRetryableError(t *testing.T) {
	callCount := 0
	permanent := errors.New("record not found")
	fn := func(ctx context.Context) error {
		callCount++
		return permanent
	}

	err := Do(context.Background(), fastConfig(), fn, IsTransient)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, callCount)
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	persistent := errors.New("upstream timeout")
	fn := func(ctx context.Context) error {
		callCount++
		return persistent
	}

	err := Do(context.Background(), fastConfig(), fn, IsTransient)

	assert.ErrorIs(t, err, persistent)
	assert.Equal(t, 3, callCount)
}

func TestDo_SerializationRetries(t *testing.T) {
	serErr := &pgconn.PgError{
		Code:    "40001",
		Message: "could not serialize access due to concurrent update",
	}

	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return fmt.Errorf("commit transaction: %w", serErr)
		}
		return nil
	}

	err := Do(context.Background(), fastConfig(), fn, IsSerializationFailure)

	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
		Jitter:       false,
	}

	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		cancel()
		return errors.New("connection refused")
	}

	err := Do(ctx, config, fn, IsTransient)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount)
}

func TestDo_WithNilConfig(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		return nil
	}

	err := Do(context.Background(), nil, fn, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestDo_WithNilIsRetryable(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		if callCount == 1 {
			return errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
		}
		return nil
	}

	err := Do(context.Background(), fastConfig(), fn, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, callCount)
}

func TestDo_EdgeCases(t *testing.T) {
	t.Run("zero max attempts", func(t *testing.T) {
		config := &Config{MaxAttempts: 0}
		callCount := 0
		fn := func(ctx context.Context) error {
			callCount++
			return errors.New("timeout")
		}

		err := Do(context.Background(), config, fn, IsTransient)

		assert.NoError(t, err)
		assert.Equal(t, 0, callCount)
	})

	t.Run("one max attempt", func(t *testing.T) {
		config := &Config{MaxAttempts: 1}
		callCount := 0
		fn := func(ctx context.Context) error {
			callCount++
			return errors.New("timeout")
		}

		err := Do(context.Background(), config, fn, IsTransient)

		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})
}

func TestCalculateBackoff(t *testing.T) {
	config := &Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateBackoff(tt.attempt, config))
		})
	}
}

func TestCalculateBackoff_WithNilConfig(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, CalculateBackoff(1, nil))
}

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"wrapped pg error", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("could not serialize access"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSerializationFailure(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"io timeout", errors.New("read tcp 10.0.0.1:443: i/o timeout"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"dns failure", errors.New("Temporary failure in name resolution"), true},
		{"not found", errors.New("record not found"), false},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}
