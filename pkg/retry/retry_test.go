package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Success(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}

func TestRetry_NonRetryable(t *testing.T) {
	sentinel := errors.New("bad input")
	attempts := 0

	err := Do(context.Background(), Backoff(time.Millisecond, 5*time.Millisecond), func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Nil(t, NonRetryable(nil))
}

func TestRetry_FixedUnlimited(t *testing.T) {
	cfg := Fixed(5 * time.Millisecond)
	assert.Equal(t, Unlimited, cfg.MaxAttempts)

	var delays []time.Duration
	cfg.OnRetry = func(_ int, _ error, next time.Duration) {
		delays = append(delays, next)
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 6 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 6, attempts)
	require.Len(t, delays, 5)
	for _, d := range delays {
		assert.Equal(t, 5*time.Millisecond, d, "fixed policy must not grow the delay")
	}
}

func TestRetry_FixedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	var attempts atomic.Int32
	err := Do(ctx, Fixed(10*time.Millisecond), func() error {
		attempts.Add(1)
		return errors.New("down")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestRetry_BackoffTiming(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	start := time.Now()
	attempts := 0

	_ = Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	// 10ms + 20ms + 40ms
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
	assert.Equal(t, 4, attempts)
}

func TestRetry_MaxDelay(t *testing.T) {
	cfg, err := Config{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   10.0,
	}.normalize()
	require.NoError(t, err)

	assert.Equal(t, 25*time.Millisecond, cfg.nextDelay(10*time.Millisecond))
	assert.Equal(t, 25*time.Millisecond, cfg.nextDelay(25*time.Millisecond))
}

func TestRetry_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative initial", Config{InitialDelay: -1}},
		{"negative max", Config{MaxDelay: -1}},
		{"negative multiplier", Config{Multiplier: -1}},
		{"max below initial", Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := Do(context.Background(), tt.cfg, func() error {
				called = true
				return nil
			})
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}

func TestRetry_Backoff(t *testing.T) {
	cfg := Backoff(time.Millisecond, 4*time.Millisecond)
	assert.Equal(t, Unlimited, cfg.MaxAttempts)
	assert.True(t, cfg.AddJitter)

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 5 {
			return errors.New("not ready")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 5, attempts, "no attempt limit")
}

func TestRetry_ZeroAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 0}, func() error {
		attempts++
		return errors.New("once")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
