package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return NonRetryable(errors.New("bad request"))
	})
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, calls)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_RetryableFilter(t *testing.T) {
	permanent := errors.New("unauthorized")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return errors.New("refused")
		}
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetry(t *testing.T) {
	cfg := fastConfig(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.EqualError(t, err, "down")
		assert.LessOrEqual(t, delay, 2*time.Millisecond)
	}
	_ = Do(context.Background(), cfg, func() error { return errors.New("down") })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	last := errors.New("x")
	err := Do(ctx, fastConfig(5), func() error { return last })
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, last)
}

func TestDo_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}

func TestConfig_Delay(t *testing.T) {
	cfg, err := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}.withDefaults()
	require.NoError(t, err)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
		{10, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.delay(tt.attempt), "attempt %d", tt.attempt)
	}

	cfg.AddJitter = true
	d := cfg.delay(1)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Less(t, d, 13*time.Millisecond)
}
