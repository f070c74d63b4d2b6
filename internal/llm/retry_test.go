package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsWithoutDelay(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithRetryStopsImmediatelyOnNonTransientError(t *testing.T) {
	calls := 0
	sentinel := errors.New("invalid request")
	err := withRetry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestWithRetryBacksOffAtBaseDelayTimesTwoToTheAttempt(t *testing.T) {
	const base = 10 * time.Millisecond
	var gaps []time.Duration
	var last time.Time
	calls := 0

	err := withRetry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: base}, func() error {
		now := time.Now()
		if calls > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		calls++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, gaps, 2)
	// First retry sleeps base*2^0 = base; second sleeps base*2^1 = 2*base.
	require.GreaterOrEqual(t, gaps[0], base)
	require.Less(t, gaps[0], 2*base)
	require.GreaterOrEqual(t, gaps[1], 2*base)
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
