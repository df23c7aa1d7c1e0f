package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, 0)
	fault := errors.New("fault")

	require.True(t, p.ShouldRetry(fault, 1))
	require.True(t, p.ShouldRetry(fault, 2))
	require.False(t, p.ShouldRetry(fault, 3), "attempts exhausted")
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(fmt.Errorf("crawl aborted: %w", context.Canceled), 1))
	require.True(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.Equal(t, 1, NewExponentialRetryPolicy(0, 0, 0).MaxAttempts())
}

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(10, 10*time.Millisecond, 50*time.Millisecond)
	p.jitter = func(limit time.Duration) time.Duration { return limit }

	require.Equal(t, 10*time.Millisecond, p.Backoff(1))
	require.Equal(t, 20*time.Millisecond, p.Backoff(2))
	require.Equal(t, 40*time.Millisecond, p.Backoff(3))
	require.Equal(t, 50*time.Millisecond, p.Backoff(4), "capped")
	require.Equal(t, 50*time.Millisecond, p.Backoff(60), "no overflow")
	require.Zero(t, p.Backoff(0))
	require.Zero(t, NewExponentialRetryPolicy(3, 0, 0).Backoff(2))
}

func TestExponentialRetryPolicyJitterBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 100*time.Millisecond, 0)
	for range 50 {
		d := p.Backoff(1)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.Less(t, d, 100*time.Millisecond)
	}
}
