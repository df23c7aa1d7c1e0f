package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// DefaultMaxRetryDelay caps ExponentialRetryPolicy backoff when none is given.
const DefaultMaxRetryDelay = 30 * time.Second

// RetryPolicy decides whether a faulted task runs again and how long to wait
// before it does.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      func(limit time.Duration) time.Duration
}

// NewExponentialRetryPolicy allows maxAttempts runs in total. The delay
// before attempt n+1 doubles from baseDelay and is capped at maxDelay.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		jitter:      randomJitter,
	}
}

// MaxAttempts reports the total number of runs allowed.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether attempt may be followed by another. Shutdown
// cancellation is never retried.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait before the run after attempt: half the doubled
// delay plus up to the same again in jitter.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.baseDelay
	for i := 1; i < attempt && delay < p.maxDelay; i++ {
		delay *= 2
	}
	delay = min(delay, p.maxDelay)
	return delay/2 + p.jitter(delay/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
