package crawler

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/haneum/bandcrawl/internal/services/browser"
)

// RetryPolicy retries transient driver failures a bounded number of times
// with randomized backoff. Structural failures are never retried: a missing
// DOM container signals a page-layout change, not a flaky network.
type RetryPolicy struct {
	Attempts   int // Retries after the first try
	MinBackoff time.Duration
	MaxBackoff time.Duration

	logger arbor.ILogger
}

// NewRetryPolicy builds the default policy: 2 retries, 2-4s randomized backoff
func NewRetryPolicy(attempts int, minBackoff, maxBackoff time.Duration, logger arbor.ILogger) *RetryPolicy {
	if attempts < 0 {
		attempts = 0
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &RetryPolicy{
		Attempts:   attempts,
		MinBackoff: minBackoff,
		MaxBackoff: maxBackoff,
		logger:     logger,
	}
}

// Do runs fn up to 1+Attempts times. Only transient errors trigger a retry;
// structural errors and context cancellation return immediately.
func (p *RetryPolicy) Do(ctx context.Context, step string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.Attempts; attempt++ {
		if attempt > 0 {
			backoff := p.backoff()
			p.logger.Warn().
				Str("step", step).
				Int("attempt", attempt).
				Str("backoff", backoff.String()).
				Err(lastErr).
				Msg("Retrying after transient failure")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if browser.IsStructural(lastErr) || !browser.IsTransient(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func (p *RetryPolicy) backoff() time.Duration {
	spread := p.MaxBackoff - p.MinBackoff
	if spread <= 0 {
		return p.MinBackoff
	}
	return p.MinBackoff + time.Duration(rand.Int63n(int64(spread)))
}
