// Package retry implements the bounded exponential backoff policy used for
// all retryable external calls (wiki fetches, embedding requests).
package retry

import (
	"context"
	"time"

	"wikirag/internal/domain"
)

// Policy bounds retries of a failing operation: the delay doubles each
// attempt starting from BaseDelay, capped at MaxDelay, and the operation is
// attempted at most MaxAttempts times in total.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the defaults shipped in the example config.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs fn, retrying while the returned error is in a retryable category
// (domain.IsRetryable). Non-retryable errors and exhausted attempts surface
// the last error unchanged. Waits honor ctx cancellation.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt - 1)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
	}
	return err
}

func (p Policy) delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	cap := p.MaxDelay
	if cap <= 0 {
		cap = 5 * time.Second
	}
	d := base << attempt
	if d > cap || d < base {
		d = cap
	}
	return d
}
