// Package retry holds the bounded retry policy used around provider calls.
// It owns no transport and can be exercised without real delays.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	MaxRetries int
	Backoff    BackoffFunc
	Sleep      SleepFunc
	// Retryable decides whether a failed attempt may be repeated.
	// Nil retries everything except context cancellation.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// LinearBackoff waits unit × attempt.
func LinearBackoff(unit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * unit
	}
}

func NewPolicy(maxRetries int, backoff BackoffFunc) Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff == nil {
		backoff = LinearBackoff(10 * time.Second)
	}
	return Policy{MaxRetries: maxRetries, Backoff: backoff, Sleep: ContextSleep}
}

// Attempts is the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Do runs op until it succeeds, the retry budget is spent, or the error is
// not retryable. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = LinearBackoff(10 * time.Second)
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts() || !p.retryable(lastErr) {
			break
		}

		wait := backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, lastErr)
		}
		if err := sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
