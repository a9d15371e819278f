// Package retry provides the single retry policy shared by every remote
// call in the pipeline: a bounded number of attempts with a pluggable
// backoff curve and a retryability predicate.
package retry

import (
	"context"
	"sync/atomic"
	"time"
)

// Backoff returns the delay to sleep before the given attempt. The first
// retry passes attempt=1.
type Backoff func(attempt int) time.Duration

// Linear returns a backoff of attempt*base with no jitter.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Constant returns the same delay for every attempt.
func Constant(delay time.Duration) Backoff {
	return func(int) time.Duration {
		return delay
	}
}

// Policy bounds how a failing call is reattempted.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	Backoff Backoff

	// Retryable reports whether the error is worth another attempt.
	// A nil predicate retries everything.
	Retryable func(error) bool
}

// Counter accumulates the re-attempts spent by every Do call running under
// one context. Safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

// Retries returns the re-attempts recorded so far, not counting first tries.
func (c *Counter) Retries() int { return int(c.n.Load()) }

type counterKey struct{}

// WithCounter derives a context under which every Do call records its
// re-attempts in the returned Counter.
func WithCounter(ctx context.Context) (context.Context, *Counter) {
	c := &Counter{}
	return context.WithValue(ctx, counterKey{}, c), c
}

func counterFrom(ctx context.Context) *Counter {
	c, _ := ctx.Value(counterKey{}).(*Counter)
	return c
}

// Do calls fn until it succeeds, the policy is exhausted, a non-retryable
// error surfaces, or ctx is cancelled. The last error is returned as-is so
// callers can still classify it.
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 {
			if c := counterFrom(ctx); c != nil {
				c.n.Add(1)
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := time.Duration(0)
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
