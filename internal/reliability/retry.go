// Package reliability provides retry policies for operations against
// external services.
package reliability

import (
	"context"
	"time"
)

// Policy decides whether a failed attempt should be retried and how long
// to wait before the next one. Attempts are 1-based.
type Policy interface {
	// ShouldRetry reports whether another attempt may follow the given
	// failed attempt, and the delay to wait before it.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxAttempts returns the total attempt budget, including the first.
	MaxAttempts() int
}

// FixedDelay retries with a constant delay between attempts. A nil RetryIf
// retries every error.
type FixedDelay struct {
	Delay    time.Duration
	Attempts int
	RetryIf  func(error) bool
}

// NewFixedDelay creates a fixed delay policy with a total budget of
// attempts.
func NewFixedDelay(delay time.Duration, attempts int) *FixedDelay {
	return &FixedDelay{Delay: delay, Attempts: attempts}
}

// WithRetryIf restricts the policy to errors accepted by fn.
func (p *FixedDelay) WithRetryIf(fn func(error) bool) *FixedDelay {
	p.RetryIf = fn
	return p
}

func (p *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= p.Attempts {
		return false, 0
	}
	if p.RetryIf != nil && !p.RetryIf(err) {
		return false, 0
	}
	return true, p.Delay
}

func (p *FixedDelay) MaxAttempts() int { return p.Attempts }

// Retry runs fn until it succeeds, the policy declines, or ctx is done.
// The first attempt runs immediately. On exhaustion the error of the last
// attempt is returned unchanged.
func Retry(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
