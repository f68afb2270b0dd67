package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay. It returns nil on the first successful call, or the last
// error if all attempts fail. The function respects context cancellation
// between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// RetryIf behaves like Retry but consults retryable before sleeping: a
// non-retryable error is returned immediately without burning further
// attempts.
func RetryIf(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// RetryBudget runs Retry under an overall wall-clock budget. The backoff
// schedule stays exponential; the deadline cuts the loop short regardless
// of how many attempts remain.
func RetryBudget(ctx context.Context, maxAttempts int, baseDelay, budget time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return Retry(ctx, maxAttempts, baseDelay, fn)
}

// RetryBudgetIf combines RetryIf with a wall-clock budget.
func RetryBudgetIf(ctx context.Context, maxAttempts int, baseDelay, budget time.Duration, retryable func(error) bool, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return RetryIf(ctx, maxAttempts, baseDelay, retryable, fn)
}
