// Package remote is the HTTP client for the item server. It provides a
// [Client] with list/create/update/delete operations, typed errors for
// transport failures and rejected requests, and a [Retry] helper that retries
// only transient failures.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// baseDelay is the first backoff interval before jitter.
	baseDelay = 250 * time.Millisecond

	// maxDelay caps the backoff interval before jitter.
	maxDelay = 4 * time.Second
)

// newRetryBackOff doubles from baseDelay up to maxDelay, each wait drawn
// uniformly from [interval/2, interval*3/2].
func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// Retry calls fn up to maxAttempts times, waiting with exponential backoff
// between attempts. Errors for which [Retryable] is false are returned
// unchanged after the first call. Exhausted attempts return the last failure
// wrapped; cancellation of ctx returns a wrapped ctx error.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retry cancelled: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn()
		if err != nil && !Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newRetryBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return nil
	}

	// The last attempt may still carry the permanent marker.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("retry cancelled: %w", err)
	}
	if !Retryable(err) {
		return err
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}
