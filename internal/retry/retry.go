// Package retry provides the bounded-retry combinator for the engine's
// expected, retryable failures. The engine's commit primitives are single
// deterministic attempts with no hidden looping or sleeping; callers that
// want retries wrap them here. Each attempt must re-read state itself, which
// is why Do takes an operation, not a precomputed write.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/engine/lock"
)

// ErrAttemptsExhausted wraps the last error after the attempt budget runs out
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // fixed sleep between attempts
	// RetryIf decides whether an error is worth another attempt. Defaults to
	// Transient.
	RetryIf func(error) bool
}

// Transient reports whether err is one of the expected, retryable conditions:
// an optimistic commit losing its version race or a lock wait timing out.
// Everything else is terminal for the call.
func Transient(err error) bool {
	return errors.Is(err, account.ErrOptimisticConflict{}) ||
		errors.Is(err, lock.ErrLockTimeout{})
}

// Do runs op up to MaxAttempts times, sleeping Backoff between attempts,
// until op succeeds, fails terminally, or the attempts are exhausted. The
// context cancels the loop between attempts.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	retryIf := policy.RetryIf
	if retryIf == nil {
		retryIf = Transient
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 && policy.Backoff > 0 {
			select {
			case <-time.After(policy.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryIf(lastErr) {
			return lastErr
		}
	}

	return errors.Join(ErrAttemptsExhausted, lastErr)
}
