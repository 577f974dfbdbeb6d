package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/engine/lock"
)

func TestTransient(t *testing.T) {
	assert.True(t, Transient(account.ErrOptimisticConflict{AccountID: uuid.New()}))
	assert.True(t, Transient(lock.ErrLockTimeout{AccountID: uuid.New(), Mode: lock.Exclusive}))
	assert.False(t, Transient(account.ErrInsufficientFunds))
	assert.False(t, Transient(account.ErrAccountNotFound{AccountID: uuid.New()}))
	assert.False(t, Transient(errors.New("boom")))
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := Do(ctx, Policy{MaxAttempts: 5}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return account.ErrOptimisticConflict{AccountID: uuid.New()}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_TerminalErrorStopsImmediately(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := Do(ctx, Policy{MaxAttempts: 5}, func(ctx context.Context) error {
		attempts++
		return account.ErrInsufficientFunds
	})

	assert.ErrorIs(t, err, account.ErrInsufficientFunds)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsAttemptBudget(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	conflict := account.ErrOptimisticConflict{AccountID: uuid.New()}

	err := Do(ctx, Policy{MaxAttempts: 3, Backoff: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return conflict
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, account.ErrOptimisticConflict{}, "The last error stays inspectable")
}

func TestDo_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{}, func(ctx context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, Policy{MaxAttempts: 10, Backoff: 100 * time.Millisecond}, func(ctx context.Context) error {
		attempts++
		cancel()
		return lock.ErrLockTimeout{AccountID: uuid.New()}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "Cancellation short-circuits the backoff sleep")
}

func TestDo_CustomRetryIf(t *testing.T) {
	sentinel := errors.New("try again")
	attempts := 0

	err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		RetryIf:     func(err error) bool { return errors.Is(err, sentinel) },
	}, func(ctx context.Context) error {
		attempts++
		return sentinel
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
}
