package version

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
	"github.com/isolation-ledger/internal/engine/store"
)

func newTestOracle(t *testing.T) (*Oracle, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	st := store.New(logger)
	return NewOracle(st, logger), st
}

func TestOracle_Read(t *testing.T) {
	o, st := newTestOracle(t)
	acc, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromFloat(1000.00))
	require.NoError(t, err)

	balance, version, err := o.Read(acc.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromFloat(1000.00)))
	assert.Equal(t, uint64(0), version)

	_, _, err = o.Read(uuid.New())
	assert.ErrorIs(t, err, account.ErrAccountNotFound{})
}

func TestOracle_CommitAttempt(t *testing.T) {
	o, st := newTestOracle(t)
	acc, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromFloat(1000.00))
	require.NoError(t, err)

	_, version, err := o.Read(acc.ID)
	require.NoError(t, err)

	updated, err := o.CommitAttempt(acc.ID, version, ledger.KindCredit, decimal.NewFromInt(100), "Deposit")
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.NewFromFloat(1100.00)))
	assert.Equal(t, uint64(1), updated.Version)

	t.Run("StaleVersionFailsWithoutEffect", func(t *testing.T) {
		_, err := o.CommitAttempt(acc.ID, version, ledger.KindCredit, decimal.NewFromInt(200), "Deposit")
		assert.ErrorIs(t, err, account.ErrOptimisticConflict{})

		current, err := st.GetByID(acc.ID)
		require.NoError(t, err)
		assert.True(t, current.Balance.Equal(decimal.NewFromFloat(1100.00)))
		assert.Equal(t, uint64(1), current.Version)
	})
}

func TestOracle_ExactlyOneWinnerPerVersion(t *testing.T) {
	o, st := newTestOracle(t)
	acc, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromFloat(1000.00))
	require.NoError(t, err)

	const committers = 16
	var wg sync.WaitGroup
	results := make([]error, committers)

	_, version, err := o.Read(acc.ID)
	require.NoError(t, err)

	for i := 0; i < committers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := decimal.NewFromInt(int64(i + 1))
			_, results[i] = o.CommitAttempt(acc.ID, version, ledger.KindCredit, delta, "Deposit")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, account.ErrOptimisticConflict{})
		}
	}
	assert.Equal(t, 1, winners, "Exactly one committer against the same version may win")

	current, err := st.GetByID(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), current.Version)

	entries, err := st.Entries(acc.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "Losers leave no trace in the log")
}
