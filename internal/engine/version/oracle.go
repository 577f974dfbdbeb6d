// Package version implements optimistic concurrency control over the ledger
// store. A write attempt reads (balance, version), computes its delta outside
// any lock, then asks the oracle to commit against the version it read. The
// commit is a single deterministic attempt: conflict detection happens at
// commit time and retry policy stays with the caller.
package version

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
	"github.com/isolation-ledger/internal/engine/store"
)

// Oracle validates and applies optimistic writes
type Oracle struct {
	store  *store.Store
	logger *slog.Logger
}

// NewOracle creates an oracle over the given store
func NewOracle(st *store.Store, logger *slog.Logger) *Oracle {
	return &Oracle{store: st, logger: logger}
}

// Read captures the (balance, version) pair an optimistic writer computes
// against.
func (o *Oracle) Read(accountID uuid.UUID) (decimal.Decimal, uint64, error) {
	acc, err := o.store.GetByID(accountID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return acc.Balance, acc.Version, nil
}

// CommitAttempt applies the delta and appends the matching ledger entry iff
// the account's version still equals expectedVersion and no other transaction
// holds the account's exclusive lock. Of any number of concurrent committers
// referencing the same starting version, at most one succeeds; the rest fail
// with ErrOptimisticConflict and leave no partial effect. The oracle never
// retries.
func (o *Oracle) CommitAttempt(accountID uuid.UUID, expectedVersion uint64, kind ledger.Kind, amount decimal.Decimal, description string) (account.Account, error) {
	acc, err := o.store.CommitVersioned(accountID, expectedVersion, kind, amount, description)
	if err != nil {
		var conflict account.ErrOptimisticConflict
		if errors.As(err, &conflict) {
			o.logger.Debug("optimistic commit lost version race",
				"account_id", accountID.String(),
				"expected_version", conflict.Expected,
				"actual_version", conflict.Actual,
			)
		}
		return account.Account{}, err
	}

	o.logger.Debug("optimistic commit applied",
		"account_id", accountID.String(),
		"version", acc.Version,
		"balance", acc.Balance.String(),
	)
	return acc, nil
}
