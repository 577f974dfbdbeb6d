// Package transfer orchestrates atomic two-account money movements. A
// transfer takes exclusive locks on both accounts in the fixed ascending-id
// order regardless of its from/to direction, so two opposite transfers can
// never hold one lock each while waiting on the other, re-reads balances
// under lock, and commits both legs through the store's paired commit so no
// intermediate state is ever observable.
package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
	"github.com/isolation-ledger/internal/engine/lock"
	"github.com/isolation-ledger/internal/engine/store"
)

// ErrInvalidTransfer indicates a malformed account pair (self-transfer)
var ErrInvalidTransfer = errors.New("transfer requires two distinct accounts")

// Receipt reports the committed outcome of a transfer
type Receipt struct {
	From        account.Account
	To          account.Account
	DebitEntry  ledger.Entry
	CreditEntry ledger.Entry
}

// Coordinator executes transfers against one store and lock manager
type Coordinator struct {
	store  *store.Store
	locks  *lock.Manager
	logger *slog.Logger
}

// NewCoordinator creates a transfer coordinator
func NewCoordinator(st *store.Store, locks *lock.Manager, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: st, locks: locks, logger: logger}
}

// Transfer moves amount from one account to the other. Money is conserved
// across every outcome: a failed transfer leaves both balances and both logs
// exactly as they were. The timeout bounds the lock acquisition on both
// accounts together.
func (c *Coordinator) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, timeout time.Duration) (Receipt, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Receipt{}, account.ErrInvalidAmount
	}
	if fromID == toID {
		return Receipt{}, ErrInvalidTransfer
	}

	// Establish both accounts exist before taking any lock
	if _, err := c.store.GetByID(fromID); err != nil {
		return Receipt{}, err
	}
	if _, err := c.store.GetByID(toID); err != nil {
		return Receipt{}, err
	}

	owner := uuid.New()
	handles, err := c.locks.AcquireOrdered(ctx, owner, []uuid.UUID{fromID, toID}, lock.Exclusive, timeout)
	if err != nil {
		return Receipt{}, err
	}
	defer c.releaseAll(handles)

	// Re-read under lock; the pre-lock values may be stale
	from, err := c.store.GetByID(fromID)
	if err != nil {
		return Receipt{}, err
	}
	to, err := c.store.GetByID(toID)
	if err != nil {
		return Receipt{}, err
	}

	if !from.CanWithdraw(amount) {
		c.logger.Warn("transfer rejected",
			"from", from.Number,
			"to", to.Number,
			"amount", amount.String(),
			"balance", from.Balance.String(),
			"reason", "insufficient funds",
		)
		return Receipt{}, account.ErrInsufficientFunds
	}

	result, err := c.store.CommitPair(
		store.Leg{
			AccountID:   fromID,
			Kind:        ledger.KindDebit,
			Amount:      amount,
			Description: "Transfer to " + to.Number,
		},
		store.Leg{
			AccountID:   toID,
			Kind:        ledger.KindCredit,
			Amount:      amount,
			Description: "Transfer from " + from.Number,
		},
	)
	if err != nil {
		return Receipt{}, err
	}

	c.logger.Info("transfer committed",
		"from", from.Number,
		"to", to.Number,
		"amount", amount.String(),
	)

	return Receipt{
		From:        result.Debited,
		To:          result.Credited,
		DebitEntry:  result.DebitEntry,
		CreditEntry: result.CreditEntry,
	}, nil
}

func (c *Coordinator) releaseAll(handles []*lock.Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		if err := c.locks.Release(handles[i]); err != nil {
			c.logger.Error("failed to release transfer lock",
				"account_id", handles[i].AccountID().String(),
				"error", err,
			)
		}
	}
}
