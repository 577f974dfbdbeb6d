// Package engine is the concurrency-control core of the ledger: one shared
// store of accounts supporting many simultaneous logical transactions with
// selectable isolation guarantees, optimistic and pessimistic
// conflict-resolution paths, and an atomic two-account transfer protocol.
// Surrounding plumbing (transports, persistence adapters) collaborates with
// the engine through this facade and receives typed results and committed
// snapshots, never partial state.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
	"github.com/isolation-ledger/internal/domain/shared"
	"github.com/isolation-ledger/internal/engine/isolation"
	"github.com/isolation-ledger/internal/engine/lock"
	"github.com/isolation-ledger/internal/engine/store"
	"github.com/isolation-ledger/internal/engine/transfer"
	"github.com/isolation-ledger/internal/engine/version"
)

// Engine ties the store, lock manager, version oracle, isolation reader and
// transfer coordinator together behind the interface external collaborators
// consume.
type Engine struct {
	store     *store.Store
	locks     *lock.Manager
	oracle    *version.Oracle
	reader    *isolation.Reader
	transfers *transfer.Coordinator
	logger    *slog.Logger
}

// New creates an engine with an empty ledger
func New(logger *slog.Logger) *Engine {
	st := store.New(logger)
	locks := lock.NewManager(logger)
	// Optimistic commits must not slip past a held exclusive lock; the lock
	// holder's write would erase theirs from the balance otherwise.
	st.SetWriteFence(locks.HeldExclusively)
	return &Engine{
		store:     st,
		locks:     locks,
		oracle:    version.NewOracle(st, logger),
		reader:    isolation.NewReader(st),
		transfers: transfer.NewCoordinator(st, locks, logger),
		logger:    logger,
	}
}

// CreateAccount registers a new account under a unique number
func (e *Engine) CreateAccount(number string, ownerName string, initialBalance decimal.Decimal) (account.Account, error) {
	return e.store.CreateAccount(number, ownerName, initialBalance)
}

// GetAccount returns the latest committed snapshot of the account
func (e *Engine) GetAccount(id uuid.UUID) (account.Account, error) {
	return e.store.GetByID(id)
}

// GetAccountByNumber returns the latest committed snapshot by account number
func (e *Engine) GetAccountByNumber(number string) (account.Account, error) {
	return e.store.GetByNumber(number)
}

// ListAccounts returns committed snapshots of all accounts ordered by number
func (e *Engine) ListAccounts() []account.Account {
	return e.store.List()
}

// Entries returns the account's transaction log, oldest first
func (e *Engine) Entries(accountID uuid.UUID) ([]ledger.Entry, error) {
	return e.store.Entries(accountID)
}

// ApplyOptimistic adds delta to the account balance using optimistic version
// checking: a single read-compute-commit attempt with no locking and no
// internal retry. A concurrent commit between the read and the commit, or an
// exclusive lock held by another transaction at commit time, fails the
// attempt with ErrOptimisticConflict and zero effect; retry policy, including
// re-reading state, belongs to the caller.
func (e *Engine) ApplyOptimistic(accountID uuid.UUID, delta decimal.Decimal, description string) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, account.ErrInvalidAmount
	}

	_, ver, err := e.oracle.Read(accountID)
	if err != nil {
		return decimal.Zero, err
	}

	kind, amount := effectOf(delta)
	acc, err := e.oracle.CommitAttempt(accountID, ver, kind, amount, describe(delta, description))
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// ApplyPessimistic adds delta to the account balance under an exclusive
// lock. The call blocks until the lock is granted or timeout elapses
// (ErrLockTimeout); once granted the write cannot conflict.
func (e *Engine) ApplyPessimistic(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal, description string, timeout time.Duration) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, account.ErrInvalidAmount
	}

	handle, err := e.locks.Acquire(ctx, uuid.New(), accountID, lock.Exclusive, timeout)
	if err != nil {
		return decimal.Zero, err
	}
	defer e.release(handle)

	kind, amount := effectOf(delta)
	committed, err := e.store.Commit(accountID, kind, amount, describe(delta, description))
	if err != nil {
		return decimal.Zero, err
	}
	return committed.Balance, nil
}

// Transfer atomically moves amount between two accounts, conserving money
// across every outcome. See the transfer package for the locking protocol.
func (e *Engine) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, timeout time.Duration) (transfer.Receipt, error) {
	return e.transfers.Transfer(ctx, fromID, toID, amount, timeout)
}

// ReadWithIsolation performs one isolated read inside tx
func (e *Engine) ReadWithIsolation(tx *Tx, accountID uuid.UUID) (isolation.ReadResult, error) {
	return tx.Read(accountID)
}

// ListWithIsolation performs one isolated set query inside tx
func (e *Engine) ListWithIsolation(tx *Tx) ([]account.Account, shared.Anomaly, error) {
	return tx.List()
}

func (e *Engine) release(h *lock.Handle) {
	if err := e.locks.Release(h); err != nil {
		e.logger.Error("failed to release lock",
			"account_id", h.AccountID().String(),
			"error", err,
		)
	}
}

// effectOf maps a signed delta onto the (kind, amount >= 0) entry encoding
func effectOf(delta decimal.Decimal) (ledger.Kind, decimal.Decimal) {
	if delta.IsNegative() {
		return ledger.KindDebit, delta.Neg()
	}
	return ledger.KindCredit, delta
}

func describe(delta decimal.Decimal, description string) string {
	if description != "" {
		return description
	}
	if delta.IsNegative() {
		return "Withdrawal"
	}
	return "Deposit"
}
