package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/shared"
	"github.com/isolation-ledger/internal/engine/isolation"
	"github.com/isolation-ledger/internal/engine/lock"
)

// Common errors
var (
	ErrTxClosed       = errors.New("transaction already ended")
	ErrUpdateFinished = errors.New("update already committed or rolled back")
	ErrNothingStaged  = errors.New("no balance staged for commit")
)

// Tx is one logical transaction: an isolation mode, the snapshot that mode
// may require, and the locks the transaction holds. Locks and snapshot are
// transaction-scoped and are always released when the transaction ends,
// whatever the exit path.
type Tx struct {
	engine *Engine
	id     uuid.UUID
	mode   shared.IsolationMode
	snap   *isolation.Snapshot

	mu      sync.Mutex
	handles map[uuid.UUID]*lock.Handle
	closed  bool
}

// Begin opens a logical transaction at the given isolation mode. Unknown
// modes are rejected; mode strings are a caller-side validation concern.
func (e *Engine) Begin(mode shared.IsolationMode) (*Tx, error) {
	if !mode.Valid() {
		return nil, shared.ErrUnknownIsolationMode
	}

	tx := &Tx{
		engine:  e,
		id:      uuid.New(),
		mode:    mode,
		handles: make(map[uuid.UUID]*lock.Handle),
	}
	if mode.UsesSnapshot() {
		tx.snap = isolation.NewSnapshot()
	}
	return tx, nil
}

// ID returns the transaction id, which also owns its locks
func (tx *Tx) ID() uuid.UUID { return tx.id }

// Mode returns the isolation mode the transaction runs under
func (tx *Tx) Mode() shared.IsolationMode { return tx.mode }

// Read observes one account at the transaction's isolation mode
func (tx *Tx) Read(accountID uuid.UUID) (isolation.ReadResult, error) {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return isolation.ReadResult{}, ErrTxClosed
	}
	tx.mu.Unlock()

	return tx.engine.reader.Read(tx.mode, tx.snap, accountID)
}

// List observes the account set at the transaction's isolation mode
func (tx *Tx) List() ([]account.Account, shared.Anomaly, error) {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return nil, shared.AnomalyNone, ErrTxClosed
	}
	tx.mu.Unlock()

	return tx.engine.reader.List(tx.mode, tx.snap)
}

// End closes the transaction, releasing every lock it still holds and
// discarding its snapshot. A transaction can end exactly once.
func (tx *Tx) End() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true

	for _, h := range tx.handles {
		tx.engine.release(h)
	}
	tx.handles = nil
	tx.snap = nil
	return nil
}

// Update is an in-flight single-account write session: the account's
// exclusive lock is held, a provisional balance may be staged (observable
// only to READ_UNCOMMITTED readers), and the session ends in exactly one
// Commit or Rollback.
type Update struct {
	tx        *Tx
	accountID uuid.UUID
	handle    *lock.Handle
	base      account.Account

	mu       sync.Mutex
	staged   *decimal.Decimal
	done     bool
	keepLock bool // lock outlives the update (SERIALIZABLE)
}

// BeginUpdate opens a write session on the account under its exclusive lock.
// Under SERIALIZABLE the lock is retained by the transaction until End, per
// the phantom-prevention rule that serializable writers hold every touched
// account for their whole transaction; under the other modes it is released
// when the update finishes.
func (tx *Tx) BeginUpdate(ctx context.Context, accountID uuid.UUID, timeout time.Duration) (*Update, error) {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return nil, ErrTxClosed
	}
	held := tx.handles[accountID]
	tx.mu.Unlock()

	keep := tx.mode == shared.IsolationSerializable

	handle := held
	if handle == nil {
		var err error
		handle, err = tx.engine.locks.Acquire(ctx, tx.id, accountID, lock.Exclusive, timeout)
		if err != nil {
			return nil, err
		}
		// Register the handle with the transaction so End releases it even
		// if the update is abandoned.
		tx.mu.Lock()
		if tx.closed {
			tx.mu.Unlock()
			tx.engine.release(handle)
			return nil, ErrTxClosed
		}
		tx.handles[accountID] = handle
		tx.mu.Unlock()
	}

	acc, err := tx.engine.store.GetByID(accountID)
	if err != nil {
		if !keep {
			tx.dropHandle(accountID)
		}
		return nil, err
	}

	return &Update{
		tx:        tx,
		accountID: accountID,
		handle:    handle,
		base:      acc,
		keepLock:  keep,
	}, nil
}

// Account returns the committed account value read under the lock
func (u *Update) Account() account.Account { return u.base }

// Stage publishes a provisional balance for the account. Staged values are
// what READ_UNCOMMITTED readers observe before the commit completes.
func (u *Update) Stage(balance decimal.Decimal) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return ErrUpdateFinished
	}
	if err := u.tx.engine.store.Stage(u.accountID, balance); err != nil {
		return err
	}
	u.staged = &balance
	return nil
}

// Commit makes the staged balance the committed one, appending the matching
// ledger entry. The delta between the base and staged balances must be
// non-zero, because every committed mutation owns exactly one log entry.
func (u *Update) Commit(description string) (account.Account, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return account.Account{}, ErrUpdateFinished
	}
	if u.staged == nil {
		return account.Account{}, ErrNothingStaged
	}

	delta := u.staged.Sub(u.base.Balance)
	if delta.IsZero() {
		return account.Account{}, account.ErrInvalidAmount
	}

	kind, amount := effectOf(delta)
	committed, err := u.tx.engine.store.Commit(u.accountID, kind, amount, describe(delta, description))
	if err != nil {
		return account.Account{}, err
	}

	u.finish()
	return committed, nil
}

// Rollback discards the staged balance and ends the session with no effect
func (u *Update) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return ErrUpdateFinished
	}
	if u.staged != nil {
		if err := u.tx.engine.store.Unstage(u.accountID); err != nil {
			return err
		}
	}

	u.finish()
	return nil
}

// finish ends the session, releasing the lock unless the transaction keeps
// it until End (SERIALIZABLE). Called with u.mu held.
func (u *Update) finish() {
	u.done = true
	u.staged = nil
	if !u.keepLock {
		u.tx.dropHandle(u.accountID)
	}
}

// dropHandle releases the lock held on accountID, if any, and forgets it
func (tx *Tx) dropHandle(accountID uuid.UUID) {
	tx.mu.Lock()
	h, ok := tx.handles[accountID]
	if ok {
		delete(tx.handles, accountID)
	}
	tx.mu.Unlock()
	if ok {
		tx.engine.release(h)
	}
}
