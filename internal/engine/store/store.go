// Package store owns the canonical in-memory ledger state: the account map
// and the append-only per-account transaction logs. Every mutation path in
// the engine funnels through one of the commit primitives here, so an
// account's balance, version and log can never diverge. There is no global
// store lock; each account's state is co-located with the mutex that guards
// it and commits are indivisible per account.
package store

import (
	"bytes"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
)

// ErrSameAccountPair indicates a paired commit addressed to a single account
var ErrSameAccountPair = errors.New("paired commit requires two distinct accounts")

// Store holds all accounts and their transaction logs
type Store struct {
	mu       sync.RWMutex // guards the maps, never individual account state
	accounts map[uuid.UUID]*slot
	numbers  map[string]uuid.UUID
	fence    func(uuid.UUID) bool
	logger   *slog.Logger
}

// slot couples one account's committed state, its staged (uncommitted) value
// and its log under a single mutex.
type slot struct {
	mu      sync.RWMutex
	acc     account.Account
	staged  *decimal.Decimal // in-flight balance published by a pessimistic writer
	entries []ledger.Entry
}

// New creates an empty store
func New(logger *slog.Logger) *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*slot),
		numbers:  make(map[string]uuid.UUID),
		logger:   logger,
	}
}

// SetWriteFence installs the probe CommitVersioned consults before applying.
// While fence(id) reports a held exclusive lock on the account, optimistic
// commits against it fail with ErrOptimisticConflict instead of racing the
// lock holder. Install once, before the store sees concurrent traffic.
func (s *Store) SetWriteFence(fence func(uuid.UUID) bool) {
	s.fence = fence
}

// CreateAccount registers a new account under a unique account number
func (s *Store) CreateAccount(number string, ownerName string, initialBalance decimal.Decimal) (account.Account, error) {
	acc, err := account.New(number, ownerName, initialBalance)
	if err != nil {
		return account.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.numbers[number]; exists {
		return account.Account{}, account.ErrDuplicateAccountNumber{Number: number}
	}

	s.accounts[acc.ID] = &slot{acc: *acc}
	s.numbers[number] = acc.ID

	s.logger.Info("account created",
		"account_id", acc.ID.String(),
		"number", acc.Number,
		"balance", acc.Balance.String(),
	)

	return *acc, nil
}

func (s *Store) getSlot(id uuid.UUID) (*slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound{AccountID: id}
	}
	return sl, nil
}

// GetByID returns the latest committed snapshot of an account
func (s *Store) GetByID(id uuid.UUID) (account.Account, error) {
	sl, err := s.getSlot(id)
	if err != nil {
		return account.Account{}, err
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.acc, nil
}

// GetByNumber returns the latest committed snapshot by account number
func (s *Store) GetByNumber(number string) (account.Account, error) {
	s.mu.RLock()
	id, ok := s.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return account.Account{}, account.ErrAccountNotFound{Number: number}
	}
	return s.GetByID(id)
}

// List returns committed snapshots of all accounts, ordered by account number
func (s *Store) List() []account.Account {
	return s.list(false)
}

// ListDirty is List with any staged (uncommitted) balances applied. Only the
// READ_UNCOMMITTED path uses it.
func (s *Store) ListDirty() []account.Account {
	return s.list(true)
}

func (s *Store) list(dirty bool) []account.Account {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.accounts))
	for _, sl := range s.accounts {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]account.Account, 0, len(slots))
	for _, sl := range slots {
		sl.mu.RLock()
		acc := sl.acc
		if dirty && sl.staged != nil {
			acc.Balance = *sl.staged
		}
		sl.mu.RUnlock()
		out = append(out, acc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Entries returns a copy of the account's transaction log, oldest first
func (s *Store) Entries(id uuid.UUID) ([]ledger.Entry, error) {
	sl, err := s.getSlot(id)
	if err != nil {
		return nil, err
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	out := make([]ledger.Entry, len(sl.entries))
	copy(out, sl.entries)
	return out, nil
}

// ReadDirty returns the latest in-memory value of the account, staged or
// committed, and reports whether the value is an uncommitted one.
func (s *Store) ReadDirty(id uuid.UUID) (account.Account, bool, error) {
	sl, err := s.getSlot(id)
	if err != nil {
		return account.Account{}, false, err
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()

	acc := sl.acc
	if sl.staged != nil {
		acc.Balance = *sl.staged
		return acc, true, nil
	}
	return acc, false, nil
}

// Stage publishes a writer's in-flight balance for the account. The value is
// only ever observed by READ_UNCOMMITTED readers; a commit or Unstage clears
// it. The caller must hold the account's exclusive lock.
func (s *Store) Stage(id uuid.UUID, balance decimal.Decimal) error {
	sl, err := s.getSlot(id)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.staged = &balance
	return nil
}

// Unstage discards the staged balance, if any
func (s *Store) Unstage(id uuid.UUID) error {
	sl, err := s.getSlot(id)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.staged = nil
	return nil
}

// CommitVersioned applies a mutation iff the account's version still equals
// expectedVersion and no other transaction holds the account's exclusive
// lock. On success the balance update, log append and version bump happen as
// one indivisible step; otherwise nothing changes and ErrOptimisticConflict
// is returned. A lock holder commits against the balance it read under that
// lock, so a commit sneaking past the lock would be silently erased; it
// loses here instead.
func (s *Store) CommitVersioned(id uuid.UUID, expectedVersion uint64, kind ledger.Kind, amount decimal.Decimal, description string) (account.Account, error) {
	sl, err := s.getSlot(id)
	if err != nil {
		return account.Account{}, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.acc.Version != expectedVersion {
		return account.Account{}, account.ErrOptimisticConflict{
			AccountID: id,
			Expected:  expectedVersion,
			Actual:    sl.acc.Version,
		}
	}
	if s.fence != nil && s.fence(id) {
		return account.Account{}, account.ErrOptimisticConflict{
			AccountID: id,
			Expected:  expectedVersion,
			Actual:    sl.acc.Version,
		}
	}

	acc, _, err := s.applyLocked(sl, Leg{AccountID: id, Kind: kind, Amount: amount, Description: description})
	return acc, err
}

// Commit applies a delta unconditionally. The new balance is computed from
// the current one under the slot mutex, so a commit that landed after the
// caller's last read contributes to the result instead of being overwritten.
// The caller must have serialized writers itself, by holding the account's
// exclusive lock.
func (s *Store) Commit(id uuid.UUID, kind ledger.Kind, amount decimal.Decimal, description string) (account.Account, error) {
	sl, err := s.getSlot(id)
	if err != nil {
		return account.Account{}, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	acc, _, err := s.applyLocked(sl, Leg{AccountID: id, Kind: kind, Amount: amount, Description: description})
	return acc, err
}

// Leg describes one side of a paired commit
type Leg struct {
	AccountID   uuid.UUID
	Kind        ledger.Kind
	Amount      decimal.Decimal
	Description string
}

// PairResult carries the committed state of both sides of a paired commit
type PairResult struct {
	Debited     account.Account
	Credited    account.Account
	DebitEntry  ledger.Entry
	CreditEntry ledger.Entry
}

// CommitPair applies a two-account mutation with both account locks held, so
// no intermediate state is ever observable: either both legs commit or, if a
// precondition fails, neither does. Slot locks are taken in ascending account
// id order, the same total order the lock manager uses.
func (s *Store) CommitPair(debit Leg, credit Leg) (PairResult, error) {
	if debit.AccountID == credit.AccountID {
		return PairResult{}, ErrSameAccountPair
	}

	debitSlot, err := s.getSlot(debit.AccountID)
	if err != nil {
		return PairResult{}, err
	}
	creditSlot, err := s.getSlot(credit.AccountID)
	if err != nil {
		return PairResult{}, err
	}

	first, second := debitSlot, creditSlot
	if bytes.Compare(credit.AccountID[:], debit.AccountID[:]) < 0 {
		first, second = creditSlot, debitSlot
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	prevDebit := debitSlot.acc
	debited, debitEntry, err := s.applyLocked(debitSlot, debit)
	if err != nil {
		return PairResult{}, err
	}
	credited, creditEntry, err := s.applyLocked(creditSlot, credit)
	if err != nil {
		// applyLocked only fails on malformed entry input, which the first
		// leg already rules out for well-formed coordinator calls. Undo the
		// debit so a failure still leaves the store untouched.
		s.revert(debitSlot, prevDebit)
		return PairResult{}, err
	}

	return PairResult{
		Debited:     debited,
		Credited:    credited,
		DebitEntry:  debitEntry,
		CreditEntry: creditEntry,
	}, nil
}

// applyLocked commits one delta on a slot whose mutex the caller holds. The
// new balance is the current one plus the entry's signed effect, so the
// committed balance always equals the replay of the log.
func (s *Store) applyLocked(sl *slot, leg Leg) (account.Account, ledger.Entry, error) {
	entry, err := ledger.NewEntry(sl.acc.ID, leg.Kind, leg.Amount, leg.Description)
	if err != nil {
		return account.Account{}, ledger.Entry{}, err
	}

	// Keep per-account entry timestamps non-decreasing
	if n := len(sl.entries); n > 0 && entry.CreatedAt.Before(sl.entries[n-1].CreatedAt) {
		entry.CreatedAt = sl.entries[n-1].CreatedAt
	}

	sl.acc.Balance = sl.acc.Balance.Add(entry.Effect())
	sl.acc.Version++
	sl.acc.UpdatedAt = entry.CreatedAt
	sl.staged = nil
	sl.entries = append(sl.entries, *entry)

	return sl.acc, *entry, nil
}

// revert undoes a single applyLocked on a slot whose mutex is still held,
// restoring the account exactly as it was, timestamps included.
func (s *Store) revert(sl *slot, prev account.Account) {
	sl.acc = prev
	sl.entries = sl.entries[:len(sl.entries)-1]
}
