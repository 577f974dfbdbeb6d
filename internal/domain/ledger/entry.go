package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidKind indicates an entry kind outside DEBIT/CREDIT
	ErrInvalidKind = errors.New("invalid entry kind")
	// ErrNegativeAmount indicates an entry amount below zero. The sign of an
	// effect is carried by the kind, never by the amount.
	ErrNegativeAmount = errors.New("entry amount cannot be negative")
)

// Kind defines the signed effect of an entry on its account balance
type Kind string

const (
	KindDebit  Kind = "DEBIT"
	KindCredit Kind = "CREDIT"
)

// Entry is one append-only transaction record in an account's log. Entries
// reference their account by id only and are never mutated after commit.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Kind        Kind            `json:"kind"`
	Amount      decimal.Decimal `json:"amount"` // Always >= 0
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"` // Non-decreasing per account
}

// NewEntry creates a ledger entry for the given account effect
func NewEntry(accountID uuid.UUID, kind Kind, amount decimal.Decimal, description string) (*Entry, error) {
	if kind != KindDebit && kind != KindCredit {
		return nil, ErrInvalidKind
	}
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}

	return &Entry{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now(),
	}, nil
}

// Effect returns the signed balance contribution of the entry
func (e *Entry) Effect() decimal.Decimal {
	if e.Kind == KindDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
