package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrEmptyOwnerName     = errors.New("owner name cannot be empty")
	ErrEmptyAccountNumber = errors.New("account number cannot be empty")
)

// Account represents one ledger account. ID and Number are assigned once and
// never change afterwards; Balance and Version change only through a committed
// mutation, and Version grows by exactly 1 per commit.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"number"`
	OwnerName string          `json:"owner_name"`
	Balance   decimal.Decimal `json:"balance"`
	Version   uint64          `json:"version"` // For optimistic locking
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New creates a new account with the given parameters
func New(number string, ownerName string, initialBalance decimal.Decimal) (*Account, error) {
	if number == "" {
		return nil, ErrEmptyAccountNumber
	}
	if ownerName == "" {
		return nil, ErrEmptyOwnerName
	}
	if initialBalance.IsNegative() {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	return &Account{
		ID:        uuid.New(),
		Number:    number,
		OwnerName: ownerName,
		Balance:   initialBalance,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanWithdraw checks if the account has sufficient funds for a withdrawal
func (a *Account) CanWithdraw(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
