package account

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrAccountNotFound indicates a missing account
type ErrAccountNotFound struct {
	AccountID uuid.UUID
	Number    string
}

func (e ErrAccountNotFound) Error() string {
	if e.Number != "" {
		return "account not found: " + e.Number
	}
	return "account not found: " + e.AccountID.String()
}

// Is implements the errors.Is interface for ErrAccountNotFound
func (e ErrAccountNotFound) Is(target error) bool {
	t, ok := target.(ErrAccountNotFound)
	if !ok {
		return false
	}
	// An empty target matches any ErrAccountNotFound
	if t.AccountID == uuid.Nil && t.Number == "" {
		return true
	}
	return e.AccountID == t.AccountID && e.Number == t.Number
}

// ErrDuplicateAccountNumber indicates account number uniqueness violation
type ErrDuplicateAccountNumber struct {
	Number string
}

func (e ErrDuplicateAccountNumber) Error() string {
	return "account with number already exists: " + e.Number
}

// Is implements the errors.Is interface for ErrDuplicateAccountNumber
func (e ErrDuplicateAccountNumber) Is(target error) bool {
	t, ok := target.(ErrDuplicateAccountNumber)
	if !ok {
		return false
	}
	return t.Number == "" || e.Number == t.Number
}

// ErrOptimisticConflict indicates an optimistic commit lost the version race
type ErrOptimisticConflict struct {
	AccountID uuid.UUID
	Expected  uint64
	Actual    uint64
}

func (e ErrOptimisticConflict) Error() string {
	return fmt.Sprintf("optimistic conflict on account %s: expected version %d, found %d",
		e.AccountID.String(), e.Expected, e.Actual)
}

// Is implements the errors.Is interface for ErrOptimisticConflict
func (e ErrOptimisticConflict) Is(target error) bool {
	t, ok := target.(ErrOptimisticConflict)
	if !ok {
		return false
	}
	if t.AccountID == uuid.Nil {
		return true
	}
	return e.AccountID == t.AccountID
}
