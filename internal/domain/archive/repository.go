// Package archive defines the narrow persistence interfaces the engine's
// collaborators implement. The engine itself never depends on them: archives
// are write-behind observers of committed state, not part of the commit path,
// and carry no durability guarantee for the engine.
package archive

import (
	"context"

	"github.com/google/uuid"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
)

// SnapshotRepository persists committed account snapshots
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, acc *account.Account) error
	GetSnapshot(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// EntryRepository persists committed ledger entries
type EntryRepository interface {
	SaveEntry(ctx context.Context, entry *ledger.Entry) error
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error)
}

// ErrSnapshotNotFound indicates a missing archived snapshot
type ErrSnapshotNotFound struct {
	AccountID uuid.UUID
}

func (e ErrSnapshotNotFound) Error() string {
	return "archived snapshot not found: " + e.AccountID.String()
}

// Is implements the errors.Is interface for ErrSnapshotNotFound
func (e ErrSnapshotNotFound) Is(target error) bool {
	t, ok := target.(ErrSnapshotNotFound)
	if !ok {
		return false
	}
	return t.AccountID == uuid.Nil || e.AccountID == t.AccountID
}
