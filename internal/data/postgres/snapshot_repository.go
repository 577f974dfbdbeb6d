// Package postgres provides the PostgreSQL implementation of the archive's
// snapshot repository. It stores the public-facing shape of an account,
// balances as exact decimal text, and deliberately keeps nothing the engine
// needs for correctness.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/archive"
	"github.com/isolation-ledger/internal/platform/persistence"
)

// SnapshotRepository implements archive.SnapshotRepository for PostgreSQL
type SnapshotRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewSnapshotRepository creates a new PostgreSQL snapshot repository
func NewSnapshotRepository(logger *slog.Logger, db *persistence.PostgresDB) archive.SnapshotRepository {
	return &SnapshotRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// NewSnapshotRepositoryWithQuerier creates a repository over an explicit
// querier. Tests use it to inject a mock.
func NewSnapshotRepositoryWithQuerier(logger *slog.Logger, querier persistence.Querier) archive.SnapshotRepository {
	return &SnapshotRepository{
		querier: querier,
		logger:  logger,
	}
}

// SaveSnapshot upserts the committed snapshot of an account. Stale writes
// lose: a row is only replaced by a snapshot with a higher version.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, acc *account.Account) error {
	query := `
		INSERT INTO account_snapshots (id, number, owner_name, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET balance = EXCLUDED.balance, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
		WHERE account_snapshots.version < EXCLUDED.version
	`

	_, err := r.querier.Exec(ctx, query,
		acc.ID,
		acc.Number,
		acc.OwnerName,
		acc.Balance.String(),
		acc.Version,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save account snapshot",
			"account_id", acc.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to save account snapshot: %w", err)
	}

	return nil
}

// GetSnapshot retrieves the archived snapshot of an account
func (r *SnapshotRepository) GetSnapshot(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	query := `
		SELECT id, number, owner_name, balance, version, created_at, updated_at
		FROM account_snapshots
		WHERE id = $1
	`

	var (
		acc     account.Account
		balance string
	)
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&acc.ID,
		&acc.Number,
		&acc.OwnerName,
		&balance,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, archive.ErrSnapshotNotFound{AccountID: id}
		}
		r.logger.Error("Failed to get account snapshot",
			"account_id", id.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get account snapshot: %w", err)
	}

	acc.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archived balance %q: %w", balance, err)
	}
	acc.CreatedAt = acc.CreatedAt.In(time.UTC)
	acc.UpdatedAt = acc.UpdatedAt.In(time.UTC)

	return &acc, nil
}
