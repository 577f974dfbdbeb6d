package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/archive"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSnapshotRepository_SaveSnapshot(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SnapshotRepository{querier: mock, logger: logger}

	acc := &account.Account{
		ID:        uuid.New(),
		Number:    "ACC001",
		OwnerName: "Test User",
		Balance:   decimal.NewFromFloat(1000.00),
		Version:   3,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	query := `
		INSERT INTO account_snapshots \(id, number, owner_name, balance, version, created_at, updated_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)
		ON CONFLICT \(id\) DO UPDATE
		SET balance = EXCLUDED\.balance, version = EXCLUDED\.version, updated_at = EXCLUDED\.updated_at
		WHERE account_snapshots\.version < EXCLUDED\.version
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(acc.ID, acc.Number, acc.OwnerName, acc.Balance.String(), acc.Version, acc.CreatedAt, acc.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.SaveSnapshot(ctx, acc)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale snapshot updates nothing", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(acc.ID, acc.Number, acc.OwnerName, acc.Balance.String(), acc.Version, acc.CreatedAt, acc.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		err := repo.SaveSnapshot(ctx, acc)
		assert.NoError(t, err, "A stale write is not an error, it just loses")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(query).
			WithArgs(acc.ID, acc.Number, acc.OwnerName, acc.Balance.String(), acc.Version, acc.CreatedAt, acc.UpdatedAt).
			WillReturnError(expectedErr)

		err := repo.SaveSnapshot(ctx, acc)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to save account snapshot")
		assert.ErrorIs(t, err, expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSnapshotRepository_GetSnapshot(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SnapshotRepository{querier: mock, logger: logger}
	accID := uuid.New()

	query := `
		SELECT id, number, owner_name, balance, version, created_at, updated_at
		FROM account_snapshots
		WHERE id = \$1
	`

	t.Run("success", func(t *testing.T) {
		now := time.Now()
		rows := pgxmock.NewRows([]string{"id", "number", "owner_name", "balance", "version", "created_at", "updated_at"}).
			AddRow(accID, "ACC001", "Test User", "1234.56", uint64(7), now, now)

		mock.ExpectQuery(query).WithArgs(accID).WillReturnRows(rows)

		acc, err := repo.GetSnapshot(ctx, accID)
		require.NoError(t, err)
		require.NotNil(t, acc)
		assert.Equal(t, accID, acc.ID)
		assert.Equal(t, "ACC001", acc.Number)
		assert.True(t, acc.Balance.Equal(decimal.NewFromFloat(1234.56)))
		assert.Equal(t, uint64(7), acc.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(accID).WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetSnapshot(ctx, accID)
		assert.ErrorIs(t, err, archive.ErrSnapshotNotFound{AccountID: accID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed balance", func(t *testing.T) {
		now := time.Now()
		rows := pgxmock.NewRows([]string{"id", "number", "owner_name", "balance", "version", "created_at", "updated_at"}).
			AddRow(accID, "ACC001", "Test User", "not-a-number", uint64(1), now, now)

		mock.ExpectQuery(query).WithArgs(accID).WillReturnRows(rows)

		_, err := repo.GetSnapshot(ctx, accID)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse archived balance")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectQuery(query).WithArgs(accID).WillReturnError(expectedErr)

		_, err := repo.GetSnapshot(ctx, accID)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get account snapshot")
		assert.ErrorIs(t, err, expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
