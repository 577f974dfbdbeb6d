// Package mongo provides the MongoDB implementation of the archive's ledger
// entry repository.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/isolation-ledger/internal/domain/archive"
	"github.com/isolation-ledger/internal/domain/ledger"
)

const (
	// EntryCollectionName is the name of the entries collection in MongoDB
	EntryCollectionName = "ledger_entries"
)

// entryDocument is the archived shape of a ledger entry. Amounts are stored
// as exact decimal text.
type entryDocument struct {
	ID          uuid.UUID `bson:"entry_id"`
	AccountID   uuid.UUID `bson:"account_id"`
	Kind        string    `bson:"kind"`
	Amount      string    `bson:"amount"`
	Description string    `bson:"description"`
	CreatedAt   time.Time `bson:"created_at"`
}

// EntryRepository implements archive.EntryRepository for MongoDB
type EntryRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewEntryRepository creates a new MongoDB entry repository
func NewEntryRepository(logger *slog.Logger, db *mongo.Database) archive.EntryRepository {
	return &EntryRepository{
		db:     db,
		logger: logger,
	}
}

// SaveEntry archives one committed ledger entry. Entries are append-only and
// identified by their id, so replaying an already-archived entry is a no-op.
func (r *EntryRepository) SaveEntry(ctx context.Context, entry *ledger.Entry) error {
	collection := r.db.Collection(EntryCollectionName)

	doc := entryDocument{
		ID:          entry.ID,
		AccountID:   entry.AccountID,
		Kind:        string(entry.Kind),
		Amount:      entry.Amount.String(),
		Description: entry.Description,
		CreatedAt:   entry.CreatedAt,
	}

	filter := bson.M{"entry_id": entry.ID}
	update := bson.M{"$setOnInsert": doc}
	opts := options.Update().SetUpsert(true)

	if _, err := collection.UpdateOne(ctx, filter, update, opts); err != nil {
		r.logger.Error("Failed to archive ledger entry",
			"entry_id", entry.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to archive ledger entry: %w", err)
	}

	return nil
}

// GetByAccountID retrieves archived entries for one account, oldest first
func (r *EntryRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	collection := r.db.Collection(EntryCollectionName)

	filter := bson.M{"account_id": accountID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to query archived entries",
			"account_id", accountID.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to query archived entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ledger.Entry
	for cursor.Next(ctx) {
		var doc entryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode archived entry: %w", err)
		}

		amount, err := decimal.NewFromString(doc.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse archived amount %q: %w", doc.Amount, err)
		}

		entries = append(entries, &ledger.Entry{
			ID:          doc.ID,
			AccountID:   doc.AccountID,
			Kind:        ledger.Kind(doc.Kind),
			Amount:      amount,
			Description: doc.Description,
			CreatedAt:   doc.CreatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived entries: %w", err)
	}

	return entries, nil
}

var _ archive.EntryRepository = (*EntryRepository)(nil)
