// Package archiver copies committed engine state into the archive stores on
// a polling loop. It observes the engine read-only through a narrow source
// interface and keeps a per-account high-water mark so each committed entry
// is shipped once. Archive failures are logged and retried on the next tick;
// they never affect the engine.
package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/archive"
	"github.com/isolation-ledger/internal/domain/ledger"
)

// Source is the read-only slice of the engine the poller observes
type Source interface {
	ListAccounts() []account.Account
	Entries(accountID uuid.UUID) ([]ledger.Entry, error)
}

// Poller ships committed snapshots and entries to the archive repositories
type Poller struct {
	source       Source
	snapshots    archive.SnapshotRepository
	entries      archive.EntryRepository
	logger       *slog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	shipped  map[uuid.UUID]int    // entries already archived per account
	versions map[uuid.UUID]uint64 // last archived snapshot version
}

// NewPoller creates a poller over the given source and repositories
func NewPoller(
	source Source,
	snapshots archive.SnapshotRepository,
	entries archive.EntryRepository,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		source:       source,
		snapshots:    snapshots,
		entries:      entries,
		logger:       logger,
		pollInterval: pollInterval,
		shipped:      make(map[uuid.UUID]int),
		versions:     make(map[uuid.UUID]uint64),
	}
}

// Start begins polling until the context is cancelled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting archive poller",
		"poll_interval", p.pollInterval.String(),
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Archive poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.logger.Error("Error during archive pass", "error", err)
			}
		}
	}
}

// RunOnce ships everything committed since the previous pass
func (p *Poller) RunOnce(ctx context.Context) error {
	for _, acc := range p.source.ListAccounts() {
		if err := p.archiveAccount(ctx, acc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) archiveAccount(ctx context.Context, acc account.Account) error {
	p.mu.Lock()
	lastVersion, seen := p.versions[acc.ID]
	p.mu.Unlock()

	if !seen || acc.Version > lastVersion {
		if err := p.snapshots.SaveSnapshot(ctx, &acc); err != nil {
			return fmt.Errorf("snapshot of account %s: %w", acc.Number, err)
		}
		p.mu.Lock()
		p.versions[acc.ID] = acc.Version
		p.mu.Unlock()
	}

	entries, err := p.source.Entries(acc.ID)
	if err != nil {
		return fmt.Errorf("entries of account %s: %w", acc.Number, err)
	}

	p.mu.Lock()
	mark := p.shipped[acc.ID]
	p.mu.Unlock()

	for i := mark; i < len(entries); i++ {
		if err := p.entries.SaveEntry(ctx, &entries[i]); err != nil {
			return fmt.Errorf("entry %s of account %s: %w", entries[i].ID.String(), acc.Number, err)
		}
		p.mu.Lock()
		p.shipped[acc.ID] = i + 1
		p.mu.Unlock()
	}

	return nil
}
