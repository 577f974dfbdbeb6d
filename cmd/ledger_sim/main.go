// ledger_sim seeds a small ledger and drives concurrent optimistic,
// pessimistic and transfer traffic against the engine through a worker pool,
// then demonstrates what each isolation level lets a reader observe. With the
// archive enabled, committed state is shipped to PostgreSQL and MongoDB in
// the background while the load runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/isolation-ledger/internal/archiver"
	"github.com/isolation-ledger/internal/config"
	"github.com/isolation-ledger/internal/data/mongo"
	"github.com/isolation-ledger/internal/data/postgres"
	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/shared"
	"github.com/isolation-ledger/internal/engine"
	"github.com/isolation-ledger/internal/engine/lock"
	"github.com/isolation-ledger/internal/logger"
	"github.com/isolation-ledger/internal/platform/persistence"
	"github.com/isolation-ledger/internal/retry"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("ledger_sim")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	log.Info("Starting Ledger Simulator",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Stop on SIGINT/SIGTERM even mid-scenario
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-quit
		log.Info("Shutdown signal received")
		cancelAppCtx()
	}()

	eng := engine.New(log)

	seeds := []struct {
		number  string
		owner   string
		balance string
	}{
		{"ACC001", "John Doe", "1000.00"},
		{"ACC002", "Jane Smith", "2000.00"},
		{"ACC003", "Bob Johnson", "3000.00"},
	}

	accounts := make([]account.Account, 0, len(seeds))
	total := decimal.Zero
	for _, s := range seeds {
		balance, err := decimal.NewFromString(s.balance)
		if err != nil {
			log.Error("Invalid seed balance", "number", s.number, "error", err)
			os.Exit(1)
		}
		acc, err := eng.CreateAccount(s.number, s.owner, balance)
		if err != nil {
			log.Error("Failed to seed account", "number", s.number, "error", err)
			os.Exit(1)
		}
		accounts = append(accounts, acc)
		total = total.Add(balance)
	}

	// Optional write-behind archive
	var (
		wg         sync.WaitGroup
		postgresDB *persistence.PostgresDB
		mongoDB    *persistence.MongoDB
	)
	if cfg.Archive.Enabled {
		postgresDB, err = persistence.NewPostgresDB(appCtx, log, &cfg.Archive.Postgres)
		if err != nil {
			log.Error("Failed to initialize PostgreSQL", "error", err)
			os.Exit(1)
		}
		mongoDB, err = persistence.NewMongoDB(appCtx, log, &cfg.Archive.MongoDB)
		if err != nil {
			log.Error("Failed to initialize MongoDB", "error", err)
			os.Exit(1)
		}

		poller := archiver.NewPoller(
			eng,
			postgres.NewSnapshotRepository(log, postgresDB),
			mongo.NewEntryRepository(log, mongoDB.Database()),
			cfg.Archive.PollingInterval,
			log,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Start(appCtx)
		}()
	}

	pool, err := ants.NewPool(cfg.Simulator.Workers)
	if err != nil {
		log.Error("Failed to create worker pool", "error", err)
		os.Exit(1)
	}

	runLoad(appCtx, log, cfg, eng, accounts, pool)
	demonstrateIsolation(appCtx, log, cfg, eng, accounts[0])

	// Conservation check: internal traffic only moves money around
	final := decimal.Zero
	for _, acc := range eng.ListAccounts() {
		final = final.Add(acc.Balance)
	}
	log.Info("Simulation finished",
		"seeded_total", total.String(),
		"final_total", final.String(),
		"conserved", final.Equal(total),
	)

	cancelAppCtx()
	log.Info("Shutting down worker pool", "running_workers", pool.Running())
	pool.Release()
	wg.Wait()

	if postgresDB != nil {
		postgresDB.Close()
	}
	if mongoDB != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := mongoDB.Close(shutdownCtx); err != nil {
			log.Error("Error closing MongoDB connection", "error", err)
		}
	}

	log.Info("Ledger Simulator shutdown completed")
}

// runLoad submits a mix of transfers, optimistic applies (with bounded
// retry) and pessimistic applies to the pool and waits for all of them.
// Transfers only move money between the seeded accounts, so the total stays
// put; deposits and withdrawals come in matched pairs for the same reason.
func runLoad(ctx context.Context, log *slog.Logger, cfg *config.Config, eng *engine.Engine, accounts []account.Account, pool *ants.Pool) {
	policy := retry.Policy{
		MaxAttempts: cfg.Engine.MaxRetries,
		Backoff:     cfg.Engine.RetryBackoff,
	}

	var (
		wg        sync.WaitGroup
		conflicts atomic.Int64
		timeouts  atomic.Int64
		failures  atomic.Int64
	)

	for i := 0; i < cfg.Simulator.Operations; i++ {
		op := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}

			from := accounts[rand.Intn(len(accounts))]
			to := accounts[rand.Intn(len(accounts))]
			amount := decimal.NewFromInt(int64(1 + rand.Intn(50)))

			var err error
			switch op % 3 {
			case 0:
				if from.ID == to.ID {
					return
				}
				_, err = eng.Transfer(ctx, from.ID, to.ID, amount, cfg.Engine.LockTimeout)
				if errors.Is(err, account.ErrInsufficientFunds) {
					err = nil // expected under contention
				}
			case 1:
				// Retry each apply on its own: retrying the pair as one unit
				// would repeat an already committed deposit.
				err = retry.Do(ctx, policy, func(ctx context.Context) error {
					_, depositErr := eng.ApplyOptimistic(from.ID, amount, "Deposit")
					if depositErr != nil {
						conflicts.Add(1)
					}
					return depositErr
				})
				if err == nil {
					err = retry.Do(ctx, policy, func(ctx context.Context) error {
						_, withdrawErr := eng.ApplyOptimistic(from.ID, amount.Neg(), "Withdrawal")
						if withdrawErr != nil {
							conflicts.Add(1)
						}
						return withdrawErr
					})
				}
			default:
				if _, err = eng.ApplyPessimistic(ctx, from.ID, amount, "Deposit", cfg.Engine.LockTimeout); err == nil {
					_, err = eng.ApplyPessimistic(ctx, from.ID, amount.Neg(), "Withdrawal", cfg.Engine.LockTimeout)
				}
				if errors.Is(err, lock.ErrLockTimeout{}) {
					timeouts.Add(1)
				}
			}

			if err != nil && ctx.Err() == nil {
				failures.Add(1)
				log.Warn("operation failed", "op", op, "error", err)
			}
		}); err != nil {
			wg.Done()
			log.Error("Failed to submit operation to worker pool", "op", op, "error", err)
		}
	}

	wg.Wait()
	log.Info("Load phase finished",
		"operations", cfg.Simulator.Operations,
		"optimistic_conflicts", conflicts.Load(),
		"lock_timeouts", timeouts.Load(),
		"failures", failures.Load(),
	)
}

// demonstrateIsolation stages an uncommitted write on one account and shows
// what a reader at each isolation level observes, then rolls the write back.
func demonstrateIsolation(ctx context.Context, log *slog.Logger, cfg *config.Config, eng *engine.Engine, acc account.Account) {
	writer, err := eng.Begin(shared.IsolationReadCommitted)
	if err != nil {
		log.Error("Failed to begin writer transaction", "error", err)
		return
	}
	defer writer.End()

	update, err := writer.BeginUpdate(ctx, acc.ID, cfg.Engine.LockTimeout)
	if err != nil {
		log.Error("Failed to begin update", "error", err)
		return
	}
	if err := update.Stage(update.Account().Balance.Add(decimal.NewFromInt(999))); err != nil {
		log.Error("Failed to stage balance", "error", err)
		return
	}

	for _, mode := range []shared.IsolationMode{
		shared.IsolationReadUncommitted,
		shared.IsolationReadCommitted,
		shared.IsolationRepeatableRead,
		shared.IsolationSerializable,
	} {
		tx, err := eng.Begin(mode)
		if err != nil {
			log.Error("Failed to begin reader transaction", "mode", string(mode), "error", err)
			continue
		}
		result, err := eng.ReadWithIsolation(tx, acc.ID)
		if err != nil {
			log.Error("Isolated read failed", "mode", string(mode), "error", err)
		} else {
			log.Info("isolated read",
				"mode", string(mode),
				"number", acc.Number,
				"balance", result.Account.Balance.String(),
				"dirty", result.Dirty,
				"permitted_anomaly", string(result.Permitted),
			)
		}
		tx.End()
	}

	if err := update.Rollback(); err != nil {
		log.Error("Failed to roll back staged write", "error", err)
	}
}
