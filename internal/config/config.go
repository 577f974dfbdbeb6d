// Package config provides configuration structures and validation for the
// ledger engine and its collaborators: logging, engine timing defaults, the
// optional archive stores and the concurrency simulator.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration. Each field represents
// one subsystem and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Engine      EngineConfig
	Simulator   SimulatorConfig
	Archive     ArchiveConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// EngineConfig contains the engine's default timing and retry parameters.
// LockTimeout bounds every blocking lock acquire; an un-timed wait is
// rejected by the lock manager.
type EngineConfig struct {
	LockTimeout  time.Duration
	MaxRetries   int           // Attempt budget for retryable failures
	RetryBackoff time.Duration // Fixed sleep between retry attempts
}

// SimulatorConfig drives the concurrent load scenario
type SimulatorConfig struct {
	Workers    int // Worker pool size
	Operations int // Total operations submitted to the pool
}

// ArchiveConfig configures the optional write-behind persistence of
// committed state. The archive never participates in the commit path.
type ArchiveConfig struct {
	Enabled         bool
	PollingInterval time.Duration
	Postgres        PostgresConfig
	MongoDB         MongoDBConfig
}

// PostgresConfig contains PostgreSQL configuration for account snapshots
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

// MongoDBConfig contains MongoDB configuration for archived ledger entries
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// validate checks all configuration values against their minimum
// requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	if c.Engine.LockTimeout <= 0 {
		validationErrors = append(validationErrors, "ENGINE_LOCK_TIMEOUT must be greater than 0")
	}
	if c.Engine.MaxRetries <= 0 {
		validationErrors = append(validationErrors, "ENGINE_MAX_RETRIES must be greater than 0")
	}
	if c.Engine.RetryBackoff < 0 {
		validationErrors = append(validationErrors, "ENGINE_RETRY_BACKOFF cannot be negative")
	}

	if c.Simulator.Workers <= 0 {
		validationErrors = append(validationErrors, "SIM_WORKERS must be greater than 0")
	}
	if c.Simulator.Operations <= 0 {
		validationErrors = append(validationErrors, "SIM_OPERATIONS must be greater than 0")
	}

	if c.Archive.Enabled {
		if c.Archive.PollingInterval <= 0 {
			validationErrors = append(validationErrors, "ARCHIVE_POLLING_INTERVAL must be greater than 0")
		}
		if c.Archive.Postgres.URL == "" {
			validationErrors = append(validationErrors, "POSTGRES_URL is required when the archive is enabled")
		}
		if c.Archive.Postgres.MaxConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
		}
		if c.Archive.Postgres.MinConns <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
		}
		if c.Archive.Postgres.ConnMaxLifetime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
		}
		if c.Archive.Postgres.ConnMaxIdleTime <= 0 {
			validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
		}
		if c.Archive.MongoDB.URI == "" {
			validationErrors = append(validationErrors, "MONGO_URI is required when the archive is enabled")
		}
		if c.Archive.MongoDB.Database == "" {
			validationErrors = append(validationErrors, "MONGO_DATABASE is required when the archive is enabled")
		}
		if c.Archive.MongoDB.Timeout <= 0 {
			validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
		}
		if c.Archive.MongoDB.MaxPoolSize <= 0 {
			validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
		}
		if c.Archive.MongoDB.MinPoolSize <= 0 {
			validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
		}
		if c.Archive.MongoDB.MaxConnIdleTime <= 0 {
			validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
		}
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
