// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, plus schema migrations.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// Supported DB drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenOptions selects and tunes the storage backend.
type OpenOptions struct {
	Driver   string // sqlite|postgres
	Path     string // SQLite file path
	DSN      string // Postgres connection string
	Attempts uint   // connection attempts before giving up (>= 1)
	Delay    time.Duration
	Tracing  bool // install the OpenTelemetry GORM plugin
}

// Open connects to the configured backend, retrying transient connection
// failures, and installs the tracing plugin when requested.
func Open(ctx context.Context, opts OpenOptions) (*gorm.DB, error) {
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var db *gorm.DB
	err := retry.Do(
		func() error {
			var err error
			switch strings.ToLower(opts.Driver) {
			case "", DriverSQLite:
				db, err = OpenSQLite(opts.Path)
				// A missing directory will not appear by waiting.
				if err != nil && errors.Is(err, os.ErrNotExist) {
					return retry.Unrecoverable(err)
				}
			case DriverPostgres:
				db, err = OpenPostgres(ctx, opts.DSN)
			default:
				return retry.Unrecoverable(fmt.Errorf("unsupported DB driver %q", opts.Driver))
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("driver", opts.Driver).Msg("db connect failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}

	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	// PRAGMAs go in the DSN so every pooled connection gets them.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenPostgres connects to PostgreSQL and verifies the connection with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, retry.Unrecoverable(errors.New("postgres DSN is empty"))
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the schema for every domain model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Movie{},
		&domain.Review{},
		&domain.WatchlistEntry{},
		&domain.Idempotency{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
