// Package sqlite provides the SQLite implementation of the file registry.
// It uses modernc.org/sqlite, a pure Go SQLite implementation that doesn't
// require CGO, making it ideal for single-binary deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
)

// DB wraps a sql.DB connection for SQLite.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
	path   string
}

// NewDB creates a new SQLite database connection.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "WAL"
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	connStr := fmt.Sprintf(
		"%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=ON",
		cfg.Path, journalMode, busyTimeout,
	)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	logger.Info().
		Str("path", cfg.Path).
		Str("journal_mode", journalMode).
		Msg("connected to SQLite database")

	return &DB{
		db:     db,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.logger.Info().Msg("closing SQLite connection")
	return db.db.Close()
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Migrate creates the registry schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id            TEXT PRIMARY KEY,
			original_name TEXT    NOT NULL,
			stored_name   TEXT    NOT NULL,
			folder        TEXT    NOT NULL,
			relative_path TEXT    NOT NULL,
			provider      TEXT    NOT NULL,
			provider_path TEXT    NOT NULL,
			size          INTEGER NOT NULL,
			mime_type     TEXT    NOT NULL DEFAULT '',
			description   TEXT    NOT NULL DEFAULT '',
			uploaded_by   TEXT    NOT NULL DEFAULT '',
			created_at    TEXT    NOT NULL,
			updated_at    TEXT    NOT NULL,
			UNIQUE (folder, stored_name)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_provider_path
			ON files (provider, provider_path)`,
		`CREATE INDEX IF NOT EXISTS idx_files_folder ON files (folder)`,
	}

	for _, stmt := range statements {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	db.logger.Info().Msg("registry schema up to date")
	return nil
}
