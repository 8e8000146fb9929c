// Package postgres provides the PostgreSQL implementation of the file
// registry.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
)

// DB wraps a pgx connection pool with additional functionality.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection pool.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int("max_conns", cfg.MaxOpenConns).
		Msg("connected to PostgreSQL")

	return &DB{
		Pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	db.Pool.Close()
	db.logger.Info().Msg("database connection pool closed")
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate creates the registry schema if it does not exist. The secondary
// indexes back the Reconciler's provider-path lookup and the Quota Manager's
// folder-sum query.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id            UUID PRIMARY KEY,
			original_name TEXT        NOT NULL,
			stored_name   TEXT        NOT NULL,
			folder        TEXT        NOT NULL,
			relative_path TEXT        NOT NULL,
			provider      TEXT        NOT NULL,
			provider_path TEXT        NOT NULL,
			size          BIGINT      NOT NULL,
			mime_type     TEXT        NOT NULL DEFAULT '',
			description   TEXT        NOT NULL DEFAULT '',
			uploaded_by   TEXT        NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			UNIQUE (folder, stored_name)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_provider_path
			ON files (provider, provider_path)`,
		`CREATE INDEX IF NOT EXISTS idx_files_folder ON files (folder)`,
	}

	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	db.logger.Info().Msg("registry schema up to date")
	return nil
}
