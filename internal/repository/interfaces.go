// Package repository defines data access interfaces for the Filewarden file
// registry. These interfaces abstract database operations, allowing for
// different implementations (PostgreSQL, SQLite, mocks for testing) while
// keeping the service layer clean.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/filewarden/filewarden/internal/domain"
)

// ListOptions controls pagination for folder listings.
type ListOptions struct {
	// Limit is the maximum number of rows to return. Zero means no limit.
	Limit int

	// Offset is the number of rows to skip.
	Offset int
}

// =============================================================================
// File Repository
// =============================================================================

// FileRepository defines the interface for file registry access.
// The registry is the authoritative mapping from file identifiers to
// metadata and backend locations; the storage service is its only writer.
type FileRepository interface {
	// Create inserts a new registry row.
	Create(ctx context.Context, file *domain.StorageFile) error

	// GetByID retrieves a file by its identifier.
	// Returns domain.ErrFileNotFound if no row exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.StorageFile, error)

	// GetByProviderPath retrieves a file by provider name and backend path.
	// Returns domain.ErrFileNotFound if no row exists.
	GetByProviderPath(ctx context.Context, provider, path string) (*domain.StorageFile, error)

	// ListByFolder returns files in a folder, newest first.
	ListByFolder(ctx context.Context, folder string, opts ListOptions) ([]*domain.StorageFile, error)

	// ListByProvider streams every row stored on a provider in keyset-paged
	// batches. fn is called once per batch; returning an error stops the
	// iteration. The context is checked between batches, so a long fetch is
	// cancellable without leaving the iteration half-consumed.
	ListByProvider(ctx context.Context, provider string, batchSize int, fn func(files []*domain.StorageFile) error) error

	// UpdateDescription updates the description of a file. Description is
	// the only mutable metadata; content is immutable once stored.
	UpdateDescription(ctx context.Context, id uuid.UUID, description string) error

	// Delete removes a registry row by identifier.
	// Returns domain.ErrFileNotFound if no row exists.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByProviderPath removes a registry row by provider name and
	// backend path. Returns domain.ErrFileNotFound if no row exists.
	DeleteByProviderPath(ctx context.Context, provider, path string) error

	// SumSizes returns the total bytes recorded across all rows.
	// This is the authoritative global usage number; it is never cached.
	SumSizes(ctx context.Context) (int64, error)

	// SumSizesByFolder returns the total bytes recorded in one folder.
	SumSizesByFolder(ctx context.Context, folder string) (int64, error)

	// CountByFolder returns the number of rows in one folder.
	CountByFolder(ctx context.Context, folder string) (int64, error)
}

// DatabaseHealth is an interface for database lifecycle and health checks.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Close() error
}
