package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/repository"
)

// fileRepository implements repository.FileRepository for PostgreSQL.
type fileRepository struct {
	db *DB
}

// NewFileRepository creates a new PostgreSQL file repository.
func NewFileRepository(db *DB) repository.FileRepository {
	return &fileRepository{db: db}
}

const fileColumns = `id, original_name, stored_name, folder, relative_path,
	provider, provider_path, size, mime_type, description, uploaded_by,
	created_at, updated_at`

// scanFile scans one row into a StorageFile.
func scanFile(row pgx.Row) (*domain.StorageFile, error) {
	f := &domain.StorageFile{}
	err := row.Scan(
		&f.ID,
		&f.OriginalName,
		&f.StoredName,
		&f.Folder,
		&f.RelativePath,
		&f.Provider,
		&f.ProviderPath,
		&f.Size,
		&f.MimeType,
		&f.Description,
		&f.UploadedBy,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to scan file row: %w", err)
	}
	return f, nil
}

// Create inserts a new registry row.
func (r *fileRepository) Create(ctx context.Context, file *domain.StorageFile) error {
	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		file.ID,
		file.OriginalName,
		file.StoredName,
		file.Folder,
		file.RelativePath,
		file.Provider,
		file.ProviderPath,
		file.Size,
		file.MimeType,
		file.Description,
		file.UploadedBy,
		file.CreatedAt,
		file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by its identifier.
func (r *fileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.StorageFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	return scanFile(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByProviderPath retrieves a file by provider name and backend path.
func (r *fileRepository) GetByProviderPath(ctx context.Context, provider, path string) (*domain.StorageFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE provider = $1 AND provider_path = $2`
	return scanFile(r.db.Pool.QueryRow(ctx, query, provider, path))
}

// ListByFolder returns files in a folder, newest first.
func (r *fileRepository) ListByFolder(ctx context.Context, folder string, opts repository.ListOptions) ([]*domain.StorageFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE folder = $1 ORDER BY created_at DESC, id`
	args := []any{folder}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files by folder: %w", err)
	}
	defer rows.Close()

	return collectFiles(rows)
}

// ListByProvider streams every row on a provider in keyset-paged batches.
// Paging by id keeps each query bounded; the context is checked between
// batches so a long reconciliation fetch cancels cleanly.
func (r *fileRepository) ListByProvider(ctx context.Context, provider string, batchSize int, fn func(files []*domain.StorageFile) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var after uuid.UUID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		query := `SELECT ` + fileColumns + `
			FROM files
			WHERE provider = $1 AND id > $2
			ORDER BY id
			LIMIT $3`

		rows, err := r.db.Pool.Query(ctx, query, provider, after, batchSize)
		if err != nil {
			return fmt.Errorf("failed to list files by provider: %w", err)
		}

		batch, err := collectFiles(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}
		after = batch[len(batch)-1].ID

		if len(batch) < batchSize {
			return nil
		}
	}
}

// UpdateDescription updates the description of a file.
func (r *fileRepository) UpdateDescription(ctx context.Context, id uuid.UUID, description string) error {
	query := `UPDATE files SET description = $2, updated_at = now() WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, id, description)
	if err != nil {
		return fmt.Errorf("failed to update file description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// Delete removes a registry row by identifier.
func (r *fileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// DeleteByProviderPath removes a registry row by provider name and backend path.
func (r *fileRepository) DeleteByProviderPath(ctx context.Context, provider, path string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM files WHERE provider = $1 AND provider_path = $2`, provider, path)
	if err != nil {
		return fmt.Errorf("failed to delete file by provider path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// SumSizes returns the total bytes recorded across all rows.
func (r *fileRepository) SumSizes(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(size), 0) FROM files`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum file sizes: %w", err)
	}
	return total, nil
}

// SumSizesByFolder returns the total bytes recorded in one folder.
func (r *fileRepository) SumSizesByFolder(ctx context.Context, folder string) (int64, error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM files WHERE folder = $1`, folder).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum folder file sizes: %w", err)
	}
	return total, nil
}

// CountByFolder returns the number of rows in one folder.
func (r *fileRepository) CountByFolder(ctx context.Context, folder string) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM files WHERE folder = $1`, folder).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count folder files: %w", err)
	}
	return count, nil
}

// collectFiles drains rows into StorageFile values.
func collectFiles(rows pgx.Rows) ([]*domain.StorageFile, error) {
	var files []*domain.StorageFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file rows: %w", err)
	}
	return files, nil
}
