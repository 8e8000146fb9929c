package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/repository"
)

// fileRepository implements repository.FileRepository for SQLite.
type fileRepository struct {
	db *DB
}

// NewFileRepository creates a new SQLite file repository.
func NewFileRepository(db *DB) repository.FileRepository {
	return &fileRepository{db: db}
}

const fileColumns = `id, original_name, stored_name, folder, relative_path,
	provider, provider_path, size, mime_type, description, uploaded_by,
	created_at, updated_at`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFile scans one row into a StorageFile. Timestamps are stored as
// RFC 3339 strings; identifiers as canonical UUID strings.
func scanFile(row rowScanner) (*domain.StorageFile, error) {
	f := &domain.StorageFile{}
	var id, createdAt, updatedAt string

	err := row.Scan(
		&id,
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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to scan file row: %w", err)
	}

	f.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file id %q: %w", id, err)
	}
	f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at %q: %w", updatedAt, err)
	}

	return f, nil
}

// Create inserts a new registry row.
func (r *fileRepository) Create(ctx context.Context, file *domain.StorageFile) error {
	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.db.ExecContext(ctx, query,
		file.ID.String(),
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
		file.CreatedAt.UTC().Format(time.RFC3339Nano),
		file.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by its identifier.
func (r *fileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.StorageFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ?`
	return scanFile(r.db.db.QueryRowContext(ctx, query, id.String()))
}

// GetByProviderPath retrieves a file by provider name and backend path.
func (r *fileRepository) GetByProviderPath(ctx context.Context, provider, path string) (*domain.StorageFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE provider = ? AND provider_path = ?`
	return scanFile(r.db.db.QueryRowContext(ctx, query, provider, path))
}

// ListByFolder returns files in a folder, newest first.
func (r *fileRepository) ListByFolder(ctx context.Context, folder string, opts repository.ListOptions) ([]*domain.StorageFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE folder = ? ORDER BY created_at DESC, id`
	args := []any{folder}
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list files by folder: %w", err)
	}
	defer rows.Close()

	return collectFiles(rows)
}

// ListByProvider streams every row on a provider in keyset-paged batches.
func (r *fileRepository) ListByProvider(ctx context.Context, provider string, batchSize int, fn func(files []*domain.StorageFile) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		query := `SELECT ` + fileColumns + `
			FROM files
			WHERE provider = ? AND id > ?
			ORDER BY id
			LIMIT ?`

		rows, err := r.db.db.QueryContext(ctx, query, provider, after, batchSize)
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
		after = batch[len(batch)-1].ID.String()

		if len(batch) < batchSize {
			return nil
		}
	}
}

// UpdateDescription updates the description of a file.
func (r *fileRepository) UpdateDescription(ctx context.Context, id uuid.UUID, description string) error {
	query := `UPDATE files SET description = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.db.ExecContext(ctx, query,
		description, time.Now().UTC().Format(time.RFC3339Nano), id.String())
	if err != nil {
		return fmt.Errorf("failed to update file description: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes a registry row by identifier.
func (r *fileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return requireRowAffected(result)
}

// DeleteByProviderPath removes a registry row by provider name and backend path.
func (r *fileRepository) DeleteByProviderPath(ctx context.Context, provider, path string) error {
	result, err := r.db.db.ExecContext(ctx,
		`DELETE FROM files WHERE provider = ? AND provider_path = ?`, provider, path)
	if err != nil {
		return fmt.Errorf("failed to delete file by provider path: %w", err)
	}
	return requireRowAffected(result)
}

// SumSizes returns the total bytes recorded across all rows.
func (r *fileRepository) SumSizes(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM files`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum file sizes: %w", err)
	}
	return total, nil
}

// SumSizesByFolder returns the total bytes recorded in one folder.
func (r *fileRepository) SumSizesByFolder(ctx context.Context, folder string) (int64, error) {
	var total int64
	err := r.db.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM files WHERE folder = ?`, folder).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum folder file sizes: %w", err)
	}
	return total, nil
}

// CountByFolder returns the number of rows in one folder.
func (r *fileRepository) CountByFolder(ctx context.Context, folder string) (int64, error) {
	var count int64
	err := r.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE folder = ?`, folder).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count folder files: %w", err)
	}
	return count, nil
}

// requireRowAffected maps a zero-row result to ErrFileNotFound.
func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

// collectFiles drains rows into StorageFile values.
func collectFiles(rows *sql.Rows) ([]*domain.StorageFile, error) {
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
