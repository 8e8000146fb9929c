// Package service provides the governance logic for Filewarden.
package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/metrics"
	"github.com/filewarden/filewarden/internal/provider"
	"github.com/filewarden/filewarden/internal/repository"
)

// MetadataCache caches registry rows by identifier. Only metadata is ever
// cached; quota numbers are always recomputed from the registry.
type MetadataCache interface {
	Get(id uuid.UUID) (*domain.StorageFile, bool)
	Set(file *domain.StorageFile)
	Delete(id uuid.UUID)
}

// StorageService orchestrates validated uploads, downloads, deletes, and
// listings against a provider adapter and the file registry. It is the only
// writer of registry rows.
type StorageService struct {
	files     repository.FileRepository
	providers *provider.Registry
	rules     *config.RulesHolder
	quota     *QuotaManager
	collector *metrics.Collector
	cache     MetadataCache
	logger    zerolog.Logger
}

// NewStorageService creates a StorageService. cache may be nil.
func NewStorageService(
	files repository.FileRepository,
	providers *provider.Registry,
	rules *config.RulesHolder,
	quota *QuotaManager,
	collector *metrics.Collector,
	cache MetadataCache,
	logger zerolog.Logger,
) *StorageService {
	return &StorageService{
		files:     files,
		providers: providers,
		rules:     rules,
		quota:     quota,
		collector: collector,
		cache:     cache,
		logger:    logger.With().Str("service", "storage").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// UploadInput contains the data needed to store a file.
type UploadInput struct {
	// Folder is the logical namespace to upload into.
	Folder string

	// FileName is the client-submitted name.
	FileName string

	// Body is the content stream.
	Body io.Reader

	// Size is the content length in bytes.
	Size int64

	// MimeType is the declared content type.
	MimeType string

	// Description is optional metadata.
	Description string

	// UploadedBy is the optional uploader identity.
	UploadedBy string
}

// =============================================================================
// Service Methods
// =============================================================================

// Upload validates, admits, and stores one file.
//
// The sequence is strict: folder/extension/size validation, then the quota
// check, and only then the backend write followed by the registry insert. A
// rejected upload therefore never touches the backend, and a failed backend
// write never leaves a registry row. The one divergence this ordering can
// produce - registry insert failing after a successful backend write - is a
// real in_storage orphan, surfaced in the returned error and left for the
// reconciler rather than retried inline.
func (s *StorageService) Upload(ctx context.Context, input UploadInput) (*domain.StorageFile, error) {
	start := time.Now()

	file, providerName, err := s.upload(ctx, input)
	s.record(metrics.Record{
		Op:        metrics.OpUpload,
		Success:   err == nil,
		Bytes:     uploadedBytes(file),
		Latency:   time.Since(start),
		Provider:  providerName,
		ErrorCode: errorCode(err),
	})
	return file, err
}

// upload implements Upload; it returns the provider name for metrics even
// when the operation fails.
func (s *StorageService) upload(ctx context.Context, input UploadInput) (*domain.StorageFile, string, error) {
	rules := s.rules.Current()

	folder, ok := rules.Folder(input.Folder)
	if !ok {
		return nil, "", domain.NewValidationError(domain.CodeFolderNotFound,
			fmt.Sprintf("folder %q is not configured", input.Folder), domain.ErrFolderNotFound)
	}
	providerName := rules.ProviderFor(folder)

	if input.FileName == "" {
		return nil, providerName, domain.NewValidationError(domain.CodeValidation,
			"file name must not be empty", domain.ErrEmptyFileName)
	}
	ext := domain.Extension(input.FileName)
	if !folder.ExtensionAllowed(ext) {
		return nil, providerName, domain.NewValidationError(domain.CodeExtensionDenied,
			fmt.Sprintf("extension %q is not allowed in folder %q", ext, folder.Name),
			domain.ErrExtensionNotAllowed)
	}
	if folder.MaxFileSize > 0 && input.Size > folder.MaxFileSize {
		return nil, providerName, domain.NewValidationError(domain.CodeFileTooLarge,
			fmt.Sprintf("file size %d exceeds folder maximum %d", input.Size, folder.MaxFileSize),
			domain.ErrFileTooLarge)
	}

	// Quota is checked after validation and provably before any backend I/O.
	if err := s.quota.Check(ctx, folder.Name, input.Size); err != nil {
		return nil, providerName, err
	}

	adapter, err := s.providers.Get(providerName)
	if err != nil {
		return nil, providerName, err
	}

	id := uuid.New()
	storedName := domain.StoredName(input.FileName, id)
	providerPath := path.Join(folder.EffectiveSubpath(), storedName)

	if err := adapter.Put(ctx, providerPath, input.Body, input.Size); err != nil {
		// No registry row was written: a failed upload creates no orphan.
		return nil, providerName, err
	}

	now := time.Now().UTC()
	file := &domain.StorageFile{
		ID:           id,
		OriginalName: input.FileName,
		StoredName:   storedName,
		Folder:       folder.Name,
		RelativePath: path.Join(folder.Name, storedName),
		Provider:     providerName,
		ProviderPath: providerPath,
		Size:         input.Size,
		MimeType:     input.MimeType,
		Description:  input.Description,
		UploadedBy:   input.UploadedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.files.Create(ctx, file); err != nil {
		// The bytes are on the backend but the registry insert failed: a
		// real in_storage orphan. Reported, not silently retried; the
		// reconciler is the single repair path.
		s.logger.Error().
			Err(err).
			Str("provider", providerName).
			Str("provider_path", providerPath).
			Msg("registry insert failed after backend write; orphan left for reconciler")
		return nil, providerName, &domain.OrphanedFileError{
			Type: domain.OrphanInStorage,
			Path: providerPath,
			Err:  err,
		}
	}

	if s.cache != nil {
		s.cache.Set(file)
	}

	s.logger.Info().
		Str("id", id.String()).
		Str("folder", folder.Name).
		Str("provider", providerName).
		Int64("size", input.Size).
		Msg("file stored")

	return file, providerName, nil
}

// UploadBatch stores multiple files, isolating per-item failures: one item's
// error never aborts the batch. Results are returned in submission order
// with machine-readable error codes for operator triage.
func (s *StorageService) UploadBatch(ctx context.Context, inputs []UploadInput) *domain.BatchUploadResponse {
	resp := &domain.BatchUploadResponse{
		Results: make([]domain.UploadResult, 0, len(inputs)),
	}

	for _, input := range inputs {
		result := domain.UploadResult{OriginalName: input.FileName}

		file, err := s.Upload(ctx, input)
		if err != nil {
			result.ErrorCode = domain.ErrorCode(err)
			result.ErrorMessage = err.Error()
			resp.Failed++
		} else {
			result.File = file
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, result)
	}

	return resp
}

// Download opens the stored bytes for a file. The caller must close the
// returned stream.
func (s *StorageService) Download(ctx context.Context, id uuid.UUID) (*domain.StorageFile, io.ReadCloser, error) {
	start := time.Now()

	file, err := s.GetMetadata(ctx, id)
	if err != nil {
		s.record(metrics.Record{
			Op: metrics.OpDownload, Latency: time.Since(start), ErrorCode: errorCode(err),
		})
		return nil, nil, err
	}

	adapter, err := s.providers.Get(file.Provider)
	var body io.ReadCloser
	if err == nil {
		body, err = adapter.Get(ctx, file.ProviderPath)
	}

	s.record(metrics.Record{
		Op:        metrics.OpDownload,
		Success:   err == nil,
		Bytes:     downloadedBytes(file, err),
		Latency:   time.Since(start),
		Provider:  file.Provider,
		ErrorCode: errorCode(err),
	})
	if err != nil {
		if domain.IsNotFound(err) {
			// Registry row exists but the backend object is gone: an
			// in_database orphan observed outside reconciliation.
			return nil, nil, &domain.OrphanedFileError{
				Type: domain.OrphanInDatabase,
				Path: file.ProviderPath,
				Err:  err,
			}
		}
		return nil, nil, err
	}

	return file, body, nil
}

// GetMetadata returns the registry row for a file.
func (s *StorageService) GetMetadata(ctx context.Context, id uuid.UUID) (*domain.StorageFile, error) {
	if s.cache != nil {
		if file, ok := s.cache.Get(id); ok {
			return file, nil
		}
	}

	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(file)
	}
	return file, nil
}

// UpdateDescription edits a file's description, the only mutable metadata.
func (s *StorageService) UpdateDescription(ctx context.Context, id uuid.UUID, description string) error {
	if err := s.files.UpdateDescription(ctx, id, description); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Delete(id)
	}
	return nil
}

// Delete removes a file's registry row and backend object as one logical
// operation. The two steps are not atomic: a backend failure after the row
// is gone leaves a real in_storage orphan, surfaced to the caller and left
// for the reconciler.
func (s *StorageService) Delete(ctx context.Context, id uuid.UUID) error {
	start := time.Now()

	file, providerName, err := s.delete(ctx, id)
	s.record(metrics.Record{
		Op:        metrics.OpDelete,
		Success:   err == nil,
		Bytes:     uploadedBytes(file),
		Latency:   time.Since(start),
		Provider:  providerName,
		ErrorCode: errorCode(err),
	})
	return err
}

// delete implements Delete.
func (s *StorageService) delete(ctx context.Context, id uuid.UUID) (*domain.StorageFile, string, error) {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	adapter, err := s.providers.Get(file.Provider)
	if err != nil {
		return nil, file.Provider, err
	}

	// Registry row first: a half-deleted file must disappear from listings
	// and quota sums immediately.
	if err := s.files.Delete(ctx, id); err != nil {
		return file, file.Provider, err
	}
	if s.cache != nil {
		s.cache.Delete(id)
	}

	if err := adapter.Delete(ctx, file.ProviderPath); err != nil && !provider.IsNotFound(err) {
		s.logger.Error().
			Err(err).
			Str("id", id.String()).
			Str("provider_path", file.ProviderPath).
			Msg("backend delete failed after registry delete; orphan left for reconciler")
		return file, file.Provider, &domain.OrphanedFileError{
			Type: domain.OrphanInStorage,
			Path: file.ProviderPath,
			Err:  err,
		}
	}

	s.logger.Info().
		Str("id", id.String()).
		Str("folder", file.Folder).
		Msg("file deleted")

	return file, file.Provider, nil
}

// DeleteBatch removes multiple files, isolating per-item failures.
func (s *StorageService) DeleteBatch(ctx context.Context, ids []uuid.UUID) *domain.BatchDeleteResponse {
	resp := &domain.BatchDeleteResponse{
		Results: make([]domain.DeleteResult, 0, len(ids)),
	}

	for _, id := range ids {
		result := domain.DeleteResult{ID: id}

		if err := s.Delete(ctx, id); err != nil {
			result.ErrorCode = domain.ErrorCode(err)
			result.ErrorMessage = err.Error()
			resp.Failed++
		} else {
			result.Deleted = true
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, result)
	}

	return resp
}

// List returns the registry rows in a folder, newest first.
func (s *StorageService) List(ctx context.Context, folder string, opts repository.ListOptions) ([]*domain.StorageFile, error) {
	start := time.Now()

	rules := s.rules.Current()
	folderCfg, ok := rules.Folder(folder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFolderNotFound, folder)
	}

	files, err := s.files.ListByFolder(ctx, folder, opts)
	s.record(metrics.Record{
		Op:        metrics.OpList,
		Success:   err == nil,
		Latency:   time.Since(start),
		Provider:  rules.ProviderFor(folderCfg),
		ErrorCode: errorCode(err),
	})
	return files, err
}

// record forwards to the collector when one is configured.
func (s *StorageService) record(rec metrics.Record) {
	if s.collector != nil {
		s.collector.Record(rec)
	}
}

// errorCode maps an error to its machine-readable code, "" for nil.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return domain.ErrorCode(err)
}

// uploadedBytes returns the byte count to report for a completed write.
func uploadedBytes(file *domain.StorageFile) int64 {
	if file == nil {
		return 0
	}
	return file.Size
}

// downloadedBytes returns the byte count to report for a read.
func downloadedBytes(file *domain.StorageFile, err error) int64 {
	if file == nil || err != nil {
		return 0
	}
	return file.Size
}
