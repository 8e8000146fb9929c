// Package service provides the governance logic for Filewarden.
package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/provider"
	"github.com/filewarden/filewarden/internal/repository"
)

// =============================================================================
// Mock Types
// =============================================================================

type mockFileRepository struct {
	mock.Mock
}

func (m *mockFileRepository) Create(ctx context.Context, file *domain.StorageFile) error {
	args := m.Called(ctx, file)
	return args.Error(0)
}

func (m *mockFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.StorageFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StorageFile), args.Error(1)
}

func (m *mockFileRepository) GetByProviderPath(ctx context.Context, provider, path string) (*domain.StorageFile, error) {
	args := m.Called(ctx, provider, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StorageFile), args.Error(1)
}

func (m *mockFileRepository) ListByFolder(ctx context.Context, folder string, opts repository.ListOptions) ([]*domain.StorageFile, error) {
	args := m.Called(ctx, folder, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.StorageFile), args.Error(1)
}

func (m *mockFileRepository) ListByProvider(ctx context.Context, provider string, batchSize int, fn func(files []*domain.StorageFile) error) error {
	args := m.Called(ctx, provider, batchSize, fn)
	return args.Error(0)
}

func (m *mockFileRepository) UpdateDescription(ctx context.Context, id uuid.UUID, description string) error {
	args := m.Called(ctx, id, description)
	return args.Error(0)
}

func (m *mockFileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockFileRepository) DeleteByProviderPath(ctx context.Context, provider, path string) error {
	args := m.Called(ctx, provider, path)
	return args.Error(0)
}

func (m *mockFileRepository) SumSizes(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFileRepository) SumSizesByFolder(ctx context.Context, folder string) (int64, error) {
	args := m.Called(ctx, folder)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFileRepository) CountByFolder(ctx context.Context, folder string) (int64, error) {
	args := m.Called(ctx, folder)
	return args.Get(0).(int64), args.Error(1)
}

// mockAdapter is a mock storage backend. Name and Kind are plain fields so
// the identity calls don't need expectations.
type mockAdapter struct {
	mock.Mock
	name string
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{name: name}
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Kind() config.ProviderKind { return config.KindLocal }

func (m *mockAdapter) List(ctx context.Context, prefix string) ([]provider.ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.ObjectInfo), args.Error(1)
}

func (m *mockAdapter) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	args := m.Called(ctx, path, r, size)
	return args.Error(0)
}

func (m *mockAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockAdapter) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

// =============================================================================
// Helper Functions
// =============================================================================

func testRules(globalQuota int64, folders ...config.FolderConfig) *config.RulesHolder {
	return config.NewRulesHolder(config.StorageConfig{
		ActiveProvider: "primary",
		GlobalQuota:    globalQuota,
		Folders:        folders,
	})
}

func newTestStorageService(adapter *mockAdapter, rules *config.RulesHolder) (*StorageService, *mockFileRepository) {
	repo := new(mockFileRepository)
	registry := provider.NewStaticRegistry(adapter)
	quota := NewQuotaManager(repo, rules, zerolog.Nop())
	svc := NewStorageService(repo, registry, rules, quota, nil, nil, zerolog.Nop())
	return svc, repo
}

func docsFolder() config.FolderConfig {
	return config.FolderConfig{
		Name:              "documents",
		AllowedExtensions: []string{"pdf", "txt"},
		MaxFileSize:       10 << 20,
	}
}

// =============================================================================
// Upload
// =============================================================================

func TestStorageService_Upload(t *testing.T) {
	tests := []struct {
		name    string
		folders []config.FolderConfig
		input   UploadInput
		setup   func(*mockFileRepository, *mockAdapter)
		wantErr error
	}{
		{
			name:    "success",
			folders: []config.FolderConfig{docsFolder()},
			input: UploadInput{
				Folder:   "documents",
				FileName: "Quarterly Report.pdf",
				Body:     bytes.NewReader([]byte("content")),
				Size:     7,
				MimeType: "application/pdf",
			},
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				adapter.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, int64(7)).Return(nil)
				repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.StorageFile")).Return(nil)
			},
			wantErr: nil,
		},
		{
			name:    "folder not configured",
			folders: []config.FolderConfig{docsFolder()},
			input: UploadInput{
				Folder:   "pictures",
				FileName: "cat.pdf",
				Size:     5,
			},
			setup:   func(repo *mockFileRepository, adapter *mockAdapter) {},
			wantErr: domain.ErrFolderNotFound,
		},
		{
			name:    "empty file name",
			folders: []config.FolderConfig{docsFolder()},
			input: UploadInput{
				Folder: "documents",
				Size:   5,
			},
			setup:   func(repo *mockFileRepository, adapter *mockAdapter) {},
			wantErr: domain.ErrEmptyFileName,
		},
		{
			name:    "extension not allowed",
			folders: []config.FolderConfig{docsFolder()},
			input: UploadInput{
				Folder:   "documents",
				FileName: "malware.exe",
				Size:     5,
			},
			setup:   func(repo *mockFileRepository, adapter *mockAdapter) {},
			wantErr: domain.ErrExtensionNotAllowed,
		},
		{
			name:    "file too large",
			folders: []config.FolderConfig{docsFolder()},
			input: UploadInput{
				Folder:   "documents",
				FileName: "big.pdf",
				Size:     11 << 20,
			},
			setup:   func(repo *mockFileRepository, adapter *mockAdapter) {},
			wantErr: domain.ErrFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newMockAdapter("primary")
			svc, repo := newTestStorageService(adapter, testRules(0, tt.folders...))
			tt.setup(repo, adapter)

			file, err := svc.Upload(context.Background(), tt.input)

			if tt.wantErr != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tt.wantErr)
				// A rejected upload never reaches the backend or the registry.
				adapter.AssertNotCalled(t, "Put")
				repo.AssertNotCalled(t, "Create")
			} else {
				require.NoError(t, err)
				require.NotEqual(t, uuid.Nil, file.ID)
				require.Equal(t, "documents", file.Folder)
				require.Equal(t, "primary", file.Provider)
				require.True(t, strings.HasPrefix(file.ProviderPath, "documents/"))
				require.True(t, strings.HasSuffix(file.StoredName, ".pdf"))
				require.Equal(t, "Quarterly Report.pdf", file.OriginalName)
			}

			mock.AssertExpectationsForObjects(t, repo, adapter)
		})
	}
}

func TestStorageService_Upload_QuotaCheckedBeforeBackendWrite(t *testing.T) {
	folder := docsFolder()
	folder.Quota = 10 << 20 // 10 MB

	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, folder))

	// 9 MB already used; a 2 MB upload must be rejected with 1 MB available.
	repo.On("SumSizesByFolder", mock.Anything, "documents").Return(int64(9<<20), nil)

	_, err := svc.Upload(context.Background(), UploadInput{
		Folder:   "documents",
		FileName: "report.pdf",
		Body:     bytes.NewReader(make([]byte, 2<<20)),
		Size:     2 << 20,
	})

	require.Error(t, err)
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, domain.QuotaScopeFolder, qe.Scope)
	require.Equal(t, int64(9<<20), qe.Used)
	require.Equal(t, int64(10<<20), qe.Limit)
	require.Equal(t, int64(1<<20), qe.Available)
	require.Equal(t, int64(2<<20), qe.Incoming)

	// The rejection happened before any backend I/O.
	adapter.AssertNotCalled(t, "Put")
	repo.AssertNotCalled(t, "Create")
	mock.AssertExpectationsForObjects(t, repo, adapter)
}

func TestStorageService_Upload_BackendFailureLeavesNoRegistryRow(t *testing.T) {
	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))

	backendErr := &domain.ProviderError{Provider: "primary", Op: "put", Err: errors.New("disk full")}
	adapter.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, int64(5)).Return(backendErr)

	_, err := svc.Upload(context.Background(), UploadInput{
		Folder:   "documents",
		FileName: "note.txt",
		Body:     strings.NewReader("hello"),
		Size:     5,
	})

	require.Error(t, err)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)

	// No row was written: a failed backend write creates no orphan.
	repo.AssertNotCalled(t, "Create")
	mock.AssertExpectationsForObjects(t, repo, adapter)
}

func TestStorageService_Upload_RegistryFailureAfterWriteIsOrphan(t *testing.T) {
	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))

	adapter.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, int64(5)).Return(nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.StorageFile")).Return(errors.New("connection reset"))

	_, err := svc.Upload(context.Background(), UploadInput{
		Folder:   "documents",
		FileName: "note.txt",
		Body:     strings.NewReader("hello"),
		Size:     5,
	})

	require.Error(t, err)
	var oe *domain.OrphanedFileError
	require.ErrorAs(t, err, &oe)
	require.Equal(t, domain.OrphanInStorage, oe.Type)
	require.True(t, strings.HasPrefix(oe.Path, "documents/"))

	mock.AssertExpectationsForObjects(t, repo, adapter)
}

func TestStorageService_UploadBatch_IsolatesFailures(t *testing.T) {
	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))

	adapter.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, int64(5)).Return(nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.StorageFile")).Return(nil)

	resp := svc.UploadBatch(context.Background(), []UploadInput{
		{Folder: "documents", FileName: "ok.txt", Body: strings.NewReader("hello"), Size: 5},
		{Folder: "documents", FileName: "blocked.exe", Body: strings.NewReader("hello"), Size: 5},
		{Folder: "documents", FileName: "also-ok.txt", Body: strings.NewReader("world"), Size: 5},
	})

	require.Equal(t, 2, resp.Succeeded)
	require.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 3)

	// Results preserve submission order and carry machine-readable codes.
	require.True(t, resp.Results[0].Succeeded())
	require.False(t, resp.Results[1].Succeeded())
	require.Equal(t, domain.CodeExtensionDenied, resp.Results[1].ErrorCode)
	require.True(t, resp.Results[2].Succeeded())

	mock.AssertExpectationsForObjects(t, repo, adapter)
}

// =============================================================================
// Download
// =============================================================================

func TestStorageService_Download(t *testing.T) {
	id := uuid.New()
	stored := &domain.StorageFile{
		ID:           id,
		Folder:       "documents",
		Provider:     "primary",
		ProviderPath: "documents/note_1a2b3c4d.txt",
		Size:         5,
	}

	tests := []struct {
		name      string
		setup     func(*mockFileRepository, *mockAdapter)
		wantErr   error
		wantBody  string
		wantOrpan domain.OrphanType
	}{
		{
			name: "success",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(stored, nil)
				adapter.On("Get", mock.Anything, stored.ProviderPath).
					Return(io.NopCloser(strings.NewReader("hello")), nil)
			},
			wantBody: "hello",
		},
		{
			name: "file not in registry",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrFileNotFound)
			},
			wantErr: domain.ErrFileNotFound,
		},
		{
			name: "registry row without backend object is an orphan",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(stored, nil)
				adapter.On("Get", mock.Anything, stored.ProviderPath).
					Return(nil, &domain.ProviderError{
						Provider: "primary", Op: "get", Path: stored.ProviderPath,
						NotFound: true, Err: errors.New("no such file"),
					})
			},
			wantOrpan: domain.OrphanInDatabase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newMockAdapter("primary")
			svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))
			tt.setup(repo, adapter)

			file, body, err := svc.Download(context.Background(), id)

			switch {
			case tt.wantOrpan != "":
				require.Error(t, err)
				var oe *domain.OrphanedFileError
				require.ErrorAs(t, err, &oe)
				require.Equal(t, tt.wantOrpan, oe.Type)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				require.Equal(t, id, file.ID)
				data, readErr := io.ReadAll(body)
				require.NoError(t, readErr)
				require.Equal(t, tt.wantBody, string(data))
				body.Close()
			}

			mock.AssertExpectationsForObjects(t, repo, adapter)
		})
	}
}

// =============================================================================
// Delete
// =============================================================================

func TestStorageService_Delete(t *testing.T) {
	id := uuid.New()
	stored := &domain.StorageFile{
		ID:           id,
		Folder:       "documents",
		Provider:     "primary",
		ProviderPath: "documents/note_1a2b3c4d.txt",
		Size:         5,
	}

	tests := []struct {
		name       string
		setup      func(*mockFileRepository, *mockAdapter)
		wantErr    error
		wantOrphan bool
	}{
		{
			name: "success",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(stored, nil)
				repo.On("Delete", mock.Anything, id).Return(nil)
				adapter.On("Delete", mock.Anything, stored.ProviderPath).Return(nil)
			},
		},
		{
			name: "backend object already gone still succeeds",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(stored, nil)
				repo.On("Delete", mock.Anything, id).Return(nil)
				adapter.On("Delete", mock.Anything, stored.ProviderPath).
					Return(&domain.ProviderError{
						Provider: "primary", Op: "delete", Path: stored.ProviderPath,
						NotFound: true, Err: errors.New("no such file"),
					})
			},
		},
		{
			name: "unknown file",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrFileNotFound)
			},
			wantErr: domain.ErrFileNotFound,
		},
		{
			name: "backend failure after registry delete is an orphan",
			setup: func(repo *mockFileRepository, adapter *mockAdapter) {
				repo.On("GetByID", mock.Anything, id).Return(stored, nil)
				repo.On("Delete", mock.Anything, id).Return(nil)
				adapter.On("Delete", mock.Anything, stored.ProviderPath).
					Return(&domain.ProviderError{
						Provider: "primary", Op: "delete", Path: stored.ProviderPath,
						Err: errors.New("connection refused"),
					})
			},
			wantOrphan: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newMockAdapter("primary")
			svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))
			tt.setup(repo, adapter)

			err := svc.Delete(context.Background(), id)

			switch {
			case tt.wantOrphan:
				require.Error(t, err)
				var oe *domain.OrphanedFileError
				require.ErrorAs(t, err, &oe)
				require.Equal(t, domain.OrphanInStorage, oe.Type)
				// The registry row is gone even though the backend delete failed.
				repo.AssertCalled(t, "Delete", mock.Anything, id)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
			}

			mock.AssertExpectationsForObjects(t, repo, adapter)
		})
	}
}

func TestStorageService_DeleteBatch_IsolatesFailures(t *testing.T) {
	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))

	okID := uuid.New()
	missingID := uuid.New()
	stored := &domain.StorageFile{
		ID: okID, Folder: "documents", Provider: "primary",
		ProviderPath: "documents/a_1a2b3c4d.txt",
	}

	repo.On("GetByID", mock.Anything, missingID).Return(nil, domain.ErrFileNotFound)
	repo.On("GetByID", mock.Anything, okID).Return(stored, nil)
	repo.On("Delete", mock.Anything, okID).Return(nil)
	adapter.On("Delete", mock.Anything, stored.ProviderPath).Return(nil)

	resp := svc.DeleteBatch(context.Background(), []uuid.UUID{missingID, okID})

	require.Equal(t, 1, resp.Succeeded)
	require.Equal(t, 1, resp.Failed)
	require.False(t, resp.Results[0].Deleted)
	require.Equal(t, domain.CodeNotFound, resp.Results[0].ErrorCode)
	require.True(t, resp.Results[1].Deleted)

	mock.AssertExpectationsForObjects(t, repo, adapter)
}

// =============================================================================
// Metadata
// =============================================================================

func TestStorageService_List(t *testing.T) {
	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))

	rows := []*domain.StorageFile{
		{ID: uuid.New(), Folder: "documents"},
		{ID: uuid.New(), Folder: "documents"},
	}
	repo.On("ListByFolder", mock.Anything, "documents", repository.ListOptions{Limit: 10}).Return(rows, nil)

	files, err := svc.List(context.Background(), "documents", repository.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, files, 2)

	_, err = svc.List(context.Background(), "unknown", repository.ListOptions{})
	require.ErrorIs(t, err, domain.ErrFolderNotFound)

	mock.AssertExpectationsForObjects(t, repo, adapter)
}

func TestStorageService_UpdateDescription(t *testing.T) {
	adapter := newMockAdapter("primary")
	svc, repo := newTestStorageService(adapter, testRules(0, docsFolder()))

	id := uuid.New()
	repo.On("UpdateDescription", mock.Anything, id, "updated").Return(nil)

	require.NoError(t, svc.UpdateDescription(context.Background(), id, "updated"))
	mock.AssertExpectationsForObjects(t, repo, adapter)
}
