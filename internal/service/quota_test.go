// Package service provides the governance logic for Filewarden.
package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/domain"
)

func newTestQuotaManager(globalQuota int64, folders ...config.FolderConfig) (*QuotaManager, *mockFileRepository) {
	repo := new(mockFileRepository)
	qm := NewQuotaManager(repo, testRules(globalQuota, folders...), zerolog.Nop())
	return qm, repo
}

func TestQuotaManager_Check(t *testing.T) {
	const mb = int64(1 << 20)

	tests := []struct {
		name        string
		globalQuota int64
		folderQuota int64
		folder      string
		incoming    int64
		setup       func(*mockFileRepository)
		wantErr     bool
		wantScope   domain.QuotaScope
		wantAvail   int64
	}{
		{
			name:        "admitted under folder quota",
			folderQuota: 10 * mb,
			folder:      "documents",
			incoming:    1 * mb,
			setup: func(repo *mockFileRepository) {
				repo.On("SumSizesByFolder", mock.Anything, "documents").Return(5*mb, nil)
			},
		},
		{
			name:        "rejected over folder quota",
			folderQuota: 10 * mb,
			folder:      "documents",
			incoming:    2 * mb,
			setup: func(repo *mockFileRepository) {
				repo.On("SumSizesByFolder", mock.Anything, "documents").Return(9*mb, nil)
			},
			wantErr:   true,
			wantScope: domain.QuotaScopeFolder,
			wantAvail: 1 * mb,
		},
		{
			name:        "exact fit is admitted",
			folderQuota: 10 * mb,
			folder:      "documents",
			incoming:    1 * mb,
			setup: func(repo *mockFileRepository) {
				repo.On("SumSizesByFolder", mock.Anything, "documents").Return(9*mb, nil)
			},
		},
		{
			name:        "rejected over global quota",
			globalQuota: 100 * mb,
			folderQuota: 10 * mb,
			folder:      "documents",
			incoming:    5 * mb,
			setup: func(repo *mockFileRepository) {
				repo.On("SumSizes", mock.Anything).Return(98*mb, nil)
			},
			wantErr:   true,
			wantScope: domain.QuotaScopeGlobal,
			wantAvail: 2 * mb,
		},
		{
			name:     "zero quotas mean unlimited",
			folder:   "documents",
			incoming: 500 * mb,
			setup:    func(repo *mockFileRepository) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qm, repo := newTestQuotaManager(tt.globalQuota, config.FolderConfig{
				Name:  "documents",
				Quota: tt.folderQuota,
			})
			tt.setup(repo)

			err := qm.Check(context.Background(), tt.folder, tt.incoming)

			if tt.wantErr {
				require.Error(t, err)
				var qe *domain.QuotaExceededError
				require.ErrorAs(t, err, &qe)
				require.Equal(t, tt.wantScope, qe.Scope)
				require.Equal(t, tt.wantAvail, qe.Available)
				require.Equal(t, tt.incoming, qe.Incoming)
			} else {
				require.NoError(t, err)
			}

			repo.AssertExpectations(t)
		})
	}
}

func TestQuotaManager_Check_GlobalBoundCheckedFirst(t *testing.T) {
	const mb = int64(1 << 20)

	qm, repo := newTestQuotaManager(100*mb, config.FolderConfig{Name: "documents", Quota: 10 * mb})
	repo.On("SumSizes", mock.Anything).Return(100*mb, nil)

	err := qm.Check(context.Background(), "documents", 1*mb)

	require.Error(t, err)
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, domain.QuotaScopeGlobal, qe.Scope)

	// A global rejection short-circuits the folder computation.
	repo.AssertNotCalled(t, "SumSizesByFolder")
	repo.AssertExpectations(t)
}

func TestQuotaManager_Check_UnknownFolder(t *testing.T) {
	qm, repo := newTestQuotaManager(0, config.FolderConfig{Name: "documents"})

	err := qm.Check(context.Background(), "pictures", 1)
	require.ErrorIs(t, err, domain.ErrFolderNotFound)
	repo.AssertExpectations(t)
}

func TestQuotaManager_GlobalUsage(t *testing.T) {
	qm, repo := newTestQuotaManager(200, config.FolderConfig{Name: "documents"})
	repo.On("SumSizes", mock.Anything).Return(int64(50), nil)

	usage, err := qm.GlobalUsage(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.QuotaScopeGlobal, usage.Scope)
	require.Equal(t, int64(50), usage.Used)
	require.Equal(t, int64(200), usage.Limit)
	require.Equal(t, int64(150), usage.Available)
	require.Equal(t, 25.0, usage.PercentUsed)

	repo.AssertExpectations(t)
}

func TestQuotaManager_GlobalUsage_Unlimited(t *testing.T) {
	qm, repo := newTestQuotaManager(0, config.FolderConfig{Name: "documents"})
	repo.On("SumSizes", mock.Anything).Return(int64(12345), nil)

	usage, err := qm.GlobalUsage(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12345), usage.Used)
	require.Equal(t, int64(0), usage.Limit)
	require.Equal(t, int64(0), usage.Available)
	require.Equal(t, 0.0, usage.PercentUsed)

	repo.AssertExpectations(t)
}

func TestQuotaManager_FolderUsage(t *testing.T) {
	qm, repo := newTestQuotaManager(0, config.FolderConfig{Name: "documents", Quota: 300})
	repo.On("SumSizesByFolder", mock.Anything, "documents").Return(int64(100), nil)
	repo.On("CountByFolder", mock.Anything, "documents").Return(int64(7), nil)

	usage, err := qm.FolderUsage(context.Background(), "documents")
	require.NoError(t, err)
	require.Equal(t, domain.QuotaScopeFolder, usage.Scope)
	require.Equal(t, "documents", usage.Folder)
	require.Equal(t, int64(100), usage.Used)
	require.Equal(t, int64(300), usage.Limit)
	require.Equal(t, int64(200), usage.Available)
	require.Equal(t, 33.33, usage.PercentUsed)
	require.Equal(t, int64(7), usage.Files)

	repo.AssertExpectations(t)
}

func TestQuotaManager_FolderUsage_UnknownFolder(t *testing.T) {
	qm, repo := newTestQuotaManager(0, config.FolderConfig{Name: "documents"})

	_, err := qm.FolderUsage(context.Background(), "pictures")
	require.ErrorIs(t, err, domain.ErrFolderNotFound)
	repo.AssertExpectations(t)
}

func TestQuotaManager_HotReloadedRulesApply(t *testing.T) {
	const mb = int64(1 << 20)

	repo := new(mockFileRepository)
	rules := testRules(0, config.FolderConfig{Name: "documents", Quota: 10 * mb})
	qm := NewQuotaManager(repo, rules, zerolog.Nop())

	repo.On("SumSizesByFolder", mock.Anything, "documents").Return(int64(9*mb), nil)

	err := qm.Check(context.Background(), "documents", 2*mb)
	require.Error(t, err)

	// Raise the folder quota through a rules swap; the next check admits.
	rules.Replace(config.StorageConfig{
		ActiveProvider: "primary",
		Folders:        []config.FolderConfig{{Name: "documents", Quota: 20 * mb}},
	})

	err = qm.Check(context.Background(), "documents", 2*mb)
	require.NoError(t, err)

	repo.AssertExpectations(t)
}
