// Package service provides the governance logic for Filewarden: validated
// uploads, quota admission, and registry/backend reconciliation.
package service

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/repository"
)

// QuotaManager admits or rejects writes against the global and per-folder
// byte ceilings. It is state-free by design: every check recomputes current
// usage from the registry's summed sizes rather than maintaining a running
// counter, so missed updates cannot make the numbers drift.
//
// The check-then-act sequence has a race window under concurrent uploads:
// two writers can both read 95% usage and jointly overshoot the limit. This
// is accepted soft enforcement; hard enforcement would need a reservation
// ticket scheme.
type QuotaManager struct {
	files  repository.FileRepository
	rules  *config.RulesHolder
	logger zerolog.Logger
}

// NewQuotaManager creates a QuotaManager.
func NewQuotaManager(files repository.FileRepository, rules *config.RulesHolder, logger zerolog.Logger) *QuotaManager {
	return &QuotaManager{
		files:  files,
		rules:  rules,
		logger: logger.With().Str("service", "quota").Logger(),
	}
}

// Check admits or rejects an incoming write of incoming bytes into folder.
// The global limit is checked before the folder limit (global is the outer
// bound). A limit of zero means unlimited for that scope. On rejection the
// returned QuotaExceededError carries used/limit/available so callers can
// render a precise message without a second query.
func (q *QuotaManager) Check(ctx context.Context, folder string, incoming int64) error {
	rules := q.rules.Current()

	folderCfg, ok := rules.Folder(folder)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrFolderNotFound, folder)
	}

	if rules.GlobalQuota > 0 {
		used, err := q.files.SumSizes(ctx)
		if err != nil {
			return fmt.Errorf("failed to compute global usage: %w", err)
		}
		if used+incoming > rules.GlobalQuota {
			return &domain.QuotaExceededError{
				Scope:     domain.QuotaScopeGlobal,
				Used:      used,
				Limit:     rules.GlobalQuota,
				Available: available(rules.GlobalQuota, used),
				Incoming:  incoming,
			}
		}
	}

	if folderCfg.Quota > 0 {
		used, err := q.files.SumSizesByFolder(ctx, folder)
		if err != nil {
			return fmt.Errorf("failed to compute folder usage: %w", err)
		}
		if used+incoming > folderCfg.Quota {
			return &domain.QuotaExceededError{
				Scope:     domain.QuotaScopeFolder,
				Folder:    folder,
				Used:      used,
				Limit:     folderCfg.Quota,
				Available: available(folderCfg.Quota, used),
				Incoming:  incoming,
			}
		}
	}

	return nil
}

// QuotaUsage is an operator-facing usage report for one scope.
type QuotaUsage struct {
	// Scope is global or folder.
	Scope domain.QuotaScope `json:"scope"`

	// Folder is set for folder-scope reports.
	Folder string `json:"folder,omitempty"`

	// Used is the current usage in bytes.
	Used int64 `json:"used"`

	// Limit is the configured ceiling; zero means unlimited.
	Limit int64 `json:"limit"`

	// Available is Limit - Used, zero when unlimited.
	Available int64 `json:"available"`

	// PercentUsed is Used/Limit rounded to two decimals; zero when unlimited.
	PercentUsed float64 `json:"percent_used"`

	// Files is the number of registry rows in scope (folder reports only).
	Files int64 `json:"files,omitempty"`
}

// GlobalUsage reports usage against the global quota.
func (q *QuotaManager) GlobalUsage(ctx context.Context) (*QuotaUsage, error) {
	used, err := q.files.SumSizes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute global usage: %w", err)
	}

	limit := q.rules.Current().GlobalQuota
	return &QuotaUsage{
		Scope:       domain.QuotaScopeGlobal,
		Used:        used,
		Limit:       limit,
		Available:   available(limit, used),
		PercentUsed: percentUsed(used, limit),
	}, nil
}

// FolderUsage reports usage against one folder's quota.
func (q *QuotaManager) FolderUsage(ctx context.Context, folder string) (*QuotaUsage, error) {
	folderCfg, ok := q.rules.Current().Folder(folder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFolderNotFound, folder)
	}

	used, err := q.files.SumSizesByFolder(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to compute folder usage: %w", err)
	}
	count, err := q.files.CountByFolder(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to count folder files: %w", err)
	}

	return &QuotaUsage{
		Scope:       domain.QuotaScopeFolder,
		Folder:      folder,
		Used:        used,
		Limit:       folderCfg.Quota,
		Available:   available(folderCfg.Quota, used),
		PercentUsed: percentUsed(used, folderCfg.Quota),
		Files:       count,
	}, nil
}

// available returns limit - used, clamped to zero. Unlimited scopes report
// zero available rather than a fabricated number.
func available(limit, used int64) int64 {
	if limit <= 0 || used >= limit {
		return 0
	}
	return limit - used
}

// percentUsed returns used/limit as a percentage rounded to two decimals.
func percentUsed(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(used) / float64(limit) * 100
	return math.Round(pct*100) / 100
}
