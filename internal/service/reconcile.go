// Package service provides the governance logic for Filewarden.
package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/domain"
	"github.com/filewarden/filewarden/internal/lock"
	"github.com/filewarden/filewarden/internal/provider"
	"github.com/filewarden/filewarden/internal/repository"
)

// ErrReconcileInProgress indicates another reconciliation run holds the
// provider's lock.
var ErrReconcileInProgress = errors.New("reconciliation already in progress for provider")

// ReconcilerOptions contains reconciliation settings.
type ReconcilerOptions struct {
	// Interval is how often scheduled reconciliation runs.
	Interval time.Duration

	// DryRun makes scheduled runs report-only. Manual runs pass their own flag.
	DryRun bool

	// PageTimeout bounds each cleanup delete against a slow backend.
	PageTimeout time.Duration

	// RegistryBatchSize is the keyset page size for full registry fetches.
	RegistryBatchSize int
}

// DefaultReconcilerOptions returns sensible defaults.
func DefaultReconcilerOptions() ReconcilerOptions {
	return ReconcilerOptions{
		Interval:          1 * time.Hour,
		DryRun:            true,
		PageTimeout:       30 * time.Second,
		RegistryBatchSize: 1000,
	}
}

// Reconciler compares the file registry against the physical contents of
// each provider and repairs discrepancies on request.
//
// A scan is a full set reconciliation - O(registry size + backend object
// count) - not an incremental diff. It is safe to run concurrently with
// ongoing uploads: a file uploaded mid-scan can surface as a false-positive
// orphan near the scan boundary, which is why scheduled runs default to
// dry-run and destructive cleanup is an explicit operator action. The scan
// itself never mutates state; only Cleanup does, and a crash mid-cleanup
// simply leaves the remaining orphans for the next run.
type Reconciler struct {
	files     repository.FileRepository
	providers *provider.Registry
	locker    lock.Locker
	logger    zerolog.Logger
	opts      ReconcilerOptions

	// Scheduler control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	files repository.FileRepository,
	providers *provider.Registry,
	locker lock.Locker,
	logger zerolog.Logger,
	opts ReconcilerOptions,
) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReconcilerOptions().Interval
	}
	if opts.RegistryBatchSize <= 0 {
		opts.RegistryBatchSize = DefaultReconcilerOptions().RegistryBatchSize
	}
	return &Reconciler{
		files:     files,
		providers: providers,
		locker:    locker,
		logger:    logger.With().Str("service", "reconciler").Logger(),
		opts:      opts,
	}
}

// =============================================================================
// Scan
// =============================================================================

// Scan computes the orphan list for one provider without mutating anything.
//
// A backend-unreachable error aborts the scan for this provider: an
// incomplete listing must not be mistaken for mass deletion, or every
// unlisted registry row would surface as a false in_database orphan.
func (r *Reconciler) Scan(ctx context.Context, providerName string) ([]domain.OrphanedFile, error) {
	adapter, err := r.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	// Full registry fetch for this provider, keyset-paged and cancellable
	// between batches.
	byPath := make(map[string]*domain.StorageFile)
	byStoredName := make(map[string]*domain.StorageFile)
	err = r.files.ListByProvider(ctx, providerName, r.opts.RegistryBatchSize, func(batch []*domain.StorageFile) error {
		for _, f := range batch {
			byPath[f.ProviderPath] = f
			byStoredName[f.StoredName] = f
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch registry for provider %s: %w", providerName, err)
	}

	// Full backend listing; the adapter follows pagination to exhaustion and
	// honors ctx between pages.
	listing, err := adapter.List(ctx, "")
	if err != nil {
		return nil, err
	}

	// First pass: mark every registry row whose provider path the backend
	// actually listed.
	inBackend := make(map[string]bool, len(listing))
	for _, obj := range listing {
		inBackend[obj.Path] = true
	}

	var orphans []domain.OrphanedFile
	claimed := make(map[string]bool)

	// Second pass: classify backend paths with no registry row. A path whose
	// base name matches a registry row whose own provider path is missing
	// from the backend is the same file at the wrong location - mismatched,
	// not in_storage.
	for _, obj := range listing {
		if byPath[obj.Path] != nil {
			continue
		}

		if row := byStoredName[path.Base(obj.Path)]; row != nil && !inBackend[row.ProviderPath] && !claimed[row.ID.String()] {
			id := row.ID
			claimed[id.String()] = true
			orphans = append(orphans, domain.OrphanedFile{
				Type:     domain.OrphanMismatched,
				Path:     obj.Path,
				Provider: providerName,
				FileID:   &id,
				Size:     obj.Size,
			})
			continue
		}

		orphans = append(orphans, domain.OrphanedFile{
			Type:     domain.OrphanInStorage,
			Path:     obj.Path,
			Provider: providerName,
			Size:     obj.Size,
		})
	}

	// Third pass: registry rows with no backend object.
	for p, row := range byPath {
		if inBackend[p] || claimed[row.ID.String()] {
			continue
		}
		id := row.ID
		orphans = append(orphans, domain.OrphanedFile{
			Type:     domain.OrphanInDatabase,
			Path:     p,
			Provider: providerName,
			FileID:   &id,
			Size:     row.Size,
		})
	}

	// Deterministic output for operators and tests.
	sort.Slice(orphans, func(i, j int) bool {
		if orphans[i].Path != orphans[j].Path {
			return orphans[i].Path < orphans[j].Path
		}
		return orphans[i].Type < orphans[j].Type
	})

	r.logger.Info().
		Str("provider", providerName).
		Int("registry_rows", len(byPath)).
		Int("backend_objects", len(listing)).
		Int("orphans", len(orphans)).
		Msg("reconciliation scan complete")

	return orphans, nil
}

// =============================================================================
// Cleanup
// =============================================================================

// Cleanup repairs an orphan list. With dryRun set it only logs intended
// actions and counts them as cleaned, touching neither backend nor registry.
//
// Real cleanup: in_storage deletes the backend object only; in_database
// deletes the registry row only; mismatched deletes the backend object at
// the stale path AND the registry row (no path repair is attempted - the
// operator must re-upload). Each item's failure is caught independently.
func (r *Reconciler) Cleanup(ctx context.Context, providerName string, orphans []domain.OrphanedFile, dryRun bool) domain.CleanupResult {
	result := domain.CleanupResult{
		Provider: providerName,
		Scanned:  len(orphans),
		DryRun:   dryRun,
	}

	adapter, err := r.providers.Get(providerName)
	if err != nil {
		result.Errors = append(result.Errors, domain.CleanupError{Message: err.Error()})
		return result
	}

	for _, orphan := range orphans {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, domain.CleanupError{
				Path: orphan.Path, Type: orphan.Type, Message: err.Error(),
			})
			return result
		}

		if dryRun {
			r.logger.Info().
				Str("provider", providerName).
				Str("path", orphan.Path).
				Str("type", string(orphan.Type)).
				Msg("[DRY RUN] would clean orphan")
			result.Cleaned++
			continue
		}

		if err := r.cleanOne(ctx, adapter, orphan); err != nil {
			r.logger.Error().
				Err(err).
				Str("provider", providerName).
				Str("path", orphan.Path).
				Str("type", string(orphan.Type)).
				Msg("failed to clean orphan")
			result.Errors = append(result.Errors, domain.CleanupError{
				Path: orphan.Path, Type: orphan.Type, Message: err.Error(),
			})
			continue
		}
		result.Cleaned++
	}

	return result
}

// cleanOne repairs a single orphan. An already-absent target counts as
// cleaned: the divergence is gone either way.
func (r *Reconciler) cleanOne(ctx context.Context, adapter provider.Adapter, orphan domain.OrphanedFile) error {
	if r.opts.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.PageTimeout)
		defer cancel()
	}

	switch orphan.Type {
	case domain.OrphanInStorage:
		if err := adapter.Delete(ctx, orphan.Path); err != nil && !provider.IsNotFound(err) {
			return err
		}
		return nil

	case domain.OrphanInDatabase:
		err := r.files.DeleteByProviderPath(ctx, adapter.Name(), orphan.Path)
		if err != nil && !errors.Is(err, domain.ErrFileNotFound) {
			return err
		}
		return nil

	case domain.OrphanMismatched:
		if err := adapter.Delete(ctx, orphan.Path); err != nil && !provider.IsNotFound(err) {
			return err
		}
		if orphan.FileID != nil {
			if err := r.files.Delete(ctx, *orphan.FileID); err != nil && !errors.Is(err, domain.ErrFileNotFound) {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown orphan type %q", orphan.Type)
	}
}

// =============================================================================
// Runs
// =============================================================================

// Run scans and cleans one provider under its single-flight lock.
func (r *Reconciler) Run(ctx context.Context, providerName string, dryRun bool) (*domain.CleanupResult, error) {
	lockKey := lock.Keys.Reconcile(providerName)
	lockTTL := r.opts.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	acquired, err := r.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire reconcile lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrReconcileInProgress, providerName)
	}
	defer func() {
		if _, err := r.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			r.logger.Error().Err(err).Str("provider", providerName).Msg("failed to release reconcile lock")
		}
	}()

	orphans, err := r.Scan(ctx, providerName)
	if err != nil {
		return nil, err
	}

	result := r.Cleanup(ctx, providerName, orphans, dryRun)
	r.logger.Info().
		Str("provider", providerName).
		Int("scanned", result.Scanned).
		Int("cleaned", result.Cleaned).
		Int("errors", len(result.Errors)).
		Bool("dry_run", dryRun).
		Msg("reconciliation run complete")

	return &result, nil
}

// RunOutcome pairs one provider's result with its run error, if any.
type RunOutcome struct {
	Result *domain.CleanupResult `json:"result,omitempty"`
	Err    error                 `json:"-"`
}

// RunAll reconciles every enabled provider independently. One provider's
// timeout or outage never aborts the others; its outcome simply carries the
// error.
func (r *Reconciler) RunAll(ctx context.Context, dryRun bool) map[string]RunOutcome {
	names := r.providers.Names()
	sort.Strings(names)

	outcomes := make(map[string]RunOutcome, len(names))
	for _, name := range names {
		result, err := r.Run(ctx, name, dryRun)
		if err != nil {
			r.logger.Error().Err(err).Str("provider", name).Msg("reconciliation failed")
		}
		outcomes[name] = RunOutcome{Result: result, Err: err}
	}
	return outcomes
}

// =============================================================================
// Scheduler
// =============================================================================

// Start begins the scheduled reconciliation loop. A stopped scheduler can be
// started again: each cycle gets fresh control channels.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.doneChan = make(chan struct{})
	stop, done := r.stopChan, r.doneChan
	r.mu.Unlock()

	r.logger.Info().
		Dur("interval", r.opts.Interval).
		Bool("dry_run", r.opts.DryRun).
		Msg("starting scheduled reconciliation")

	go r.runLoop(stop, done)
}

// Stop stops the scheduled reconciliation loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stopChan, r.doneChan
	r.mu.Unlock()

	close(stop)
	<-done

	r.logger.Info().Msg("scheduled reconciliation stopped")
}

// runLoop is the scheduler loop for one Start/Stop cycle.
func (r *Reconciler) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunAll(context.Background(), r.opts.DryRun)
		case <-stop:
			return
		}
	}
}
