// Package domain contains the core business entities for Filewarden.
package domain

import "github.com/google/uuid"

// OrphanType classifies a registry/backend discrepancy.
type OrphanType string

const (
	// OrphanInStorage is an object present on the backend with no registry row.
	OrphanInStorage OrphanType = "in_storage"

	// OrphanInDatabase is a registry row whose provider path has no backend object.
	OrphanInDatabase OrphanType = "in_database"

	// OrphanMismatched is a file present in both, but the registry row's
	// provider path differs from the path the backend listed.
	OrphanMismatched OrphanType = "mismatched"
)

// OrphanedFile describes one discrepancy found by a reconciliation scan.
// Ephemeral: computed fresh on each run, never persisted or cached.
type OrphanedFile struct {
	// Type is the discrepancy classification.
	Type OrphanType `json:"type"`

	// Path is the backend path involved. For in_database orphans this is the
	// registry row's provider path (the path that should have existed).
	Path string `json:"path"`

	// Provider is the provider the scan ran against.
	Provider string `json:"provider"`

	// FileID is the matching registry row's identifier, if one exists
	// (in_database and mismatched orphans).
	FileID *uuid.UUID `json:"file_id,omitempty"`

	// Size is the object or row size in bytes, when known.
	Size int64 `json:"size"`
}

// CleanupError records one item's failure during cleanup. One item's failure
// never aborts the batch.
type CleanupError struct {
	Path    string     `json:"path"`
	Type    OrphanType `json:"type"`
	Message string     `json:"message"`
}

// CleanupResult reports the outcome of a reconciliation run.
type CleanupResult struct {
	// Provider is the provider the run targeted.
	Provider string `json:"provider"`

	// Scanned is the number of orphans the scan found.
	Scanned int `json:"scanned"`

	// Cleaned is the number of orphans repaired. In dry-run mode intended
	// actions are counted here without touching any state.
	Cleaned int `json:"cleaned"`

	// DryRun reports whether the run mutated anything.
	DryRun bool `json:"dry_run"`

	// Errors holds per-item failures.
	Errors []CleanupError `json:"errors,omitempty"`
}
