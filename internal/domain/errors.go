// Package domain contains the core business entities for Filewarden.
package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// File Errors
	// ===========================================

	// ErrFileNotFound indicates the requested file does not exist in the registry.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileAlreadyExists indicates a file with the same stored name exists in the folder.
	ErrFileAlreadyExists = errors.New("file already exists")

	// ErrEmptyFileName indicates the submitted file name is empty.
	ErrEmptyFileName = errors.New("file name must not be empty")

	// ===========================================
	// Folder Errors
	// ===========================================

	// ErrFolderNotFound indicates the requested folder is not configured.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrExtensionNotAllowed indicates the file extension is not in the folder's allowed set.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")

	// ErrFileTooLarge indicates the file exceeds the folder's maximum file size.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")

	// ===========================================
	// Provider Errors
	// ===========================================

	// ErrProviderNotFound indicates the named provider is not configured.
	ErrProviderNotFound = errors.New("storage provider not found")

	// ErrProviderDisabled indicates the named provider is configured but disabled.
	ErrProviderDisabled = errors.New("storage provider is disabled")

	// ErrObjectNotFound indicates the backend object does not exist.
	ErrObjectNotFound = errors.New("object not found in storage backend")
)

// Error codes carried on typed errors so callers can branch without string
// matching and UIs can localize messages.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeExtensionDenied   = "EXTENSION_NOT_ALLOWED"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeProviderError     = "PROVIDER_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeOrphanedFile      = "ORPHANED_FILE"
	CodeRegistryError     = "REGISTRY_ERROR"
	CodeFolderNotFound    = "FOLDER_NOT_FOUND"
	CodeProviderNotFound  = "PROVIDER_NOT_FOUND"
	CodeOperationCanceled = "OPERATION_CANCELED"
)

// ValidationError indicates the request was rejected before any I/O.
// The caller can recover by adjusting the input.
type ValidationError struct {
	// Code is a machine-readable error code.
	Code string

	// Message is a human-readable description.
	Message string

	// Err is the underlying sentinel error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError wrapping a sentinel error.
func NewValidationError(code, message string, err error) *ValidationError {
	return &ValidationError{Code: code, Message: message, Err: err}
}

// QuotaScope identifies which quota bound rejected a write.
type QuotaScope string

const (
	// QuotaScopeGlobal is the deployment-wide byte ceiling.
	QuotaScopeGlobal QuotaScope = "global"

	// QuotaScopeFolder is a per-folder byte ceiling.
	QuotaScopeFolder QuotaScope = "folder"
)

// QuotaExceededError indicates a write was rejected because it would exceed
// a configured quota. It carries the numbers a UI needs to render usage
// without a second round trip.
type QuotaExceededError struct {
	// Scope is the quota bound that rejected the write (global or folder).
	Scope QuotaScope

	// Folder is the folder name, set only for folder-scope rejections.
	Folder string

	// Used is the current usage in bytes at check time.
	Used int64

	// Limit is the configured ceiling in bytes.
	Limit int64

	// Available is Limit - Used (never negative).
	Available int64

	// Incoming is the size of the rejected write in bytes.
	Incoming int64
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	if e.Scope == QuotaScopeFolder {
		return fmt.Sprintf(
			"%s: folder %q quota exceeded: used %d of %d bytes, %d available, incoming %d",
			CodeQuotaExceeded, e.Folder, e.Used, e.Limit, e.Available, e.Incoming,
		)
	}
	return fmt.Sprintf(
		"%s: global quota exceeded: used %d of %d bytes, %d available, incoming %d",
		CodeQuotaExceeded, e.Used, e.Limit, e.Available, e.Incoming,
	)
}

// Code returns the machine-readable error code.
func (e *QuotaExceededError) Code() string {
	return CodeQuotaExceeded
}

// ProviderError wraps a failure from a storage backend. NotFound
// distinguishes "object legitimately absent" from "backend unreachable" so
// reconciliation can tell a concurrent delete from an outage.
type ProviderError struct {
	// Provider is the configured provider name.
	Provider string

	// Op is the adapter operation that failed (list, put, get, delete).
	Op string

	// Path is the backend path involved, if any.
	Path string

	// NotFound is true when the object is absent rather than unreachable.
	NotFound bool

	// Err is the underlying backend error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("provider %s: %s %s: %v", e.Provider, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Code returns the machine-readable error code.
func (e *ProviderError) Code() string {
	if e.NotFound {
		return CodeNotFound
	}
	return CodeProviderError
}

// IsNotFound reports whether err represents a legitimately absent object,
// as opposed to a transport or backend failure.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrFileNotFound) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.NotFound
}

// OrphanedFileError reports a registry/backend divergence detected outside of
// a reconciliation run. It is surfaced to the caller, never swallowed; repair
// is the Reconciler's job.
type OrphanedFileError struct {
	// Type is the orphan classification.
	Type OrphanType

	// Path is the backend path of the divergent object.
	Path string

	// Err is the failure that produced the orphan.
	Err error
}

// Error implements the error interface.
func (e *OrphanedFileError) Error() string {
	return fmt.Sprintf("%s: %s orphan at %s: %v", CodeOrphanedFile, e.Type, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *OrphanedFileError) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the machine-readable code from any error produced by
// this package. Unknown errors map to REGISTRY_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe.Code()
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code()
	}
	var oe *OrphanedFileError
	if errors.As(err, &oe) {
		return CodeOrphanedFile
	}

	switch {
	case errors.Is(err, ErrFolderNotFound):
		return CodeFolderNotFound
	case errors.Is(err, ErrExtensionNotAllowed):
		return CodeExtensionDenied
	case errors.Is(err, ErrFileTooLarge):
		return CodeFileTooLarge
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrObjectNotFound):
		return CodeNotFound
	case errors.Is(err, ErrProviderNotFound), errors.Is(err, ErrProviderDisabled):
		return CodeProviderNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeOperationCanceled
	default:
		return CodeRegistryError
	}
}
