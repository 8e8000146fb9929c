// Package domain contains the core business entities for Filewarden.
package domain

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StorageFile is a registry row: the durable mapping from a unique file
// identifier to descriptive metadata and the backend location of the bytes.
//
// ProviderPath, once written, is the only locator used to address the
// backend; RelativePath is presentation-only. Content is immutable once
// stored - the only mutable field after creation is Description.
type StorageFile struct {
	// ID is the opaque, globally unique identifier assigned at upload time.
	// Never reused.
	ID uuid.UUID `json:"id"`

	// OriginalName is the name the client submitted.
	OriginalName string `json:"original_name"`

	// StoredName is the derived, collision-resistant name used on the backend.
	StoredName string `json:"stored_name"`

	// Folder is the logical namespace; must match a configured folder.
	Folder string `json:"folder"`

	// RelativePath is folder + stored name, for presentation.
	RelativePath string `json:"relative_path"`

	// Provider is the configured provider the bytes were written to.
	Provider string `json:"provider"`

	// ProviderPath is the backend-specific locator for the bytes.
	ProviderPath string `json:"provider_path"`

	// Size is the content length in bytes.
	Size int64 `json:"size"`

	// MimeType is the declared content type.
	MimeType string `json:"mime_type"`

	// Description is optional, operator-editable metadata.
	Description string `json:"description,omitempty"`

	// UploadedBy is the optional uploader identity.
	UploadedBy string `json:"uploaded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// unsafeNameChars matches everything we strip out of a submitted file name
// before deriving the stored name.
var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// StoredName derives a collision-resistant backend file name from the
// original name and the file's identifier. The identifier suffix (not a
// timestamp) is what makes concurrent uploads of the same name safe: two
// uploads in the same millisecond still get distinct stored names.
//
// Example: ("Quarterly Report.pdf", id) -> "quarterly_report_1a2b3c4d.pdf".
func StoredName(originalName string, id uuid.UUID) string {
	base := path.Base(strings.ReplaceAll(originalName, "\\", "/"))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	stem = strings.ToLower(strings.TrimSpace(stem))
	stem = unsafeNameChars.ReplaceAllString(strings.ReplaceAll(stem, " ", "_"), "")
	if stem == "" {
		stem = "file"
	}

	// First UUID group is enough to disambiguate; the full ID lives in the registry.
	suffix := strings.SplitN(id.String(), "-", 2)[0]

	return stem + "_" + suffix + strings.ToLower(ext)
}

// Extension returns the lowercase extension of a file name without the
// leading dot, or "" if there is none.
func Extension(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// UploadResult summarizes one item of a batch upload.
type UploadResult struct {
	// OriginalName identifies the item within the batch.
	OriginalName string `json:"original_name"`

	// File is set on success.
	File *StorageFile `json:"file,omitempty"`

	// ErrorCode and ErrorMessage are set on failure.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Succeeded reports whether the item was stored.
func (r UploadResult) Succeeded() bool {
	return r.File != nil
}

// BatchUploadResponse enumerates per-item outcomes of a multi-file upload.
// One item's failure never aborts the batch.
type BatchUploadResponse struct {
	// Succeeded is the number of items stored.
	Succeeded int `json:"succeeded"`

	// Failed is the number of items rejected or errored.
	Failed int `json:"failed"`

	// Results holds one entry per submitted item, in submission order.
	Results []UploadResult `json:"results"`
}

// BatchDeleteResponse enumerates per-item outcomes of a multi-file delete.
type BatchDeleteResponse struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []DeleteResult `json:"results"`
}

// DeleteResult summarizes one item of a batch delete.
type DeleteResult struct {
	ID           uuid.UUID `json:"id"`
	Deleted      bool      `json:"deleted"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
