// Package provider defines the uniform adapter contract over heterogeneous
// storage backends (local filesystem, S3-compatible object stores, GCS blob
// storage). The governance layers above - storage service, quota manager,
// reconciler - address every backend through this one interface.
package provider

import (
	"context"
	"io"

	"github.com/filewarden/filewarden/internal/config"
	"github.com/filewarden/filewarden/internal/domain"
)

// ObjectInfo describes one backend object as returned by List.
// Path is round-trippable into Get and Delete without transformation.
type ObjectInfo struct {
	// Path is the backend locator, relative to the provider's root/prefix.
	Path string `json:"path"`

	// Size is the object length in bytes.
	Size int64 `json:"size"`
}

// Adapter is the uniform interface over storage backends.
//
// Failure modes matter to callers: implementations wrap errors in
// domain.ProviderError and set NotFound only when the object is legitimately
// absent. The reconciler relies on this to tell "object deleted concurrently"
// from "backend unreachable" - the latter aborts a scan rather than
// reporting false orphans.
type Adapter interface {
	// Name returns the configured provider name.
	Name() string

	// Kind returns the backend variant.
	Kind() config.ProviderKind

	// List returns every object under prefix. Implementations follow
	// backend pagination (continuation tokens, iterators) to exhaustion and
	// honor ctx between pages, so a canceled listing stops cleanly without
	// leaking the iterator.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Put writes size bytes from r at path. Put never overwrites silently;
	// stored content is immutable and paths are collision-resistant by
	// construction upstream.
	Put(ctx context.Context, path string, r io.Reader, size int64) error

	// Get opens the object at path for reading. The caller must close the
	// returned stream.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

// IsNotFound reports whether err marks a legitimately absent object.
func IsNotFound(err error) bool {
	return domain.IsNotFound(err)
}

// wrapErr builds a ProviderError for a failed adapter call.
func wrapErr(provider, op, path string, notFound bool, err error) error {
	return &domain.ProviderError{
		Provider: provider,
		Op:       op,
		Path:     path,
		NotFound: notFound,
		Err:      err,
	}
}
