package provider

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
)

// LocalAdapter stores objects on the local filesystem under a root directory.
// Provider paths are slash-separated and relative to the root, so the same
// path a List returns feeds Get and Delete byte-identically.
type LocalAdapter struct {
	name   string
	root   string
	logger zerolog.Logger
}

// NewLocalAdapter creates a local filesystem adapter rooted at cfg.Root.
func NewLocalAdapter(name string, cfg config.LocalProviderConfig, logger zerolog.Logger) (*LocalAdapter, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local root %q: %w", cfg.Root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local root %q: %w", root, err)
	}

	return &LocalAdapter{
		name:   name,
		root:   root,
		logger: logger.With().Str("provider", name).Str("kind", string(config.KindLocal)).Logger(),
	}, nil
}

// Name returns the configured provider name.
func (a *LocalAdapter) Name() string { return a.name }

// Kind returns the backend variant.
func (a *LocalAdapter) Kind() config.ProviderKind { return config.KindLocal }

// resolve maps a provider path to an absolute filesystem path, refusing
// escapes above the root.
func (a *LocalAdapter) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return filepath.Join(a.root, clean), nil
}

// List walks the root recursively and returns every regular file.
func (a *LocalAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.WalkDir(a.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		path := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, wrapErr(a.name, "list", prefix, false, err)
	}

	return objects, nil
}

// Put writes the object via a temp file and rename so readers never observe
// a partial write.
func (a *LocalAdapter) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(a.name, "put", path, false, err)
	}

	target, err := a.resolve(path)
	if err != nil {
		return wrapErr(a.name, "put", path, false, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return wrapErr(a.name, "put", path, false, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return wrapErr(a.name, "put", path, false, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: got %d bytes, expected %d", written, size)
	}
	if err != nil {
		os.Remove(tmpName)
		return wrapErr(a.name, "put", path, false, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return wrapErr(a.name, "put", path, false, err)
	}

	a.logger.Debug().Str("path", path).Int64("size", written).Msg("stored object")
	return nil
}

// Get opens the object at path for reading.
func (a *LocalAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(a.name, "get", path, false, err)
	}

	target, err := a.resolve(path)
	if err != nil {
		return nil, wrapErr(a.name, "get", path, false, err)
	}

	f, err := os.Open(target)
	if err != nil {
		return nil, wrapErr(a.name, "get", path, os.IsNotExist(err), err)
	}
	return f, nil
}

// Delete removes the object at path.
func (a *LocalAdapter) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(a.name, "delete", path, false, err)
	}

	target, err := a.resolve(path)
	if err != nil {
		return wrapErr(a.name, "delete", path, false, err)
	}

	if err := os.Remove(target); err != nil {
		return wrapErr(a.name, "delete", path, os.IsNotExist(err), err)
	}

	// Prune now-empty parent directories up to the root; a listing should
	// only ever see real objects.
	dir := filepath.Dir(target)
	for dir != a.root {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	a.logger.Debug().Str("path", path).Msg("deleted object")
	return nil
}

// Ensure LocalAdapter implements Adapter
var _ Adapter = (*LocalAdapter)(nil)
