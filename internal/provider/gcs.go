package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/filewarden/filewarden/internal/config"
)

// GCSAdapter stores objects in a Google Cloud Storage bucket. GCS buckets
// are flat namespaces; listing drains the native object iterator rather than
// walking a hierarchy.
type GCSAdapter struct {
	name   string
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	logger zerolog.Logger
}

// NewGCSAdapter creates a GCS adapter from provider configuration.
// With no credentials file, application default credentials are used.
func NewGCSAdapter(ctx context.Context, name string, cfg config.GCSProviderConfig, logger zerolog.Logger) (*GCSAdapter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, wrapErr(name, "configure", "", false, err)
	}

	return &GCSAdapter{
		name:   name,
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		prefix: normalizePrefix(cfg.Prefix),
		logger: logger.With().Str("provider", name).Str("kind", string(config.KindGCS)).Logger(),
	}, nil
}

// Name returns the configured provider name.
func (a *GCSAdapter) Name() string { return a.name }

// Kind returns the backend variant.
func (a *GCSAdapter) Kind() config.ProviderKind { return config.KindGCS }

// Close releases the underlying client.
func (a *GCSAdapter) Close() error {
	return a.client.Close()
}

// key maps a provider path to the full object name.
func (a *GCSAdapter) key(path string) string {
	return a.prefix + path
}

// List drains the object iterator for prefix. The context is checked on each
// step; iterator pages are fetched lazily by the client, so cancellation
// stops cleanly without leaking the iterator.
func (a *GCSAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := a.bucket.Objects(ctx, &storage.Query{Prefix: a.key(prefix)})
	for {
		if err := ctx.Err(); err != nil {
			return nil, wrapErr(a.name, "list", prefix, false, err)
		}

		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, wrapErr(a.name, "list", prefix, false, err)
		}

		path := strings.TrimPrefix(attrs.Name, a.prefix)
		if path == "" || strings.HasSuffix(path, "/") {
			continue
		}
		objects = append(objects, ObjectInfo{Path: path, Size: attrs.Size})
	}
}

// Put writes the object at path. The writer gets its own cancelable context:
// canceling it is the only way to abort an in-progress upload, since Close
// alone flushes the buffered bytes and commits whatever arrived so far.
func (a *GCSAdapter) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := a.bucket.Object(a.key(path)).NewWriter(wctx)

	written, err := abortableWrite(cancel, w, r, size)
	if err != nil {
		return wrapErr(a.name, "put", path, false, err)
	}

	a.logger.Debug().Str("path", path).Int64("size", written).Msg("stored object")
	return nil
}

// abortableWrite copies r into w and verifies the byte count before the
// writer is committed. A copy error or size mismatch triggers abort ahead of
// Close, so a backend writer that finalizes on Close discards the buffered
// bytes instead of committing a truncated object.
func abortableWrite(abort func(), w io.WriteCloser, r io.Reader, size int64) (int64, error) {
	written, err := io.Copy(w, r)
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: got %d bytes, expected %d", written, size)
	}
	if err != nil {
		abort()
		_ = w.Close()
		return written, err
	}
	return written, w.Close()
}

// Get opens the object at path for reading.
func (a *GCSAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := a.bucket.Object(a.key(path)).NewReader(ctx)
	if err != nil {
		return nil, wrapErr(a.name, "get", path, errors.Is(err, storage.ErrObjectNotExist), err)
	}
	return r, nil
}

// Delete removes the object at path.
func (a *GCSAdapter) Delete(ctx context.Context, path string) error {
	err := a.bucket.Object(a.key(path)).Delete(ctx)
	if err != nil {
		return wrapErr(a.name, "delete", path, errors.Is(err, storage.ErrObjectNotExist), err)
	}

	a.logger.Debug().Str("path", path).Msg("deleted object")
	return nil
}

// Ensure GCSAdapter implements Adapter
var _ Adapter = (*GCSAdapter)(nil)
