package provider

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/filewarden/filewarden/internal/config"
)

// S3Adapter stores objects in an S3-compatible object store. Provider paths
// are object keys relative to the configured prefix.
type S3Adapter struct {
	name   string
	client *s3.Client
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Adapter creates an S3 adapter from provider configuration.
// Custom endpoints (MinIO, Ceph, Wasabi, R2) are supported via cfg.Endpoint.
func NewS3Adapter(ctx context.Context, name string, cfg config.S3ProviderConfig, logger zerolog.Logger) (*S3Adapter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, wrapErr(name, "configure", "", false, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Adapter{
		name:   name,
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
		logger: logger.With().Str("provider", name).Str("kind", string(config.KindS3)).Logger(),
	}, nil
}

// normalizePrefix ensures a non-empty prefix ends with exactly one slash.
func normalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

// Name returns the configured provider name.
func (a *S3Adapter) Name() string { return a.name }

// Kind returns the backend variant.
func (a *S3Adapter) Kind() config.ProviderKind { return config.KindS3 }

// key maps a provider path to the full object key.
func (a *S3Adapter) key(path string) string {
	return a.prefix + path
}

// List returns every object under prefix, following ListObjectsV2
// continuation tokens to exhaustion. The context is checked before each page
// so a canceled scan stops between pages.
func (a *S3Adapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.key(prefix)),
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, wrapErr(a.name, "list", prefix, false, err)
		}

		page, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, wrapErr(a.name, "list", prefix, false, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			path := strings.TrimPrefix(key, a.prefix)
			if path == "" || strings.HasSuffix(path, "/") {
				// Skip directory placeholder objects.
				continue
			}
			objects = append(objects, ObjectInfo{
				Path: path,
				Size: aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			return objects, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

// Put writes the object at path.
func (a *S3Adapter) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(path)),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return wrapErr(a.name, "put", path, false, err)
	}

	a.logger.Debug().Str("path", path).Int64("size", size).Msg("stored object")
	return nil
}

// Get opens the object at path for reading.
func (a *S3Adapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(path)),
	})
	if err != nil {
		return nil, wrapErr(a.name, "get", path, isS3NotFound(err), err)
	}
	return out.Body, nil
}

// Delete removes the object at path. S3 deletes are idempotent: deleting an
// absent key succeeds, which suits orphan cleanup.
func (a *S3Adapter) Delete(ctx context.Context, path string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(path)),
	})
	if err != nil {
		return wrapErr(a.name, "delete", path, isS3NotFound(err), err)
	}

	a.logger.Debug().Str("path", path).Msg("deleted object")
	return nil
}

// isS3NotFound reports whether err is an S3 missing-key error rather than a
// transport or permission failure.
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

// Ensure S3Adapter implements Adapter
var _ Adapter = (*S3Adapter)(nil)
