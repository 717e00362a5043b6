package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/shardsyncio/go-shardsync/common/types"
)

// GSClient reads versions straight from a Google Cloud Storage bucket, for
// deployments that upload checkpoints to gs://bucket/prefix/v<version>.
// Uploads to GCS are atomic, so a listed object is always complete.
type GSClient struct {
	bucket *storage.BucketHandle
	prefix string
	fs     afero.Fs
	logger *zap.Logger
}

type GSOpt func(*GSClient)

func WithGSFilesystem(fs afero.Fs) GSOpt {
	return func(c *GSClient) {
		c.fs = fs
	}
}

func WithGSLogger(logger *zap.Logger) GSOpt {
	return func(c *GSClient) {
		c.logger = logger
	}
}

func NewGSClient(ctx context.Context, uri string, opts ...GSOpt) (*GSClient, error) {
	bucket, prefix, err := parseGsURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gs client: %w", err)
	}
	c := &GSClient{
		bucket: client.Bucket(bucket),
		prefix: prefix,
		fs:     afero.NewOsFs(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseGsURI(gsPath string) (bucket, prefix string, err error) {
	parsed, err := url.Parse(gsPath)
	if err != nil {
		return "", "", fmt.Errorf("parse gs uri %v: %w", gsPath, err)
	}
	if parsed.Scheme != "gs" {
		return "", "", fmt.Errorf("path %s must have 'gs' scheme", gsPath)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("path %s must have bucket", gsPath)
	}
	return parsed.Host, strings.Trim(parsed.Path, "/"), nil
}

func (c *GSClient) objectName(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "/" + name
}

// ListAvailable lists the objects under the configured prefix and parses
// their base names as version names. Objects that do not look like versions
// are skipped so unrelated bucket content cannot wedge the catalog.
func (c *GSClient) ListAvailable(ctx context.Context) (map[string]types.Version, error) {
	query := &storage.Query{}
	if c.prefix != "" {
		query.Prefix = c.prefix + "/"
	}
	available := make(map[string]types.Version)
	it := c.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs objects: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, query.Prefix)
		version, err := types.ParseVersionName(name)
		if err != nil {
			c.logger.Debug("skipping non-version object", zap.String("object", attrs.Name))
			continue
		}
		available[name] = version
	}
	return available, nil
}

// Fetch downloads the named version object into dst. A missing object is
// reported as a no-op, matching the not-fully-distributed case of the HTTP
// client.
func (c *GSClient) Fetch(ctx context.Context, name, dst string) (string, error) {
	r, err := c.bucket.Object(c.objectName(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open gs object %v: %w", c.objectName(name), err)
	}
	defer r.Close()
	if err := writeAtomic(c.fs, dst, r); err != nil {
		return "", err
	}
	return dst, nil
}
