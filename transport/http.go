// Package transport implements the clients the syncer uses to discover and
// download checkpoint versions from a distribution service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/shardsyncio/go-shardsync/common/types"
)

// versionsPath is where a distribution server advertises its catalog manifest.
const versionsPath = "/versions"

var ErrNoServers = errors.New("no servers configured")

// Config tunes per-request retries. Retrying here only smooths over blips
// within a single request; versions that stay unreachable are retried across
// ticks by the syncer instead.
type Config struct {
	MaxRetries int           `mapstructure:"max-retries"`
	RetryDelay time.Duration `mapstructure:"retry-delay"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// HTTPClient downloads versions from one or more distribution servers,
// trying them in order until one answers.
type HTTPClient struct {
	servers []*url.URL
	fs      afero.Fs
	client  *retryablehttp.Client
	logger  *zap.Logger
}

type HTTPOpt func(*HTTPClient)

func WithConfig(cfg Config) HTTPOpt {
	return func(c *HTTPClient) {
		c.client.RetryMax = cfg.MaxRetries
		c.client.RetryWaitMin = cfg.RetryDelay
		c.client.RetryWaitMax = 2 * cfg.RetryDelay
	}
}

func WithLogger(logger *zap.Logger) HTTPOpt {
	return func(c *HTTPClient) {
		c.logger = logger
		c.client.Logger = &retryableHTTPLogger{inner: logger}
	}
}

func WithFilesystem(fs afero.Fs) HTTPOpt {
	return func(c *HTTPClient) {
		c.fs = fs
	}
}

func WithHTTPClient(client *http.Client) HTTPOpt {
	return func(c *HTTPClient) {
		c.client.HTTPClient = client
	}
}

// A wrapper around zap.Logger to make it compatible with the
// retryablehttp.LeveledLogger interface.
type retryableHTTPLogger struct {
	inner *zap.Logger
}

func (r retryableHTTPLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHTTPLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHTTPLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHTTPLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

func NewHTTPClient(servers []string, opts ...HTTPOpt) (*HTTPClient, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	cfg := DefaultConfig()
	client := &retryablehttp.Client{
		RetryMax:     cfg.MaxRetries,
		RetryWaitMin: cfg.RetryDelay,
		RetryWaitMax: 2 * cfg.RetryDelay,
		Backoff:      retryablehttp.LinearJitterBackoff,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
	}
	c := &HTTPClient{
		fs:     afero.NewOsFs(),
		client: client,
		logger: zap.NewNop(),
	}
	for _, server := range servers {
		base, err := url.Parse(server)
		if err != nil {
			return nil, fmt.Errorf("parse server address %v: %w", server, err)
		}
		if base.Scheme == "" {
			base.Scheme = "http"
		}
		c.servers = append(c.servers, base)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListAvailable queries the servers in order for the catalog manifest and
// returns the advertised version names of the first server that answers.
func (c *HTTPClient) ListAvailable(ctx context.Context) (map[string]types.Version, error) {
	var errs []error
	for _, server := range c.servers {
		available, err := c.listFrom(ctx, server)
		if err != nil {
			c.logger.Debug("catalog query failed",
				zap.Stringer("server", server),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%v: %w", server, err))
			continue
		}
		return available, nil
	}
	return nil, errors.Join(errs...)
}

func (c *HTTPClient) listFrom(ctx context.Context, server *url.URL) (map[string]types.Version, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, server.JoinPath(versionsPath).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query catalog: unexpected status %v", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	available := make(map[string]types.Version, len(manifest.Versions))
	for name := range manifest.Versions {
		version, err := types.ParseVersionName(name)
		if err != nil {
			return nil, fmt.Errorf("advertised name %q: %w", name, err)
		}
		available[name] = version
	}
	return available, nil
}

// Fetch downloads the named version into dst, trying the servers in order.
// A server answering 404 does not carry the version fully yet; if no server
// carries it, Fetch reports a no-op by returning an empty path, and the
// syncer retries on a later tick.
func (c *HTTPClient) Fetch(ctx context.Context, name, dst string) (string, error) {
	var errs []error
	incomplete := 0
	for _, server := range c.servers {
		path, err := c.fetchFrom(ctx, server, name, dst)
		if err != nil {
			c.logger.Debug("download failed",
				zap.Stringer("server", server),
				zap.String("name", name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%v: %w", server, err))
			continue
		}
		if path == "" {
			incomplete++
			continue
		}
		return path, nil
	}
	if incomplete > 0 {
		return "", nil
	}
	return "", errors.Join(errs...)
}

func (c *HTTPClient) fetchFrom(ctx context.Context, server *url.URL, name, dst string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, server.JoinPath(name).String(), nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %v: %w", name, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("download %v: unexpected status %v", name, resp.Status)
	}
	if err := writeAtomic(c.fs, dst, resp.Body); err != nil {
		return "", err
	}
	return dst, nil
}

// writeAtomic streams r into a temp file next to dst and renames it into
// place, so a partial download never occupies the destination path.
func writeAtomic(fs afero.Fs, dst string, r io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("create dst dir %v: %w", filepath.Dir(dst), err)
	}
	tmpf, err := afero.TempFile(fs, filepath.Dir(dst), filepath.Base(dst))
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	defer fs.Remove(tmpf.Name())
	if _, err := io.Copy(tmpf, r); err != nil {
		tmpf.Close()
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmpf.Sync(); err != nil {
		tmpf.Close()
		return fmt.Errorf("sync tmp file: %w", err)
	}
	if err := tmpf.Close(); err != nil {
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := fs.Rename(tmpf.Name(), dst); err != nil {
		return fmt.Errorf("rename tmp file %v to %v: %w", tmpf.Name(), dst, err)
	}
	return nil
}
