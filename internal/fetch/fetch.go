// Package fetch materializes remote or inline media into local session files.
// The same Downloader serves source acquisition and outro retrieval.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/maauso/outro-api/internal/metrics"
)

// Static errors for download operations.
var (
	// ErrInvalidURL is returned when the URL cannot be parsed or has no host.
	ErrInvalidURL = errors.New("fetch: invalid URL")
	// ErrUnsupportedScheme is returned for schemes other than http, https and s3.
	ErrUnsupportedScheme = errors.New("fetch: unsupported URL scheme")
	// ErrS3NotConfigured is returned for s3:// URLs when no S3 client is set.
	ErrS3NotConfigured = errors.New("fetch: S3 is not configured")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("fetch: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("fetch: rate limited")
	// ErrRequestFailed is returned for any other non-2xx status code.
	ErrRequestFailed = errors.New("fetch: request failed")
	// ErrTooLarge is returned when the payload exceeds the configured limit.
	ErrTooLarge = errors.New("fetch: payload exceeds size limit")
	// ErrEmptyBody is returned when a download completes with zero bytes.
	ErrEmptyBody = errors.New("fetch: empty response body")
)

// Fetcher downloads a URL into a local file.
type Fetcher interface {
	// Download writes the content at rawURL to dst. On failure dst is removed.
	Download(ctx context.Context, rawURL, dst string) error
}

// Downloader is the Fetcher used in production. It speaks HTTP(S) with
// retries on transient failures, and s3:// when an S3 client is configured.
type Downloader struct {
	httpClient    *http.Client
	s3            ObjectGetter
	sourceBuckets map[string]struct{}
	maxRetries    int
	baseBackoff   time.Duration
	maxBytes      int64
	logger        *slog.Logger
}

// Option is a function that configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithS3 enables s3:// URLs using the given client.
func WithS3(g ObjectGetter) Option {
	return func(d *Downloader) {
		d.s3 = g
	}
}

// WithSourceBuckets sets the buckets Acquire may read s3:// sources from.
// Without it, s3:// sources are rejected.
func WithSourceBuckets(buckets ...string) Option {
	return func(d *Downloader) {
		for _, b := range buckets {
			if b = strings.TrimSpace(b); b != "" {
				d.sourceBuckets[b] = struct{}{}
			}
		}
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) Option {
	return func(d *Downloader) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(b time.Duration) Option {
	return func(d *Downloader) {
		d.baseBackoff = b
	}
}

// WithMaxBytes limits how many bytes a single download may write.
// Zero or negative disables the limit.
func WithMaxBytes(n int64) Option {
	return func(d *Downloader) {
		d.maxBytes = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDownloader creates a Downloader with sensible defaults.
func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		sourceBuckets: make(map[string]struct{}),
		maxRetries:    2,
		baseBackoff:   500 * time.Millisecond,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download implements Fetcher.
func (d *Downloader) Download(ctx context.Context, rawURL, dst string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: missing host", ErrInvalidURL)
		}
		return d.downloadHTTPWithRetry(ctx, u.String(), dst)
	case "s3":
		if d.s3 == nil {
			return ErrS3NotConfigured
		}
		return d.downloadS3(ctx, u, dst)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// downloadHTTPWithRetry performs a GET with exponential backoff retry.
func (d *Downloader) downloadHTTPWithRetry(ctx context.Context, rawURL, dst string) error {
	var lastErr error
	backoff := d.baseBackoff

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.DownloadRetriesTotal.Inc()
			d.logger.Debug("retrying download",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("fetch: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := d.downloadHTTP(ctx, rawURL, dst)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("fetch: max retries exceeded: %w", lastErr)
}

// downloadHTTP performs a single GET and streams the body into dst.
func (d *Downloader) downloadHTTP(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("fetch: create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("fetch: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(snippet))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(snippet))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(snippet))
	}

	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.ContentLength, d.maxBytes)
	}

	n, err := d.writeFile(dst, resp.Body)
	if err != nil {
		if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmptyBody) {
			return err
		}
		return &retryableError{err: err}
	}

	metrics.DownloadBytesTotal.WithLabelValues(req.URL.Scheme).Add(float64(n))
	return nil
}

// writeFile streams r into dst, enforcing the size limit. A partially written
// dst is removed on failure.
func (d *Downloader) writeFile(dst string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304 - dst is a session path
	if err != nil {
		return 0, fmt.Errorf("fetch: create file: %w", err)
	}

	src := r
	if d.maxBytes > 0 {
		src = io.LimitReader(r, d.maxBytes+1)
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("fetch: write file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("fetch: close file: %w", closeErr)
	case d.maxBytes > 0 && n > d.maxBytes:
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxBytes)
	case n == 0:
		err = ErrEmptyBody
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return n, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Verify interface implementation at compile time.
var _ Fetcher = (*Downloader)(nil)
