package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrMalformedInlineData is returned when an inline payload cannot be decoded.
	ErrMalformedInlineData = errors.New("fetch: malformed inline data")
	// ErrS3SourceNotAllowed is returned when a source names a bucket outside
	// the configured source allow-list.
	ErrS3SourceNotAllowed = errors.New("fetch: s3 source bucket not allowed")
)

// SourceKind records how a source video was obtained.
type SourceKind string

const (
	// SourceRemoteURL means the video was downloaded.
	SourceRemoteURL SourceKind = "remote_url"
	// SourceInlineData means the video was decoded from a data URI.
	SourceInlineData SourceKind = "inline_data"
)

// Source describes where a request's video comes from.
type Source struct {
	// VideoURL is a remote URL or, with IsBlob, a data URI.
	VideoURL string
	// IsBlob selects the inline decode path when VideoURL is a data URI.
	IsBlob bool
}

// Acquirer materializes a request's source video into a local file.
type Acquirer interface {
	Acquire(ctx context.Context, src Source, dst string) (SourceKind, error)
}

// Acquire writes the source video to dst. Inline data URIs are decoded when
// IsBlob is set; everything else is downloaded. s3:// sources are limited to
// the buckets set with WithSourceBuckets, which only affects sources: outro
// downloads go through Download and may use any bucket.
func (d *Downloader) Acquire(ctx context.Context, src Source, dst string) (SourceKind, error) {
	if src.IsBlob && IsDataURI(src.VideoURL) {
		payload, err := DecodeDataURI(src.VideoURL)
		if err != nil {
			return SourceInlineData, err
		}
		if d.maxBytes > 0 && int64(len(payload)) > d.maxBytes {
			return SourceInlineData, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(payload), d.maxBytes)
		}
		if _, err := d.writeFile(dst, bytes.NewReader(payload)); err != nil {
			return SourceInlineData, err
		}
		return SourceInlineData, nil
	}

	if err := d.checkSourceBucket(src.VideoURL); err != nil {
		return SourceRemoteURL, err
	}
	if err := d.Download(ctx, src.VideoURL, dst); err != nil {
		return SourceRemoteURL, err
	}
	return SourceRemoteURL, nil
}

// checkSourceBucket rejects s3:// sources whose bucket is not allow-listed.
func (d *Downloader) checkSourceBucket(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !strings.EqualFold(u.Scheme, "s3") {
		return nil // Download reports malformed URLs and other schemes
	}
	if _, ok := d.sourceBuckets[u.Host]; !ok {
		return fmt.Errorf("%w: %q", ErrS3SourceNotAllowed, u.Host)
	}
	return nil
}

// IsDataURI reports whether s looks like a base64 data URI.
func IsDataURI(s string) bool {
	if !strings.HasPrefix(s, "data:") {
		return false
	}
	meta, _, ok := strings.Cut(s[len("data:"):], ",")
	return ok && strings.HasSuffix(meta, ";base64")
}

// DecodeDataURI decodes the payload of a "data:<mime>;base64,<payload>" URI.
// Padded and unpadded standard base64 are accepted.
func DecodeDataURI(s string) ([]byte, error) {
	if !IsDataURI(s) {
		return nil, fmt.Errorf("%w: not a base64 data URI", ErrMalformedInlineData)
	}
	_, payload, _ := strings.Cut(s, ",")
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInlineData)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInlineData, err)
	}
	return data, nil
}

// Verify interface implementation at compile time.
var _ Acquirer = (*Downloader)(nil)
