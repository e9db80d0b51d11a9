// Package storage hands out download URLs for product images held in Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	maxSignedURLExpiry     = 7 * 24 * time.Hour
	defaultPublicBaseURL   = "https://storage.googleapis.com"
)

var (
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is invalid")
	errExpiryTooLong  = errors.New("storage: expiry exceeds permitted maximum")
	errSignerNotReady = errors.New("storage: signer email is required")
)

// ImageSigner produces time-limited GET URLs for objects in the product image bucket. Without a
// Signer it falls back to public object URLs, which suits buckets served publicly or through the
// emulator.
type ImageSigner struct {
	bucket     string
	signer     Signer
	scheme     storage.SigningScheme
	publicBase string
	now        func() time.Time
}

// ImageSignerOption customises signer behaviour.
type ImageSignerOption func(*ImageSigner)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ImageSignerOption {
	return func(s *ImageSigner) {
		if scheme != 0 {
			s.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ImageSignerOption {
	return func(s *ImageSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPublicBaseURL sets the origin used for unsigned URLs.
func WithPublicBaseURL(base string) ImageSignerOption {
	return func(s *ImageSigner) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			s.publicBase = base
		}
	}
}

// NewImageSigner constructs a signer for bucket. signer may be nil.
func NewImageSigner(bucket string, signer Signer, opts ...ImageSignerOption) (*ImageSigner, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if signer != nil && strings.TrimSpace(signer.Email()) == "" {
		return nil, errSignerNotReady
	}
	s := &ImageSigner{
		bucket:     bucket,
		signer:     signer,
		scheme:     storage.SigningSchemeV4,
		publicBase: defaultPublicBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// SignedURL returns a GET URL for objectPath valid for ttl. A non-positive ttl uses the default.
func (s *ImageSigner) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if s == nil {
		return "", errInvalidBucket
	}
	if ctx == nil {
		return "", errors.New("storage: context is required")
	}
	object, err := s.objectName(objectPath)
	if err != nil {
		return "", err
	}
	if s.signer == nil {
		return s.publicURL(object), nil
	}

	if ttl <= 0 {
		ttl = defaultSignedURLExpiry
	}
	if ttl > maxSignedURLExpiry {
		return "", errExpiryTooLong
	}

	signed, err := storage.SignedURL(s.bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         s.scheme,
		Method:         "GET",
		Expires:        s.now().Add(ttl),
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signed, nil
}

// objectName cleans a stored image path. Paths may carry a leading slash or the bucket name.
func (s *ImageSigner) objectName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if u, err := url.Parse(trimmed); err == nil && u.Scheme == "gs" {
		if u.Host != s.bucket {
			return "", fmt.Errorf("%w: %q is outside bucket %s", errInvalidObject, raw, s.bucket)
		}
		trimmed = u.Path
	}
	trimmed = strings.TrimLeft(trimmed, "/")
	trimmed = strings.TrimPrefix(trimmed, s.bucket+"/")
	if trimmed == "" {
		return "", errInvalidObject
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", errInvalidObject, raw)
		}
	}
	return path.Clean(trimmed), nil
}

func (s *ImageSigner) publicURL(object string) string {
	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.publicBase + "/" + s.bucket + "/" + strings.Join(segments, "/")
}
