package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
)

const (
	defaultSignedURLTTL = 10 * time.Minute
	maxSignedURLTTL     = 15 * time.Minute
	screenshotCache     = "private, max-age=0, no-store"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object path is invalid")
	errExpiryTooLong = errors.New("storage: signed url expiry exceeds 15 minutes")
	// ErrObjectExists is returned when the screenshot path is already taken.
	ErrObjectExists = errors.New("storage: object already exists")
)

// objectWriter uploads a whole object. The GCS implementation refuses to overwrite.
type objectWriter interface {
	WriteObject(ctx context.Context, object string, attrs objectAttrs, data []byte) error
}

type objectAttrs struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ScreenshotStore keeps payment screenshots in a private bucket and hands reviewers short-lived
// V4 signed download URLs.
type ScreenshotStore struct {
	bucket  string
	writer  objectWriter
	signer  Signer
	account string
	ambient func(object string, opts *gcs.SignedURLOptions) (string, error)
	now     func() time.Time
}

// Option customises ScreenshotStore.
type Option func(*ScreenshotStore)

// WithSigner signs URLs with an explicit service account key instead of ambient credentials.
func WithSigner(signer Signer) Option {
	return func(s *ScreenshotStore) { s.signer = signer }
}

// WithAccessID names the service account the client signs as through IAM signBlob.
func WithAccessID(email string) Option {
	return func(s *ScreenshotStore) { s.account = strings.TrimSpace(email) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ScreenshotStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScreenshotStore builds a store over bucket using client.
func NewScreenshotStore(client *gcs.Client, bucket string, opts ...Option) (*ScreenshotStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	handle := client.Bucket(bucket)
	return newScreenshotStore(bucket, gcsWriter{bucket: handle}, handle.SignedURL, opts...), nil
}

func newScreenshotStore(bucket string, writer objectWriter, ambient func(string, *gcs.SignedURLOptions) (string, error), opts ...Option) *ScreenshotStore {
	s := &ScreenshotStore{
		bucket:  bucket,
		writer:  writer,
		ambient: ambient,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PutScreenshot uploads shot to objectPath.
func (s *ScreenshotStore) PutScreenshot(ctx context.Context, objectPath string, shot payments.Screenshot) (domain.ScreenshotRef, error) {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return domain.ScreenshotRef{}, err
	}
	if len(shot.Data) == 0 {
		return domain.ScreenshotRef{}, errors.New("storage: screenshot is empty")
	}
	attrs := objectAttrs{
		ContentType:  shot.ContentType,
		CacheControl: screenshotCache,
	}
	if name := strings.TrimSpace(shot.FileName); name != "" {
		attrs.Metadata = map[string]string{"originalName": name}
	}
	if err := s.writer.WriteObject(ctx, objectPath, attrs, shot.Data); err != nil {
		return domain.ScreenshotRef{}, fmt.Errorf("storage: upload %s: %w", objectPath, err)
	}
	return domain.ScreenshotRef{
		ObjectPath:  objectPath,
		ContentType: shot.ContentType,
		Size:        shot.Size(),
		UploadedAt:  s.now().UTC(),
	}, nil
}

// SignedURL returns a GET URL for objectPath valid for ttl (default 10 minutes, at most 15).
func (s *ScreenshotStore) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error) {
	objectPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	if ttl > maxSignedURLTTL {
		return "", time.Time{}, errExpiryTooLong
	}

	expires := s.now().Add(ttl).UTC()
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	}
	var url string
	switch {
	case s.signer != nil:
		opts.GoogleAccessID = s.signer.Email()
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		}
		url, err = gcs.SignedURL(s.bucket, objectPath, opts)
	case s.ambient != nil:
		// Without an access id the client derives the identity from its credentials.
		opts.GoogleAccessID = s.account
		url, err = s.ambient(objectPath, opts)
	default:
		err = errors.New("no signer configured")
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: sign %s: %w", objectPath, err)
	}
	return url, expires, nil
}

func cleanObjectPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") || strings.Contains(path, "\\") {
		return "", fmt.Errorf("%w: %q", errInvalidObject, path)
	}
	return path, nil
}

type gcsWriter struct {
	bucket *gcs.BucketHandle
}

func (g gcsWriter) WriteObject(ctx context.Context, object string, attrs objectAttrs, data []byte) error {
	w := g.bucket.Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl
	w.Metadata = attrs.Metadata
	w.SendCRC32C = true
	w.CRC32C = crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ErrObjectExists
		}
		return err
	}
	return nil
}
