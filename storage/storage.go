package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when no object exists at the key.
var ErrObjectNotFound = errors.New("storage: object not found")

// Store is a bucket-scoped object store for user uploads (inventory
// photos, partner documents).
type Store struct {
	client *gcs.Client
	bucket string
	now    func() time.Time
}

// New opens the bucket. Credentials come from the environment, the same
// way the rest of the Google Cloud SDK resolves them.
func New(ctx context.Context, bucket string) (*Store, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open client: %w", err)
	}
	return &Store{client: client, bucket: bucket, now: time.Now}, nil
}

// WithClock overrides the time source for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Upload validates and stores one image, returning the object key. Keys
// are prefixed per domain (for example "requests/MR-20260901-0001") and
// carry a timestamp plus a short random tail so re-uploads never clobber
// each other.
func (s *Store) Upload(ctx context.Context, prefix string, data []byte) (string, error) {
	contentType, err := ValidateImage(data)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s-%s%s",
		prefix, s.now().Format("20060102-150405"), uuid.New().String()[:8], extByType[contentType])

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: finalize object: %w", err)
	}
	return key, nil
}

// Delete removes the object at the key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: delete object: %w", err)
	}
	return nil
}

// PublicURL returns the canonical public URL for objects in a
// publicly-readable bucket.
func (s *Store) PublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

// SignedURL returns a time-limited read URL for private objects.
func (s *Store) SignedURL(key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: s.now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign url: %w", err)
	}
	return url, nil
}
