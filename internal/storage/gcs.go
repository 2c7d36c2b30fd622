package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSRemote stores objects in a Google Cloud Storage bucket.
type GCSRemote struct {
	client *gcs.Client
	bucket string
}

// NewGCSRemote wraps an existing storage client.
func NewGCSRemote(client *gcs.Client, bucket string) *GCSRemote {
	return &GCSRemote{client: client, bucket: bucket}
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func (r *GCSRemote) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.Bucket(r.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if isGCSNotFound(err) {
		return false, nil
	}
	return false, transportErr("head", key, err)
}

func (r *GCSRemote) Download(ctx context.Context, key, dst string) error {
	reader, err := r.client.Bucket(r.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return fmt.Errorf("gs://%s/%s: %w", r.bucket, key, ErrObjectNotFound)
		}
		return transportErr("get", key, err)
	}
	defer reader.Close()

	return writeFileAtomic(dst, reader)
}

func (r *GCSRemote) Upload(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", src, err)
	}
	defer f.Close()

	writer := r.client.Bucket(r.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(writer, f); err != nil {
		_ = writer.Close()
		return transportErr("put", key, fmt.Errorf("io.Copy to GCS failed: %w", err))
	}
	if err := writer.Close(); err != nil {
		return transportErr("put", key, fmt.Errorf("failed to close GCS writer (finalize upload): %w", err))
	}
	return nil
}

func (r *GCSRemote) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := r.client.Bucket(r.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", transportErr("presign", key, err)
	}
	return url, nil
}
