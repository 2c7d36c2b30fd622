package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3 compatible remote.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// S3Remote stores objects in an S3 compatible bucket (AWS, MinIO, ...).
type S3Remote struct {
	client *minio.Client
	bucket string
}

// NewS3Remote creates a client signing requests with SigV4.
func NewS3Remote(cfg S3Config) (*S3Remote, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3Remote{client: client, bucket: cfg.Bucket}, nil
}

func isS3NotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

func (r *S3Remote) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.StatObject(ctx, r.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, transportErr("head", key, err)
}

func (r *S3Remote) Download(ctx context.Context, key, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := r.client.FGetObject(ctx, r.bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("s3://%s/%s: %w", r.bucket, key, ErrObjectNotFound)
		}
		return transportErr("get", key, err)
	}
	return nil
}

func (r *S3Remote) Upload(ctx context.Context, src, key string) error {
	if _, err := r.client.FPutObject(ctx, r.bucket, key, src, minio.PutObjectOptions{}); err != nil {
		return transportErr("put", key, err)
	}
	return nil
}

func (r *S3Remote) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := r.client.PresignedGetObject(ctx, r.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", transportErr("presign", key, err)
	}
	return u.String(), nil
}
