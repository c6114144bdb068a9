// Package s3 wraps object storage for binary attachments. It speaks to any
// S3-compatible endpoint (MinIO in the default deployment) with path-style
// addressing.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// partSize is the multipart chunk size for large uploads.
const partSize = 5 * 1024 * 1024

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Client is a bucket-scoped object storage client.
type Client struct {
	mc     *minio.Client
	bucket string
	log    *zerolog.Logger
}

// New builds a client and creates the bucket if it does not exist.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: new client: %w", err)
	}

	c := &Client{mc: mc, bucket: cfg.Bucket, log: logger}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3: check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("s3: make bucket: %w", err)
		}
		logger.Info().Str("bucket", cfg.Bucket).Msg("bucket created")
	}

	return c, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Upload stores an object under key. Objects larger than the part size are
// uploaded in multipart chunks.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    partSize,
	})
	if err != nil {
		return fmt.Errorf("s3: upload %q: %w", key, err)
	}
	c.log.Info().Str("key", key).Int64("size", size).Str("content_type", contentType).Msg("uploaded object")
	return nil
}

// Download returns a reader over the object and its metadata. The caller
// closes the reader.
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, minio.ObjectInfo, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minio.ObjectInfo{}, fmt.Errorf("s3: download %q: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, minio.ObjectInfo{}, fmt.Errorf("s3: stat %q: %w", key, err)
	}
	return obj, info, nil
}

// Delete removes the object.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: delete %q: %w", key, err)
	}
	c.log.Info().Str("key", key).Msg("deleted object")
	return nil
}

// Exists reports whether an object is present under key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if ErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3: stat %q: %w", key, err)
}

// ErrNotFound reports whether err is the storage backend's missing-object error.
func ErrNotFound(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && resp.Code == "NoSuchKey"
}
