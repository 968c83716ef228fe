package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores complaint attachments in a single bucket
type MinIO struct {
	Client *minio.Client
	bucket string
}

// NewMinIO connects to the endpoint and creates the bucket on first start
func NewMinIO(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinIO, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	m := &MinIO{Client: client, bucket: bucket}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.Client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}

	if err := m.Client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Bucket returns the bucket every object is written to
func (m *MinIO) Bucket() string {
	return m.bucket
}

// Put uploads an object of known size
func (m *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := m.Client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Get opens an object for streaming. The caller closes the reader.
func (m *MinIO) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := m.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	return obj, info.Size, nil
}

// Remove deletes an object
func (m *MinIO) Remove(ctx context.Context, key string) error {
	if err := m.Client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable
func (m *MinIO) Ping(ctx context.Context) error {
	if _, err := m.Client.BucketExists(ctx, m.bucket); err != nil {
		return fmt.Errorf("minio unavailable: %w", err)
	}
	return nil
}
