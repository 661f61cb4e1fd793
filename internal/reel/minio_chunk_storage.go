package reel

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioChunkStorage is a ChunkEngine that stores one object per chunk in an
// S3-compatible bucket.
type MinioChunkStorage struct {
	client *minio.Client
	bucket string
}

// MinioOptions configures access to the backing S3-compatible endpoint.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioChunkStorage connects to the endpoint and makes sure the chunk
// bucket exists.
func NewMinioChunkStorage(ctx context.Context, opts MinioOptions) (*MinioChunkStorage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to chunk store: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check chunk bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create chunk bucket %q: %w", opts.Bucket, err)
		}
	}

	return &MinioChunkStorage{client: client, bucket: opts.Bucket}, nil
}

func (s *MinioChunkStorage) PutChunk(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put chunk %q: %w", key, err)
	}
	return nil
}

func (s *MinioChunkStorage) GetChunk(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get chunk %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read chunk %q: %w", key, err)
	}
	return data, nil
}

func (s *MinioChunkStorage) DeleteChunk(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
