package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// LocalUploadStore stages uploads as files under one directory.
type LocalUploadStore struct {
	dir string
}

func NewLocalUploadStore(dir string) (*LocalUploadStore, error) {
	if dir == "" {
		dir = "./data/bulk_imports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalUploadStore{dir: dir}, nil
}

func (s *LocalUploadStore) file(key string) string {
	return filepath.Join(s.dir, filepath.Base(filepath.Clean(key)))
}

func (s *LocalUploadStore) Put(_ context.Context, key string, data []byte) error {
	if err := os.WriteFile(s.file(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to persist file: %w", err)
	}
	return nil
}

func (s *LocalUploadStore) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(s.file(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read staged file: %w", err)
	}
	return b, nil
}

func (s *LocalUploadStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.file(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

// S3API is the subset of the S3 client used for staging.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3UploadStore stages uploads as objects under bucket/prefix.
type S3UploadStore struct {
	client S3API
	bucket string
	prefix string
}

func NewS3UploadStore(client S3API, bucket, prefix string) *S3UploadStore {
	return &S3UploadStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3UploadStore) objectKey(key string) string {
	return path.Join(s.prefix, path.Base(key))
}

func (s *S3UploadStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload staged file: %w", err)
	}
	return nil
}

func (s *S3UploadStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download staged file: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged file: %w", err)
	}
	return b, nil
}

func (s *S3UploadStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete staged file: %w", err)
	}
	return nil
}
