package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
)

// ObjectAPI is the subset of *minio.Client used by MinIOStorage
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinIOStorage keeps files in one bucket of an S3-compatible store
type MinIOStorage struct {
	client ObjectAPI
	bucket string
	region string
	logger *logrus.Logger
}

// NewMinIOStorage connects to the object store and ensures the bucket exists
func NewMinIOStorage(config domain.MinIOConfig, logger *logrus.Logger) (*MinIOStorage, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if config.Bucket == "" {
		config.Bucket = "test-results"
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := NewMinIOStorageWithClient(client, config.Bucket, config.Region, logger)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"endpoint": config.Endpoint,
		"bucket":   config.Bucket,
		"ssl":      config.UseSSL,
	}).Info("MinIO storage connected")
	return s, nil
}

// NewMinIOStorageWithClient wraps an existing client
func NewMinIOStorageWithClient(client ObjectAPI, bucket, region string, logger *logrus.Logger) *MinIOStorage {
	return &MinIOStorage{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger,
	}
}

// EnsureBucket creates the bucket when it is missing
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.WithField("bucket", s.bucket).Info("Created bucket")
	return nil
}

// Put uploads data unless an object already exists at path
func (s *MinIOStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return fmt.Errorf("object %s: %w", path, domain.ErrConflict)
	case !isNoSuchKey(err):
		return fmt.Errorf("failed to stat object: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"path":   path,
		"size":   len(data),
	}).Debug("Uploaded object")
	return nil
}

// Delete removes the object at path
func (s *MinIOStorage) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("object %s: %w", path, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
