package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOService implements Service against a MinIO (or S3-compatible) bucket.
type MinIOService struct {
	client *minio.Client
	cfg    *config.MinIOConfig
}

// NewMinIOService creates a MinIO-backed remote store and ensures the
// configured bucket exists.
func NewMinIOService(cfg *config.MinIOConfig) (*MinIOService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Error("Failed to initialize MinIO client", zap.Error(err))
		return nil, fmt.Errorf("initialize MinIO client: %w", err)
	}

	s := &MinIOService{client: client, cfg: cfg}
	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("MinIO client initialized", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.BucketName))
	return s, nil
}

func (s *MinIOService) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.BucketName)
	if err != nil {
		return fmt.Errorf("check MinIO bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create MinIO bucket: %w", err)
	}
	logger.Info("MinIO bucket created", zap.String("bucket", s.cfg.BucketName))
	return nil
}

func (s *MinIOService) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.cfg.BucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("MinIO put object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOService) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("MinIO get object %s: %w", key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("MinIO stat object %s: %w", key, err)
	}
	return obj, ObjectInfo{Size: stat.Size, ContentType: stat.ContentType}, nil
}

func (s *MinIOService) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.BucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("MinIO stat object %s: %w", key, err)
	}
	return true, nil
}

func (s *MinIOService) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.cfg.BucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("MinIO remove object %s: %w", key, err)
	}
	return nil
}

func (s *MinIOService) RemovePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.cfg.BucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("MinIO list prefix %s: %w", prefix, obj.Err)
		}
		if err := s.Remove(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}
