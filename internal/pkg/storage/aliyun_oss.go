package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"
)

// AliyunOSSService implements Service against an Aliyun OSS bucket.
type AliyunOSSService struct {
	bucket *oss.Bucket
	cfg    *config.AliyunOSSConfig
}

// NewAliyunOSSService creates an OSS-backed remote store.
func NewAliyunOSSService(cfg *config.AliyunOSSConfig) (*AliyunOSSService, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("Failed to initialize Aliyun OSS client", zap.Error(err))
		return nil, fmt.Errorf("initialize Aliyun OSS client: %w", err)
	}
	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("open Aliyun OSS bucket: %w", err)
	}
	logger.Info("Aliyun OSS client initialized", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.BucketName))
	return &AliyunOSSService{bucket: bucket, cfg: cfg}, nil
}

func (s *AliyunOSSService) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	err := s.bucket.PutObject(key, reader, oss.ContentType(contentType))
	if err != nil {
		return fmt.Errorf("OSS put object %s: %w", key, err)
	}
	return nil
}

func (s *AliyunOSSService) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	exists, err := s.bucket.IsObjectExist(key)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("OSS check object %s: %w", key, err)
	}
	if !exists {
		return nil, ObjectInfo{}, ErrObjectNotFound
	}
	reader, err := s.bucket.GetObject(key)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("OSS get object %s: %w", key, err)
	}

	info := ObjectInfo{}
	props, err := s.bucket.GetObjectDetailedMeta(key)
	if err != nil {
		logger.Warn("Failed to fetch OSS object metadata", zap.String("key", key), zap.Error(err))
	} else {
		if v := props.Get(oss.HTTPHeaderContentLength); v != "" {
			info.Size, _ = strconv.ParseInt(v, 10, 64)
		}
		info.ContentType = props.Get(oss.HTTPHeaderContentType)
	}
	return reader, info, nil
}

func (s *AliyunOSSService) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.bucket.IsObjectExist(key)
	if err != nil {
		return false, fmt.Errorf("OSS check object %s: %w", key, err)
	}
	return exists, nil
}

func (s *AliyunOSSService) Remove(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key); err != nil {
		return fmt.Errorf("OSS remove object %s: %w", key, err)
	}
	return nil
}

func (s *AliyunOSSService) RemovePrefix(ctx context.Context, prefix string) error {
	marker := oss.Marker("")
	for {
		result, err := s.bucket.ListObjects(oss.Prefix(prefix), marker)
		if err != nil {
			return fmt.Errorf("OSS list prefix %s: %w", prefix, err)
		}
		for _, obj := range result.Objects {
			if err := s.Remove(ctx, obj.Key); err != nil {
				return err
			}
		}
		if !result.IsTruncated {
			return nil
		}
		marker = oss.Marker(result.NextMarker)
	}
}
