package storage

import (
	"context"
	"errors"
	"io"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is the metadata returned alongside an object stream.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Service is the common blob-store interface. Keys are slash-separated
// paths; prefixes address whole namespaces (e.g. a session's staging
// directory), which removes any need to special-case empty directories.
type Service interface {
	// Put streams an object to the store, replacing any existing object
	// under the same key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get opens an object for reading. The caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Exists reports whether the key holds an object.
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes a single object. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// RemovePrefix deletes every object under the given prefix.
	RemovePrefix(ctx context.Context, prefix string) error
}

// Mover is implemented by backends that can relocate an object without
// copying its bytes.
type Mover interface {
	Move(ctx context.Context, src, dst string) error
}

// Move relocates an object, using the backend's fast path when available
// and falling back to a stream copy plus delete.
func Move(ctx context.Context, s Service, src, dst string) error {
	if m, ok := s.(Mover); ok {
		return m.Move(ctx, src, dst)
	}
	reader, info, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	defer reader.Close()
	if err := s.Put(ctx, dst, reader, info.Size, info.ContentType); err != nil {
		return err
	}
	return s.Remove(ctx, src)
}

// NewRemoteService builds the configured remote object store backend.
func NewRemoteService(cfg *config.Config) (Service, error) {
	switch cfg.Storage.RemoteType {
	case "minio":
		return NewMinIOService(&cfg.MinIO)
	case "aliyun_oss":
		return NewAliyunOSSService(&cfg.AliyunOSS)
	default:
		return nil, errors.New("invalid remote storage type: " + cfg.Storage.RemoteType)
	}
}
