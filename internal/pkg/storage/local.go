package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalService stores objects as plain files under a base directory.
// It backs both the chunk staging area and local permanent placement.
type LocalService struct {
	base string
}

// NewLocalService creates the base directory if needed and returns a
// local disk store rooted there.
func NewLocalService(basePath string) (*LocalService, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve local storage base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage base: %w", err)
	}
	return &LocalService{base: abs}, nil
}

// resolve maps a key to an absolute path and rejects keys that would
// escape the base directory.
func (s *LocalService) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.FromSlash(key))
	full := filepath.Join(s.base, cleaned)
	if full != s.base && !strings.HasPrefix(full, s.base+string(os.PathSeparator)) {
		return "", fmt.Errorf("key escapes storage base: %q", key)
	}
	return full, nil
}

func (s *LocalService) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	out, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create object file: %w", err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(full)
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}
	return nil
}

func (s *LocalService) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("open object %s: %w", key, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat object %s: %w", key, err)
	}
	return f, ObjectInfo{Size: stat.Size()}, nil
}

func (s *LocalService) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	stat, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return !stat.IsDir(), nil
}

func (s *LocalService) Remove(ctx context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func (s *LocalService) RemovePrefix(ctx context.Context, prefix string) error {
	full, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if full == s.base {
		return fmt.Errorf("refusing to remove storage base")
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("remove prefix %s: %w", prefix, err)
	}
	return nil
}

// Move implements Mover via rename, avoiding a byte copy for same-disk
// placement of multi-gigabyte assembled files.
func (s *LocalService) Move(ctx context.Context, src, dst string) error {
	srcFull, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstFull, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Rename(srcFull, dstFull); err != nil {
		return fmt.Errorf("move object %s to %s: %w", src, dst, err)
	}
	return nil
}
