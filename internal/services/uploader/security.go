package uploader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/gabriel-vasile/mimetype"
)

// FileSecurityService decides what content is allowed into permanent
// storage and where it lives. Permanent keys are random so a stored path
// never leaks the user-supplied name.
type FileSecurityService struct {
	blockedExtensions map[string]struct{}
	maxUploadSize     int64
}

// NewFileSecurityService builds the validator. blocked holds lowercase
// extensions without the leading dot.
func NewFileSecurityService(blocked []string, maxUploadSize int64) *FileSecurityService {
	set := make(map[string]struct{}, len(blocked))
	for _, ext := range blocked {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &FileSecurityService{blockedExtensions: set, maxUploadSize: maxUploadSize}
}

// ValidateFilenameForUpload rejects names that cannot safely become files:
// empty, traversal attempts, control characters, or a blocked extension.
func (s *FileSecurityService) ValidateFilenameForUpload(filename string) error {
	name := strings.TrimSpace(filename)
	if name == "" || len(name) > 255 {
		return xerr.ErrFileNameInvalid
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return xerr.ErrFileNameInvalid
	}
	for _, r := range name {
		if r < 0x20 {
			return xerr.ErrFileNameInvalid
		}
	}
	if s.ExtensionBlocked(name) {
		return xerr.ErrSecurityRejected
	}
	return nil
}

// ExtensionBlocked reports whether the filename's extension is on the
// deny list.
func (s *FileSecurityService) ExtensionBlocked(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return false
	}
	_, blocked := s.blockedExtensions[ext]
	return blocked
}

// SanitizeFilename strips path components and replaces characters that are
// unsafe in a display name. It never returns an empty string.
func (s *FileSecurityService) SanitizeFilename(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20:
			continue
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "unnamed"
	}
	return out
}

// GeneratePermanentKey returns the permanent object key for a validated
// file: files/originals/YYYY/MM/<40-hex>.<ext>.
func (s *FileSecurityService) GeneratePermanentKey(filename string, now time.Time) (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate storage key: %w", err)
	}
	key := fmt.Sprintf("files/originals/%04d/%02d/%s", now.Year(), int(now.Month()), hex.EncodeToString(buf))
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		key += ext
	}
	return key, nil
}

// ValidationResult carries what validation learned about an assembled file.
type ValidationResult struct {
	MimeType string
	Size     int64
}

// ValidateAssembled checks the assembled object against the session's
// declared size and sniffs its real content type. A size mismatch or a
// blocked extension is a permanent rejection, never retried.
func (s *FileSecurityService) ValidateAssembled(ctx context.Context, store storage.Service, key string, declaredSize int64, filename string) (*ValidationResult, error) {
	reader, info, err := store.Get(ctx, key)
	if err != nil {
		if err == storage.ErrObjectNotFound {
			return nil, xerr.ErrCorruptState
		}
		return nil, fmt.Errorf("open assembled object: %w", err)
	}
	defer reader.Close()

	if info.Size != declaredSize {
		return nil, xerr.ErrSecurityRejected
	}
	if declaredSize > s.maxUploadSize {
		return nil, xerr.ErrSecurityRejected
	}
	if s.ExtensionBlocked(filename) {
		return nil, xerr.ErrSecurityRejected
	}

	// Sniff the real content type from the leading bytes; the client's
	// claimed extension is not trusted for anything but the key suffix.
	header := make([]byte, 3072)
	n, err := io.ReadFull(reader, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read assembled object header: %w", err)
	}
	mtype := mimetype.Detect(header[:n])

	return &ValidationResult{
		MimeType: mtype.String(),
		Size:     info.Size,
	}, nil
}
