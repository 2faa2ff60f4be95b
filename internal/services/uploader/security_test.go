package uploader

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"regexp"
	"testing"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSecurity() *FileSecurityService {
	return NewFileSecurityService([]string{"exe", "sh", ".php"}, 100*1024*1024)
}

func TestValidateFilenameForUpload(t *testing.T) {
	s := newTestSecurity()

	assert.NoError(t, s.ValidateFilenameForUpload("report.pdf"))
	assert.NoError(t, s.ValidateFilenameForUpload("photo (1).JPG"))
	assert.NoError(t, s.ValidateFilenameForUpload("no_extension"))

	assert.ErrorIs(t, s.ValidateFilenameForUpload(""), xerr.ErrFileNameInvalid)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("   "), xerr.ErrFileNameInvalid)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("../../etc/passwd"), xerr.ErrFileNameInvalid)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("a/b.txt"), xerr.ErrFileNameInvalid)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("a\\b.txt"), xerr.ErrFileNameInvalid)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("bad\x00name"), xerr.ErrFileNameInvalid)

	// Blocked extensions are a security rejection, case-insensitive, with
	// or without the configured leading dot.
	assert.ErrorIs(t, s.ValidateFilenameForUpload("virus.exe"), xerr.ErrSecurityRejected)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("script.SH"), xerr.ErrSecurityRejected)
	assert.ErrorIs(t, s.ValidateFilenameForUpload("index.php"), xerr.ErrSecurityRejected)
}

func TestSanitizeFilename(t *testing.T) {
	s := newTestSecurity()

	assert.Equal(t, "report.pdf", s.SanitizeFilename("report.pdf"))
	assert.Equal(t, "passwd", s.SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a_b_.txt", s.SanitizeFilename(`a<b>.txt`))
	assert.Equal(t, "unnamed", s.SanitizeFilename("..."))
	assert.Equal(t, "unnamed", s.SanitizeFilename("   "))
}

func TestGeneratePermanentKey(t *testing.T) {
	s := newTestSecurity()
	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)

	key, err := s.GeneratePermanentKey("Photo.PNG", now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^files/originals/2026/08/[0-9a-f]{40}\.png$`), key)

	bare, err := s.GeneratePermanentKey("noext", now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^files/originals/2026/08/[0-9a-f]{40}$`), bare)

	other, err := s.GeneratePermanentKey("Photo.PNG", now)
	require.NoError(t, err)
	assert.NotEqual(t, key, other, "keys must be unique per call")
}

func TestValidateAssembled(t *testing.T) {
	s := newTestSecurity()
	store, err := storage.NewLocalService(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// A real PNG so the sniffer has something to detect.
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	pngBytes := buf.Bytes()
	require.NoError(t, store.Put(ctx, "files/temp/a.png", bytes.NewReader(pngBytes), int64(len(pngBytes)), ""))

	result, err := s.ValidateAssembled(ctx, store, "files/temp/a.png", int64(len(pngBytes)), "a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", result.MimeType)
	assert.Equal(t, int64(len(pngBytes)), result.Size)

	// Declared size disagreeing with the assembled bytes is permanent.
	_, err = s.ValidateAssembled(ctx, store, "files/temp/a.png", int64(len(pngBytes))+1, "a.png")
	assert.ErrorIs(t, err, xerr.ErrSecurityRejected)

	// A blocked extension slipping through initiation is still rejected.
	_, err = s.ValidateAssembled(ctx, store, "files/temp/a.png", int64(len(pngBytes)), "a.exe")
	assert.ErrorIs(t, err, xerr.ErrSecurityRejected)

	// A missing assembled object means bookkeeping and storage disagree.
	_, err = s.ValidateAssembled(ctx, store, "files/temp/missing.png", 1, "missing.png")
	assert.ErrorIs(t, err, xerr.ErrCorruptState)
}
