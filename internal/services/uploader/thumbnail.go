package uploader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
)

// thumbnailMaxEdge bounds the longer edge of a generated thumbnail.
const thumbnailMaxEdge = 300

// ThumbnailService renders small JPEG previews for image files. It is a
// best-effort stage: callers treat failures as non-fatal.
type ThumbnailService struct{}

func NewThumbnailService() *ThumbnailService {
	return &ThumbnailService{}
}

// IsImage reports whether a sniffed content type is one we can thumbnail.
func (s *ThumbnailService) IsImage(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "image/jpeg"),
		strings.HasPrefix(mimeType, "image/png"),
		strings.HasPrefix(mimeType, "image/gif"):
		return true
	}
	return false
}

// ThumbnailKey derives the thumbnail key from the original's permanent key,
// e.g. files/originals/2026/08/<hash>.png -> files/thumbnails/2026/08/<hash>.jpg.
func (s *ThumbnailService) ThumbnailKey(originalKey string) string {
	dir := path.Dir(originalKey)
	dir = strings.Replace(dir, "files/originals", "files/thumbnails", 1)
	base := strings.TrimSuffix(path.Base(originalKey), path.Ext(originalKey))
	return path.Join(dir, base+".jpg")
}

// Generate reads the original from srcKey, scales it down and writes a JPEG
// thumbnail to dstKey on the same store.
func (s *ThumbnailService) Generate(ctx context.Context, store storage.Service, srcKey, dstKey string) error {
	reader, _, err := store.Get(ctx, srcKey)
	if err != nil {
		return fmt.Errorf("open original %s: %w", srcKey, err)
	}
	defer reader.Close()

	img, _, err := image.Decode(reader)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", srcKey, err)
	}

	thumb := scaleDown(img, thumbnailMaxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := store.Put(ctx, dstKey, &buf, int64(buf.Len()), "image/jpeg"); err != nil {
		return fmt.Errorf("store thumbnail %s: %w", dstKey, err)
	}
	return nil
}

// scaleDown resizes img so its longer edge is at most maxEdge, using
// nearest-neighbor sampling. Images already small enough pass through.
func scaleDown(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	outW, outH := maxEdge, maxEdge
	if w > h {
		outH = h * maxEdge / w
	} else {
		outW = w * maxEdge / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		srcY := bounds.Min.Y + y*h/outH
		for x := 0; x < outW; x++ {
			srcX := bounds.Min.X + x*w/outW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}
