package blogdesk

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	coverMaxWidth  = 1200
	avatarMaxWidth = 256
	jpegQuality    = 80

	// DefaultMaxUploadSize caps a single uploaded image.
	DefaultMaxUploadSize = 10 << 20
)

// normalizeImage decodes data, shrinks it to maxWidth if it is wider and
// re-encodes it as JPEG. Undecodable input is a validation error.
func normalizeImage(data []byte, maxWidth int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxWidth {
		newH := h * maxWidth / w
		if newH < 1 {
			newH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// assetName derives a collision-resistant object name from the uploaded
// filename, e.g. "image_my-photo_1700000000000-1a2b3c4d.jpg".
func assetName(prefix, originalName string, now time.Time) string {
	base := slugifyFilename(originalName)
	if base == "" {
		base = "upload"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%d-%s.jpg", prefix, base, now.UnixMilli(), suffix)
}

// slugifyFilename converts a filename (without extension) to a URL-safe slug.
func slugifyFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return Slugify(base)
}
