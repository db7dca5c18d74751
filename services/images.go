package services

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedImage = errors.New("only PNG, JPEG and WebP images are supported")

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ImageNormalizer turns an upload into a bounded, upright PNG
type ImageNormalizer struct {
	maxDimension int
}

func NewImageNormalizer(maxDimension int) *ImageNormalizer {
	return &ImageNormalizer{maxDimension: maxDimension}
}

// SniffImage checks the leading bytes against the image whitelist
func SniffImage(head []byte) (string, error) {
	detected := http.DetectContentType(head)
	if !allowedMime[detected] {
		return "", fmt.Errorf("%w (got %s)", ErrUnsupportedImage, detected)
	}
	return detected, nil
}

// Normalize decodes data, applies EXIF orientation, fits it inside the
// configured bound and re-encodes it as PNG.
func (n *ImageNormalizer) Normalize(data []byte) ([]byte, error) {
	if _, err := SniffImage(data); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := img.Bounds()
	if n.maxDimension > 0 && (b.Dx() > n.maxDimension || b.Dy() > n.maxDimension) {
		img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
