package services

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeShrinksLargeImages(t *testing.T) {
	n := NewImageNormalizer(100)

	out, err := n.Normalize(encodePNG(t, 400, 200))
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestNormalizeConvertsJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := NewImageNormalizer(2048).Normalize(buf.Bytes())
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 20, cfg.Width)
}

func TestNormalizeRejectsNonImages(t *testing.T) {
	n := NewImageNormalizer(2048)

	_, err := n.Normalize([]byte("<html><body>hi</body></html>"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = n.Normalize([]byte("GIF89a......"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}
