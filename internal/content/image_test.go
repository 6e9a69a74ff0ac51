package content

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodePNG renders a solid-color PNG of the given size.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareImage_SmallImagePassesThrough(t *testing.T) {
	raw := encodePNG(t, 64, 48)

	prepared, err := PrepareImage(raw, DefaultImageOptions())
	require.NoError(t, err)

	assert.Equal(t, "image/png", prepared.MIME)
	assert.Equal(t, 64, prepared.Width)
	assert.Equal(t, 48, prepared.Height)

	// Untouched bytes round-trip through base64.
	decoded, err := base64.StdEncoding.DecodeString(prepared.Base64)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestPrepareImage_LargeImageRescaled(t *testing.T) {
	raw := encodePNG(t, 400, 200)
	opts := ImageOptions{MaxPixels: 10_000, TargetLongestSide: 100, JPEGQuality: 80}

	prepared, err := PrepareImage(raw, opts)
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", prepared.MIME, "rescaled images re-encode as jpeg")
	assert.Equal(t, 100, prepared.Width)
	assert.Equal(t, 50, prepared.Height, "aspect ratio preserved")

	decoded, err := base64.StdEncoding.DecodeString(prepared.Base64)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(decoded))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
}

func TestPrepareImage_UnreadableFails(t *testing.T) {
	_, err := PrepareImage([]byte("not an image"), DefaultImageOptions())
	assert.Error(t, err)
}

func TestPreparedImage_DataURL(t *testing.T) {
	p := &PreparedImage{Base64: "QUJD", MIME: "image/png"}
	url := p.DataURL()
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,QUJD"))
}

func TestScaledDimensions(t *testing.T) {
	tests := []struct {
		w, h, target   int
		wantW, wantH   int
	}{
		{2000, 1000, 500, 500, 250},
		{1000, 2000, 500, 250, 500},
		{300, 300, 500, 300, 300}, // already under target
		{10000, 1, 100, 100, 1},   // floor at 1
	}
	for _, tt := range tests {
		gotW, gotH := scaledDimensions(tt.w, tt.h, tt.target)
		assert.Equal(t, tt.wantW, gotW)
		assert.Equal(t, tt.wantH, gotH)
	}
}
