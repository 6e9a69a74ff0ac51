package content

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// ImageOptions bounds the pixel budget for prepared images.
type ImageOptions struct {
	// MaxPixels is the width*height budget above which the image is rescaled.
	MaxPixels int
	// TargetLongestSide is the longest-side length after rescaling.
	TargetLongestSide int
	// JPEGQuality is the re-encode quality (1-100).
	JPEGQuality int
}

// DefaultImageOptions returns the default pixel budget.
// 1.75 MPx keeps vision-language payloads comfortably under request limits.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		MaxPixels:         1_750_000,
		TargetLongestSide: 1280,
		JPEGQuality:       85,
	}
}

// PreparedImage is an image payload ready for a multimodal endpoint.
type PreparedImage struct {
	Base64 string
	MIME   string
	Width  int
	Height int
}

// DataURL renders the payload as a data URL for embedding/VL request bodies.
func (p *PreparedImage) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIME, p.Base64)
}

// SupportedImageExtensions lists the extensions PrepareImage can decode.
var SupportedImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// PrepareImage decodes an image buffer and, if it exceeds the pixel budget,
// rescales it so the longest side is at most TargetLongestSide while
// preserving aspect ratio, re-encoding as JPEG. Images within budget are
// passed through unchanged.
func PrepareImage(buf []byte, opts ImageOptions) (*PreparedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeInvalidInput, fmt.Errorf("read image dimensions: %w", err))
	}

	if cfg.Width*cfg.Height <= opts.MaxPixels {
		return &PreparedImage{
			Base64: base64.StdEncoding.EncodeToString(buf),
			MIME:   mimeForFormat(format),
			Width:  cfg.Width,
			Height: cfg.Height,
		}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fgerrors.Wrap(fgerrors.ErrCodeInvalidInput, fmt.Errorf("decode image: %w", err))
	}

	w, h := scaledDimensions(cfg.Width, cfg.Height, opts.TargetLongestSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	return &PreparedImage{
		Base64: base64.StdEncoding.EncodeToString(out.Bytes()),
		MIME:   "image/jpeg",
		Width:  w,
		Height: h,
	}, nil
}

// scaledDimensions shrinks (w, h) so the longest side equals target,
// preserving aspect ratio. Never returns a dimension below 1.
func scaledDimensions(w, h, target int) (int, int) {
	longest := w
	if h > w {
		longest = h
	}
	if longest <= target {
		return w, h
	}

	scale := float64(target) / float64(longest)
	sw := int(float64(w) * scale)
	sh := int(float64(h) * scale)
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

// mimeForFormat maps image.Decode format names to MIME types.
func mimeForFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
