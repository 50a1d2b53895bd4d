// Package imaging decodes downloaded avatars, scales them for display and
// encodes them for the disk cache.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/starford/octoscope/internal/apperr"
)

// ContentMode selects how an image is fitted into the target dimension.
// Only ScaleAspectFit is implemented.
type ContentMode int

const (
	ScaleAspectFit ContentMode = iota
	ScaleAspectFill
	ScaleToFill
)

func (m ContentMode) String() string {
	switch m {
	case ScaleAspectFit:
		return "aspect_fit"
	case ScaleAspectFill:
		return "aspect_fill"
	case ScaleToFill:
		return "to_fill"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseContentMode maps a config string to a mode. Unknown names are a
// config error; known but unimplemented modes are rejected later by Resize.
func ParseContentMode(s string) (ContentMode, error) {
	switch s {
	case "", "aspect_fit":
		return ScaleAspectFit, nil
	case "aspect_fill":
		return ScaleAspectFill, nil
	case "to_fill":
		return ScaleToFill, nil
	default:
		return 0, apperr.Config("imaging", fmt.Errorf("unknown content mode %q", s))
	}
}

// FitSize computes the aspect-fit box for a w×h source and dimension d:
// landscape sources get width d, everything else gets height d.
func FitSize(w, h int, d float64, mode ContentMode) (int, int, error) {
	if mode != ScaleAspectFit {
		return 0, 0, apperr.Config("imaging: resize", fmt.Errorf("unsupported content mode %s", mode))
	}
	if w <= 0 || h <= 0 || d <= 0 {
		return 0, 0, apperr.Decode("imaging: resize", fmt.Errorf("invalid geometry %dx%d to %.2f", w, h, d))
	}
	r := float64(w) / float64(h)
	var fw, fh float64
	if r > 1 {
		fw = d
		fh = d / r
	} else {
		fh = d
		fw = d * r
	}
	return roundDim(fw), roundDim(fh), nil
}

func roundDim(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}

// Resize scales img into the aspect-fit box for dimension d. An image that
// already has the target size is returned unchanged.
func Resize(img image.Image, d float64, mode ContentMode) (image.Image, error) {
	b := img.Bounds()
	w, h, err := FitSize(b.Dx(), b.Dy(), d, mode)
	if err != nil {
		return nil, err
	}
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	if int64(w)*int64(h) > MaxOutputPixels {
		return nil, apperr.Config("imaging: resize", fmt.Errorf("output %dx%d exceeds %d pixels", w, h, MaxOutputPixels))
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

// ToHeight scales img so its height equals height while keeping the aspect
// ratio. Landscape sources are fitted into a box of height×ratio so the
// aspect-fit rule still yields the requested height.
func ToHeight(img image.Image, height int, mode ContentMode) (image.Image, error) {
	b := img.Bounds()
	if b.Dy() <= 0 {
		return nil, apperr.Decode("imaging: resize", fmt.Errorf("empty image"))
	}
	d := float64(height)
	if r := float64(b.Dx()) / float64(b.Dy()); r > 1 {
		d = float64(height) * r
	}
	return Resize(img, d, mode)
}

// Size limits for decoded sources and scaled outputs.
const (
	MaxSourceSide   = 8192
	MaxOutputPixels = 4096 * 4096
)

// Decode parses png, jpeg, gif or webp bytes. Sources declaring a side
// longer than MaxSourceSide are rejected before any pixel is decoded.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperr.Decode("imaging: decode", err)
	}
	if cfg.Width > MaxSourceSide || cfg.Height > MaxSourceSide {
		return nil, "", apperr.Decode("imaging: decode", fmt.Errorf("source %dx%d exceeds %d px per side", cfg.Width, cfg.Height, MaxSourceSide))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperr.Decode("imaging: decode", err)
	}
	return img, format, nil
}

// EncodePNG encodes img as PNG, the on-disk format.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, apperr.Decode("imaging: encode", err)
	}
	return buf.Bytes(), nil
}
