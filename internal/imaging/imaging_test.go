package imaging

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/starford/octoscope/internal/apperr"
)

func solid(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img
}

func TestFitSize(t *testing.T) {
	cases := []struct {
		w, h  int
		d     float64
		wantW int
		wantH int
	}{
		{100, 50, 200, 200, 100}, // landscape: width = d
		{50, 100, 200, 100, 200}, // portrait: height = d
		{80, 80, 200, 200, 200},  // square: height = d
		{300, 100, 90, 90, 30},
	}
	for _, c := range cases {
		w, h, err := FitSize(c.w, c.h, c.d, ScaleAspectFit)
		if err != nil {
			t.Fatalf("FitSize(%d,%d,%v): %v", c.w, c.h, c.d, err)
		}
		if w != c.wantW || h != c.wantH {
			t.Errorf("FitSize(%d,%d,%v) = %dx%d, want %dx%d", c.w, c.h, c.d, w, h, c.wantW, c.wantH)
		}
	}
}

func TestFitSize_UnsupportedMode(t *testing.T) {
	for _, m := range []ContentMode{ScaleAspectFill, ScaleToFill, ContentMode(42)} {
		_, _, err := FitSize(10, 10, 20, m)
		if !errors.Is(err, apperr.ErrConfig) {
			t.Errorf("mode %s: err = %v, want config error", m, err)
		}
	}
}

func TestToHeight_Landscape(t *testing.T) {
	out, err := ToHeight(solid(100, 50), 200, ScaleAspectFit)
	if err != nil {
		t.Fatalf("ToHeight: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 400 || b.Dy() != 200 {
		t.Errorf("size = %dx%d, want 400x200", b.Dx(), b.Dy())
	}
}

func TestToHeight_Portrait(t *testing.T) {
	out, err := ToHeight(solid(60, 120), 70, ScaleAspectFit)
	if err != nil {
		t.Fatalf("ToHeight: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 35 || b.Dy() != 70 {
		t.Errorf("size = %dx%d, want 35x70", b.Dx(), b.Dy())
	}
}

func TestToHeight_Idempotent(t *testing.T) {
	first, err := ToHeight(solid(100, 50), 200, ScaleAspectFit)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ToHeight(first, 200, ScaleAspectFit)
	if err != nil {
		t.Fatal(err)
	}
	if first.Bounds() != second.Bounds() {
		t.Errorf("bounds changed: %v -> %v", first.Bounds(), second.Bounds())
	}
	if second != first {
		t.Error("already-sized image should be returned as-is")
	}
}

func TestEncodeDecodeRoundTripKeepsSize(t *testing.T) {
	data, err := EncodePNG(solid(12, 7))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, format, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q", format)
	}
	if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 7 {
		t.Errorf("size = %dx%d", b.Dx(), b.Dy())
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode([]byte("<html>not an image</html>"))
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestParseContentMode(t *testing.T) {
	if m, err := ParseContentMode(""); err != nil || m != ScaleAspectFit {
		t.Errorf("empty: %v %v", m, err)
	}
	if m, err := ParseContentMode("to_fill"); err != nil || m != ScaleToFill {
		t.Errorf("to_fill: %v %v", m, err)
	}
	if _, err := ParseContentMode("stretch"); !errors.Is(err, apperr.ErrConfig) {
		t.Errorf("unknown: err = %v", err)
	}
}

func TestDecode_RejectsOversizedSource(t *testing.T) {
	data, err := EncodePNG(image.NewGray(image.Rect(0, 0, MaxSourceSide+1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(data); !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestToHeight_RejectsHugeOutput(t *testing.T) {
	_, err := ToHeight(solid(4000, 1), 2048, ScaleAspectFit)
	if !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}
