package vision_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/MrWong99/vigil/pkg/provider/vision"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeImage(t *testing.T) {
	t.Parallel()

	b64 := encodePNG(t, solid(8, 6, color.White))

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "data url", payload: "data:image/png;base64," + b64},
		{name: "bare base64", payload: b64},
		{name: "empty", payload: "", wantErr: true},
		{name: "data url without comma", payload: "data:image/png;base64", wantErr: true},
		{name: "not base64", payload: "%%%", wantErr: true},
		{name: "not an image", payload: base64.StdEncoding.EncodeToString([]byte("hello")), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			img, err := vision.DecodeImage(tc.payload)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := img.Bounds().Size(); got != image.Pt(8, 6) {
				t.Errorf("size = %v, want 8x6", got)
			}
		})
	}
}

func TestDecodeImage_EmptySentinel(t *testing.T) {
	t.Parallel()
	_, err := vision.DecodeImage("data:image/jpeg;base64,")
	if !errors.Is(err, vision.ErrEmptyImage) {
		t.Errorf("err = %v, want ErrEmptyImage", err)
	}
}

func TestCrop_ClipsToBounds(t *testing.T) {
	t.Parallel()
	img := solid(10, 10, color.Black)

	got, ok := vision.Crop(img, image.Rect(-5, -5, 4, 3))
	if !ok {
		t.Fatal("expected non-empty crop")
	}
	if got.Bounds() != image.Rect(0, 0, 4, 3) {
		t.Errorf("bounds = %v, want (0,0)-(4,3)", got.Bounds())
	}

	if _, ok := vision.Crop(img, image.Rect(20, 20, 30, 30)); ok {
		t.Error("expected empty crop outside the image")
	}
}

func TestGrayscale_Size(t *testing.T) {
	t.Parallel()
	g := vision.Grayscale(solid(37, 53, color.RGBA{R: 200, G: 10, B: 10, A: 255}), 100, 100)
	if g.Bounds().Dx() != 100 || g.Bounds().Dy() != 100 {
		t.Fatalf("bounds = %v, want 100x100", g.Bounds())
	}
}

func TestFaceBounds(t *testing.T) {
	t.Parallel()
	f := vision.Face{Points: []vision.Point{{X: 0.4, Y: 0.2}, {X: 0.1, Y: 0.9}, {X: 0.6, Y: 0.5}}}
	min, max, ok := f.Bounds()
	if !ok {
		t.Fatal("expected bounds")
	}
	if min != (vision.Point{X: 0.1, Y: 0.2}) || max != (vision.Point{X: 0.6, Y: 0.9}) {
		t.Errorf("bounds = %v..%v", min, max)
	}
	if _, _, ok := (vision.Face{}).Bounds(); ok {
		t.Error("empty face should have no bounds")
	}
}
