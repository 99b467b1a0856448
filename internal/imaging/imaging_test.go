package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/kozaktomas/faceinbox/internal/faceerr"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(encodePNG(t, solid(20, 10)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format != "png" {
		t.Errorf("expected png, got %s", format)
	}
	if img.Bounds().Dx() != 20 {
		t.Errorf("expected width 20, got %d", img.Bounds().Dx())
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode([]byte("GIF89a not really"))
	if !errors.Is(err, faceerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCropFace_PaddingClippedToBounds(t *testing.T) {
	img := solid(800, 600)
	crop := CropFace(img, image.Rect(10, 10, 410, 410), 60, 0)

	// left/top padding clipped at 0, right/bottom padded by 60
	if got := crop.Bounds().Dx(); got != 470 {
		t.Errorf("expected width 470, got %d", got)
	}
	if got := crop.Bounds().Dy(); got != 470 {
		t.Errorf("expected height 470, got %d", got)
	}
}

func TestCropFace_UpscalesSmallFaces(t *testing.T) {
	img := solid(200, 200)
	crop := CropFace(img, image.Rect(80, 70, 120, 130), 10, 360)

	b := crop.Bounds()
	if max(b.Dx(), b.Dy()) != 360 {
		t.Errorf("expected longest edge 360, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name        string
		w, h, limit int
		wantW       int
		wantH       int
	}{
		{"landscape", 1000, 500, 320, 320, 160},
		{"portrait", 300, 900, 300, 100, 300},
		{"already small", 100, 80, 320, 100, 80},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := Thumbnail(solid(tc.w, tc.h), tc.limit).Bounds()
			if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tc.wantW, tc.wantH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestFaceCropJPEG(t *testing.T) {
	data, err := FaceCropJPEG(encodePNG(t, solid(400, 400)), image.Rect(100, 100, 300, 300))
	if err != nil {
		t.Fatalf("FaceCropJPEG failed: %v", err)
	}
	img, format, err := Decode(data)
	if err != nil {
		t.Fatalf("crop is not decodable: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
	if img.Bounds().Dx() != 360 {
		t.Errorf("expected 320px crop upscaled to 360, got %d", img.Bounds().Dx())
	}
}
