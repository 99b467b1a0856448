// Package imagingtest generates small decodable images for tests.
package imagingtest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pattern(seed, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * seed), G: uint8(y + seed), B: uint8(seed * 37), A: 255})
		}
	}
	return img
}

// JPEG returns a 64x48 JPEG whose bytes differ for every seed.
func JPEG(t testing.TB, seed int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, pattern(seed, 64, 48), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG returns a 64x48 PNG whose bytes differ for every seed.
func PNG(t testing.TB, seed int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, pattern(seed, 64, 48)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
