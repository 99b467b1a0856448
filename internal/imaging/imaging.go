// Package imaging decodes inbox images and produces the face crops and
// thumbnails stored alongside gallery images and recognition events.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"golang.org/x/image/draw"
)

// Decode decodes a JPEG or PNG image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %v", faceerr.ErrInvalidInput, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: empty image", faceerr.ErrInvalidInput)
	}
	return img, format, nil
}

// CropFace cuts the face box out of img with padding on every side, clipped
// to the image. Crops smaller than minSize on either edge are upscaled so
// their longest edge equals minSize.
func CropFace(img image.Image, face image.Rectangle, padding, minSize int) image.Image {
	bounds := img.Bounds()
	r := image.Rect(
		face.Min.X-padding, face.Min.Y-padding,
		face.Max.X+padding, face.Max.Y+padding,
	).Intersect(bounds)
	if r.Empty() {
		r = bounds
	}

	w, h := r.Dx(), r.Dy()
	dstW, dstH := w, h
	if w < minSize || h < minSize {
		scale := float64(minSize) / float64(max(w, h))
		if scale > 1 {
			dstW = int(float64(w) * scale)
			dstH = int(float64(h) * scale)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	if dstW == w && dstH == h {
		draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, r, draw.Src, nil)
	return dst
}

// Thumbnail scales img down so its longest edge is at most maxSize.
func Thumbnail(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}
	var dstW, dstH int
	if w >= h {
		dstW = maxSize
		dstH = max(1, h*maxSize/w)
	} else {
		dstH = maxSize
		dstW = max(1, w*maxSize/h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img with the service-wide quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FaceCropJPEG decodes data, crops the face with the standard padding and
// minimum size, and encodes the crop.
func FaceCropJPEG(data []byte, face image.Rectangle) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(CropFace(img, face, constants.FaceCropPadding, constants.FaceCropMinSize))
}

// ThumbnailJPEG decodes data and encodes a history thumbnail.
func ThumbnailJPEG(data []byte) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Thumbnail(img, constants.HistoryThumbSize))
}
