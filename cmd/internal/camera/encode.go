package camera

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// EncodeJPEG scales img to width x height and encodes it as JPEG.
// A zero width or height keeps the source size.
func EncodeJPEG(img image.Image, width, height, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("camera: nil frame")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("camera: empty frame")
	}
	if width <= 0 || height <= 0 {
		width, height = b.Dx(), b.Dy()
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
