// Package qrcode decodes QR codes from camera frames.
package qrcode

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode is returned when a frame holds no readable QR code.
var ErrNoCode = errors.New("no qr code in frame")

// Decoder reads QR codes. It is safe for concurrent use.
type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewDecoder returns a decoder that trades speed for recall.
func NewDecoder() *Decoder {
	return &Decoder{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Decode returns the text of the QR code in img, or ErrNoCode.
func (d *Decoder) Decode(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", ErrNoCode
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("qrcode: bitmap: %w", err)
	}

	res, err := zxqr.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		// Not found, checksum and format failures all mean "nothing usable in this frame".
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return res.GetText(), nil
}

// Encode renders text as a size x size QR code image.
func Encode(text string, size int) (image.Image, error) {
	if size <= 0 {
		size = 256
	}
	m, err := zxqr.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode: %w", err)
	}
	return m, nil
}
