package qrcode

import (
	"errors"
	"image"
	"testing"
)

func TestDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	payloads := []string{
		"482913",
		`{"usuario_id":1,"token":"t","timestamp":"2026-01-01T00:00:00Z","expira":"2026-01-01T00:05:00Z","tipo":"login"}`,
	}
	d := NewDecoder()

	for _, want := range payloads {
		img, err := Encode(want, 300)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := d.Decode(img)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != want {
			t.Fatalf("Decode = %q, want %q", got, want)
		}
	}
}

func TestDecode_NoCode(t *testing.T) {
	t.Parallel()

	blank := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}

	d := NewDecoder()
	if _, err := d.Decode(blank); !errors.Is(err, ErrNoCode) {
		t.Fatalf("blank frame err = %v, want ErrNoCode", err)
	}
	if _, err := d.Decode(nil); !errors.Is(err, ErrNoCode) {
		t.Fatalf("nil frame err = %v, want ErrNoCode", err)
	}
}
