package camera_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/camera"
	"lexion/cmd/internal/camera/camtest"
)

func TestAcquire_DeviceFailuresAreDeviceAccess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		msg  string
	}{
		{"permission", camera.ErrPermissionDenied, "Camera access was denied. Allow camera access and try again."},
		{"no_device", fmt.Errorf("open: %w", camera.ErrNoDevice), "No camera was found on this device."},
		{"other", errors.New("v4l2 ioctl failed"), "The camera could not be started."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := camera.Acquire(context.Background(), &camtest.Device{OpenErr: tc.err}, camera.Constraints{})
			if !autherr.IsDeviceAccess(err) {
				t.Fatalf("err = %v, want device access", err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause lost: %v", err)
			}
			if got := autherr.UserMessage(err, ""); got != tc.msg {
				t.Fatalf("user message = %q, want %q", got, tc.msg)
			}
		})
	}
}

func TestAcquire_NilDevice(t *testing.T) {
	t.Parallel()
	if _, err := camera.Acquire(context.Background(), nil, camera.Constraints{}); !autherr.IsDeviceAccess(err) {
		t.Fatalf("err = %v, want device access", err)
	}
}

func TestHandle_ReleaseIdempotent(t *testing.T) {
	t.Parallel()

	dev := &camtest.Device{}
	h, err := camera.Acquire(context.Background(), dev, camera.Constraints{Facing: camera.FacingUser})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := h.Frame(context.Background()); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Release()
		}()
	}
	wg.Wait()

	if dev.OpenStreams() != 0 {
		t.Fatalf("open streams = %d, want 0", dev.OpenStreams())
	}
	if _, err := h.Frame(context.Background()); !errors.Is(err, camera.ErrReleased) {
		t.Fatalf("Frame after Release err = %v, want ErrReleased", err)
	}
	if dev.LastConstraints().Facing != camera.FacingUser {
		t.Fatalf("constraints not forwarded")
	}
}

func TestExclusive_OneHandleAtATime(t *testing.T) {
	t.Parallel()

	ex := camera.NewExclusive(&camtest.Device{})
	ctx := context.Background()

	h1, err := camera.Acquire(ctx, ex, camera.Constraints{})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err = camera.Acquire(ctx, ex, camera.Constraints{})
	if !errors.Is(err, camera.ErrInUse) || !autherr.IsDeviceAccess(err) {
		t.Fatalf("second Acquire err = %v, want ErrInUse device access", err)
	}

	_ = h1.Release()
	_ = h1.Release()
	if ex.InUse() {
		t.Fatalf("still in use after release")
	}

	h2, err := camera.Acquire(ctx, ex, camera.Constraints{})
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = h2.Release()
}

func TestExclusive_OpenFailureFrees(t *testing.T) {
	t.Parallel()

	ex := camera.NewExclusive(&camtest.Device{OpenErr: camera.ErrNoDevice})
	if _, err := ex.Open(context.Background(), camera.Constraints{}); !errors.Is(err, camera.ErrNoDevice) {
		t.Fatalf("err = %v", err)
	}
	if ex.InUse() {
		t.Fatalf("failed open left device held")
	}
}

func TestEncodeJPEG_Scales(t *testing.T) {
	t.Parallel()

	src := camtest.Solid(640, 480, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	b, err := camera.EncodeJPEG(src, 320, 240, 70)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("size = %dx%d, want 320x240", cfg.Width, cfg.Height)
	}
}

func TestEncodeJPEG_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := camera.EncodeJPEG(nil, 1, 1, 70); err == nil {
		t.Fatalf("expected error for nil frame")
	}
}
