// Package camtest provides an in-memory camera.Device for tests.
package camtest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"lexion/cmd/internal/camera"
)

// Device serves Frames in order, looping. The zero value serves gray frames.
type Device struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error
	// Frames are served in order and loop. Empty means a 64x48 gray frame.
	Frames []image.Image
	// StallFirstOpen, when positive, makes the first Open block until ctx
	// ends and fail StallFirstOpen later, like a device that is slow to give
	// up a pending permission request. Later opens behave normally.
	StallFirstOpen time.Duration

	mu      sync.Mutex
	stalled bool
	opens   int
	closes  int
	open    int
	last    camera.Constraints
}

// Open implements camera.Device.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	d.mu.Lock()
	stall := d.StallFirstOpen > 0 && !d.stalled
	d.stalled = true
	d.mu.Unlock()
	if stall {
		<-ctx.Done()
		time.Sleep(d.StallFirstOpen)
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	d.open++
	d.last = c
	return &stream{dev: d, closed: make(chan struct{})}, nil
}

// Opens returns how many streams were opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// OpenStreams returns how many streams are still open.
func (d *Device) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// LastConstraints returns the constraints of the latest Open.
func (d *Device) LastConstraints() camera.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// SetFrames replaces the served frames.
func (d *Device) SetFrames(frames ...image.Image) {
	d.mu.Lock()
	d.Frames = frames
	d.mu.Unlock()
}

func (d *Device) frame(i int) image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Frames) == 0 {
		return Gray(64, 48)
	}
	return d.Frames[i%len(d.Frames)]
}

type stream struct {
	dev    *Device
	n      int
	once   sync.Once
	closed chan struct{}
}

func (s *stream) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-s.closed:
		return nil, errors.New("camtest: stream closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	img := s.dev.frame(s.n)
	s.n++
	return img, nil
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.dev.mu.Lock()
		s.dev.closes++
		s.dev.open--
		s.dev.mu.Unlock()
	})
	return nil
}

// Gray returns a uniform mid-gray frame.
func Gray(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return img
}

// Solid returns a uniform frame of color c.
func Solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
