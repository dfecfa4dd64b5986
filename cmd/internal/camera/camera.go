// Package camera models the camera as an exclusively owned resource.
//
// A Device opens Streams. Acquire wraps a Stream in a Handle whose Release is
// the single, idempotent release entry point used by every exit path of a
// flow. Exclusive wraps a Device so that only one Handle can be open at a time
// across flow instances.
package camera

import (
	"context"
	"errors"
	"image"
	"sync"

	"lexion/cmd/internal/auth/autherr"
)

// Facing selects the camera.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Constraints describes the requested stream.
type Constraints struct {
	Facing    Facing
	Width     int
	Height    int
	FrameRate int
}

// Device opens camera streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream yields frames until closed. Close must unblock a pending ReadFrame.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

var (
	// ErrPermissionDenied is returned when the user or OS refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrNoDevice is returned when no matching camera exists.
	ErrNoDevice = errors.New("no camera device")

	// ErrInUse is returned when another handle already owns the camera.
	ErrInUse = errors.New("camera in use")

	// ErrReleased is returned by Frame after Release.
	ErrReleased = errors.New("camera released")
)

// Handle is an exclusively owned stream.
type Handle struct {
	stream Stream

	once     sync.Once
	mu       sync.Mutex
	released bool
	err      error
}

// Acquire opens a stream on dev. Failures are classified as device access.
func Acquire(ctx context.Context, dev Device, c Constraints) (*Handle, error) {
	const op = "camera.Acquire"

	if dev == nil {
		return nil, autherr.New(op, autherr.ErrDeviceAccess, "no device configured").WithUser(userMessage(ErrNoDevice))
	}
	s, err := dev.Open(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, autherr.Wrap(op, autherr.ErrCancelled, err)
		}
		return nil, autherr.Wrap(op, autherr.ErrDeviceAccess, err).WithUser(userMessage(err))
	}
	return &Handle{stream: s}, nil
}

// Frame reads the next frame. It fails with ErrReleased after Release.
func (h *Handle) Frame(ctx context.Context) (image.Image, error) {
	if h.Released() {
		return nil, ErrReleased
	}
	img, err := h.stream.ReadFrame(ctx)
	if err != nil && h.Released() {
		return nil, ErrReleased
	}
	return img, err
}

// Release closes the stream. Safe to call any number of times from any goroutine.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()

		h.err = h.stream.Close()
	})
	return h.err
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access was denied. Allow camera access and try again."
	case errors.Is(err, ErrNoDevice):
		return "No camera was found on this device."
	case errors.Is(err, ErrInUse):
		return "The camera is being used by another sign-in method."
	default:
		return "The camera could not be started."
	}
}
