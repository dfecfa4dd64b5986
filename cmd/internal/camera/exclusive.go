package camera

import (
	"context"
	"sync"
)

// Exclusive allows at most one open stream on the wrapped device.
type Exclusive struct {
	dev Device

	mu   sync.Mutex
	held bool
}

// NewExclusive wraps dev.
func NewExclusive(dev Device) *Exclusive {
	return &Exclusive{dev: dev}
}

// Open fails with ErrInUse while another stream is open.
func (e *Exclusive) Open(ctx context.Context, c Constraints) (Stream, error) {
	e.mu.Lock()
	if e.held {
		e.mu.Unlock()
		return nil, ErrInUse
	}
	e.held = true
	e.mu.Unlock()

	s, err := e.dev.Open(ctx, c)
	if err != nil {
		e.free()
		return nil, err
	}
	return &exclusiveStream{Stream: s, free: e.free}, nil
}

// InUse reports whether a stream is currently open.
func (e *Exclusive) InUse() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

func (e *Exclusive) free() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type exclusiveStream struct {
	Stream
	once sync.Once
	free func()
}

func (s *exclusiveStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(s.free)
	return err
}
