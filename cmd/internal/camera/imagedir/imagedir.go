// Package imagedir implements camera.Device by replaying image files.
//
// Files ending in .jpg, .jpeg or .png are served in lexical order and loop
// forever. It backs headless runs and demos where no camera bridge exists.
package imagedir

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"lexion/cmd/internal/camera"
)

// Device reads frames from dir.
type Device struct {
	dir string
}

// New returns a device for dir. The directory is scanned on every Open.
func New(dir string) (*Device, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("image dir is required")
	}
	return &Device{dir: filepath.Clean(dir)}, nil
}

// Open implements camera.Device. An empty or missing directory is ErrNoDevice.
func (d *Device) Open(ctx context.Context, _ camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", camera.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", camera.ErrNoDevice, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(d.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", camera.ErrNoDevice, d.dir)
	}
	sort.Strings(files)

	return &stream{files: files}, nil
}

type stream struct {
	mu     sync.Mutex
	files  []string
	next   int
	closed bool
}

func (s *stream) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, camera.ErrReleased
	}
	path := s.files[s.next%len(s.files)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
