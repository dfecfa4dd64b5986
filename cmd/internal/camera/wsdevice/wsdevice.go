// Package wsdevice implements camera.Device over a websocket camera bridge.
//
// Protocol (lexion.camera.v1): the client sends a camera_open envelope, the
// bridge answers camera_ready and then streams binary JPEG or PNG frames.
// The bridge refuses with close code 4403 (permission denied), 4404 (no
// device) or 4409 (busy).
package wsdevice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"lexion/cmd/identity/ids"
	"lexion/cmd/internal/camera"
	v1 "lexion/shared/contracts/shell/v1"

	"github.com/coder/websocket"
)

const maxFrameBytes = 8 << 20 // 8 MiB

// ErrProtocol is returned when the bridge violates the camera protocol.
var ErrProtocol = errors.New("camera bridge protocol error")

// Device dials the bridge once per Open.
type Device struct {
	url string
	log *slog.Logger
}

// New validates rawURL (ws or wss).
func New(rawURL string, log *slog.Logger) (*Device, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("camera url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("camera url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("camera url: missing host")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Device{url: u.String(), log: log}, nil
}

// Open implements camera.Device.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	conn, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		Subprotocols: []string{v1.SubprotocolCamera},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: dial bridge: %v", camera.ErrNoDevice, err)
	}

	if sp := conn.Subprotocol(); sp != v1.SubprotocolCamera {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("%w: subprotocol %q", ErrProtocol, sp)
	}
	conn.SetReadLimit(maxFrameBytes)

	env, err := v1.New(v1.TypeCameraOpen, ids.NewAttemptID("cam", time.Now()), time.Now(), v1.CameraOpenPayload{
		Facing:    string(c.Facing),
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
	})
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	b, _ := json.Marshal(env)
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		_ = conn.CloseNow()
		return nil, mapErr(err)
	}

	ready, err := awaitReady(ctx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}

	d.log.Debug("camera.ws.open", "facing", c.Facing, "width", ready.Width, "height", ready.Height, "format", ready.Format)
	return &stream{conn: conn}, nil
}

func awaitReady(ctx context.Context, conn *websocket.Conn) (v1.CameraReadyPayload, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.CameraReadyPayload{}, mapErr(err)
	}
	if mt != websocket.MessageText {
		return v1.CameraReadyPayload{}, fmt.Errorf("%w: frame before ready", ErrProtocol)
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.CameraReadyPayload{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := env.Validate(); err != nil {
		return v1.CameraReadyPayload{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	switch env.Type {
	case v1.TypeCameraReady:
		var p v1.CameraReadyPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return v1.CameraReadyPayload{}, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return p, nil
	case v1.TypeError:
		return v1.CameraReadyPayload{}, bridgeError(env)
	default:
		return v1.CameraReadyPayload{}, fmt.Errorf("%w: unexpected %q", ErrProtocol, env.Type)
	}
}

type stream struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *stream) ReadFrame(ctx context.Context) (image.Image, error) {
	for {
		mt, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, mapErr(err)
		}

		if mt == websocket.MessageText {
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err == nil && env.Type == v1.TypeError {
				return nil, bridgeError(env)
			}
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		return img, nil
	}
}

func (s *stream) Close() error {
	s.once.Do(func() { _ = s.conn.CloseNow() })
	return nil
}

func bridgeError(env v1.Envelope) error {
	var p v1.ErrorPayload
	_ = json.Unmarshal(env.Payload, &p)
	switch p.Code {
	case "permission_denied":
		return fmt.Errorf("%w: %s", camera.ErrPermissionDenied, p.Message)
	case "no_device":
		return fmt.Errorf("%w: %s", camera.ErrNoDevice, p.Message)
	case "busy":
		return fmt.Errorf("%w: %s", camera.ErrInUse, p.Message)
	default:
		return fmt.Errorf("%w: %s: %s", ErrProtocol, p.Code, p.Message)
	}
}

func mapErr(err error) error {
	switch websocket.CloseStatus(err) {
	case v1.CloseCameraPermissionDenied, websocket.StatusPolicyViolation:
		return fmt.Errorf("%w: %v", camera.ErrPermissionDenied, err)
	case v1.CloseCameraNoDevice:
		return fmt.Errorf("%w: %v", camera.ErrNoDevice, err)
	case v1.CloseCameraBusy:
		return fmt.Errorf("%w: %v", camera.ErrInUse, err)
	}
	return err
}
