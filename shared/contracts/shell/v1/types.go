// Package v1 defines the Lexion shell wire contract v1.
//
// Two websocket protocols share the envelope:
//   - lexion.session.v1: the shell pushes guard decisions to open views.
//   - lexion.camera.v1: a camera bridge streams frames to the client.
//
// This package is intentionally stable and dependency-light.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocols negotiated during the websocket handshake.
const (
	SubprotocolSession = "lexion.session.v1"
	SubprotocolCamera  = "lexion.camera.v1"
)

// Type constants (wire-stable).
const (
	// TypeGuard carries the current guard decision (shell -> view).
	TypeGuard = "guard"

	// TypeCameraOpen requests a stream with constraints (client -> bridge).
	TypeCameraOpen = "camera_open"
	// TypeCameraReady confirms the stream; binary frames follow (bridge -> client).
	TypeCameraReady = "camera_ready"

	// TypeError is a generic error envelope.
	TypeError = "error"
)

// Application close codes used by the camera bridge.
const (
	CloseCameraPermissionDenied = 4403
	CloseCameraNoDevice         = 4404
	CloseCameraBusy             = 4409
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeGuard, TypeCameraOpen, TypeCameraReady, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// New builds an envelope around payload.
func New(typ, id string, now time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: now.UTC(), Payload: raw}, nil
}

// ---- Payloads ----

// IdentityView is the display subset of an identity sent to views.
type IdentityView struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	HasAvatar   bool   `json:"has_avatar"`
}

// GuardPayload reports what an open protected view must do.
type GuardPayload struct {
	Decision string        `json:"decision"`
	Status   string        `json:"status"`
	Location string        `json:"location,omitempty"`
	Identity *IdentityView `json:"identity,omitempty"`
}

// CameraOpenPayload asks the bridge for a stream.
type CameraOpenPayload struct {
	Facing    string `json:"facing"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FrameRate int    `json:"frame_rate,omitempty"`
}

// CameraReadyPayload confirms the negotiated stream.
type CameraReadyPayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
