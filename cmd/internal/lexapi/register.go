package lexapi

import (
	"context"
	"net/http"
	"strings"

	"lexion/cmd/internal/auth/autherr"
)

// Registration is a new account.
type Registration struct {
	Username string
	Password string
	Email    string
	FullName string
	Phone    string
}

func (r Registration) fields() map[string]string {
	return map[string]string{
		"usuario":         r.Username,
		"password":        r.Password,
		"email":           r.Email,
		"nombre_completo": r.FullName,
		"telefono":        r.Phone,
	}
}

// Enrollment is the backend's answer to a registration.
type Enrollment struct {
	UserID int64
	// QRURL points at the sign-in QR issued for the account, when any.
	QRURL string
	// Face is the segmented face the backend stored, when any.
	Face []byte
}

type enrollWire struct {
	UserID    int64  `json:"usuario_id"`
	QRURL     string `json:"qr_url"`
	Segmented string `json:"rostro_segmentado_b64"`
}

func (w enrollWire) enrollment() Enrollment {
	return Enrollment{UserID: w.UserID, QRURL: strings.TrimSpace(w.QRURL), Face: decodeImage(w.Segmented)}
}

// Register creates an account without a face.
func (c *Client) Register(ctx context.Context, r Registration) (Enrollment, error) {
	req, err := jsonRequest("lexapi.Register", http.MethodPost, "/register", "", r.fields())
	if err != nil {
		return Enrollment{}, err
	}
	var w enrollWire
	if err := c.do(ctx, req, &w); err != nil {
		return Enrollment{}, err
	}
	return w.enrollment(), nil
}

// RegisterFacial creates an account and enrolls face (a JPEG) for facial
// sign-in.
func (c *Client) RegisterFacial(ctx context.Context, r Registration, face []byte) (Enrollment, error) {
	const op = "lexapi.RegisterFacial"

	if len(face) == 0 {
		return Enrollment{}, autherr.New(op, autherr.ErrLocalValidation, "empty face image")
	}
	req, err := multipartRequest(op, http.MethodPost, "/register-facial/", "", r.fields(),
		filePart{field: "rostro", filename: "rostro.jpg", data: face})
	if err != nil {
		return Enrollment{}, err
	}
	var w enrollWire
	if err := c.do(ctx, req, &w); err != nil {
		return Enrollment{}, err
	}
	return w.enrollment(), nil
}
