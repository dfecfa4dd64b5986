package lexapi

import (
	"context"
	"net/http"
	"net/url"

	"lexion/cmd/internal/auth/autherr"
)

const msgCodeRejected = "The verification code is incorrect."

// RequestRecovery asks the backend to mail a recovery code to email and
// returns its confirmation message.
func (c *Client) RequestRecovery(ctx context.Context, email string) (string, error) {
	var w messageWire
	err := c.do(ctx, formRequest("lexapi.RequestRecovery", http.MethodPost, "/usuarios/forgot-password", "",
		url.Values{"email": {email}}), &w)
	return w.Mensaje, err
}

// VerifyRecoveryCode checks a recovery code without consuming it.
func (c *Client) VerifyRecoveryCode(ctx context.Context, email, code string) error {
	const op = "lexapi.VerifyRecoveryCode"
	var w verifyWire
	if err := c.do(ctx, formRequest(op, http.MethodPost, "/usuarios/verify-token", "",
		url.Values{"email": {email}, "token": {code}}), &w); err != nil {
		return err
	}
	if !w.OK {
		msg := w.Detail
		if msg == "" {
			msg = msgCodeRejected
		}
		return autherr.New(op, autherr.ErrRejected, "code not accepted").WithUser(msg)
	}
	return nil
}

// ResetPassword sets a new password using a verified recovery code.
func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	var w messageWire
	err := c.do(ctx, formRequest("lexapi.ResetPassword", http.MethodPost, "/usuarios/reset-password", "",
		url.Values{"email": {email}, "token": {code}, "new_password": {newPassword}}), &w)
	return w.Mensaje, err
}

// UpdateProfile replaces the editable profile fields.
func (c *Client) UpdateProfile(ctx context.Context, credential string, u ProfileUpdate) error {
	req, err := multipartRequest("lexapi.UpdateProfile", http.MethodPut, "/usuarios/me", credential, map[string]string{
		"nombre_completo": u.FullName,
		"telefono":        u.Phone,
		"email":           u.Email,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// ChangePassword changes the password of the signed-in account.
func (c *Client) ChangePassword(ctx context.Context, credential, oldPassword, newPassword string) error {
	req, err := multipartRequest("lexapi.ChangePassword", http.MethodPut, "/usuarios/me/password", credential, map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	})
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// UploadAvatar replaces the profile photo and returns the segmented face the
// backend stored, if any.
func (c *Client) UploadAvatar(ctx context.Context, credential string, jpeg []byte) ([]byte, error) {
	req, err := multipartRequest("lexapi.UploadAvatar", http.MethodPut, "/usuarios/me/foto", credential, nil,
		filePart{field: "foto_perfil", filename: "rostro.jpg", data: jpeg})
	if err != nil {
		return nil, err
	}
	var w struct {
		Segmented string `json:"rostro_segmentado_b64"`
	}
	if err := c.do(ctx, req, &w); err != nil {
		return nil, err
	}
	return decodeImage(w.Segmented), nil
}
