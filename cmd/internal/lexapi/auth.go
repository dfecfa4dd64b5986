package lexapi

import (
	"context"
	"net/http"
	"strings"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/facial"
	"lexion/cmd/internal/auth/flow"
	"lexion/cmd/internal/auth/password"
	"lexion/cmd/internal/auth/session"
)

// FetchIdentity implements session.IdentityFetcher.
func (c *Client) FetchIdentity(ctx context.Context, credential string) (session.Identity, error) {
	p, err := c.Profile(ctx, credential)
	if err != nil {
		return session.Identity{}, err
	}
	return p.Identity(), nil
}

// Profile returns the full account behind credential.
func (c *Client) Profile(ctx context.Context, credential string) (Profile, error) {
	const op = "lexapi.Profile"
	if strings.TrimSpace(credential) == "" {
		return Profile{}, autherr.Wrap(op, autherr.ErrAuthorizationDenied, errEmptyCredential)
	}
	var p Profile
	err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/usuarios/me", credential: credential}, &p)
	return p, err
}

// Login implements password.Exchanger.
func (c *Client) Login(ctx context.Context, cred password.Credentials) (flow.Result, error) {
	const op = "lexapi.Login"
	req, err := jsonRequest(op, http.MethodPost, "/auth/login", "", map[string]string{
		"email":           cred.Identifier,
		"password":        cred.Secret,
		"recaptcha_token": cred.CaptchaToken,
	})
	if err != nil {
		return flow.Result{}, err
	}
	var w loginWire
	if err := c.do(ctx, req, &w); err != nil {
		return flow.Result{}, err
	}
	if w.AccessToken == "" {
		return flow.Result{}, autherr.New(op, autherr.ErrTransient, "response without access_token")
	}
	return flow.Result{
		Credential: w.AccessToken,
		Identity:   session.Identity{ID: w.UserID, DisplayName: w.FullName, Email: w.Email},
	}, nil
}

// MatchFace implements facial.Matcher.
func (c *Client) MatchFace(ctx context.Context, jpeg []byte) (facial.MatchResult, error) {
	const op = "lexapi.MatchFace"
	req, err := multipartRequest(op, http.MethodPost, "/rostro/login", "", nil,
		filePart{field: "file", filename: "rostro.jpg", data: jpeg})
	if err != nil {
		return facial.MatchResult{}, err
	}
	var w faceWire
	if err := c.do(ctx, req, &w); err != nil {
		return facial.MatchResult{}, err
	}
	res := facial.MatchResult{Matched: w.Matched, Score: w.Score}
	if w.Matched {
		res.Credential = w.AccessToken
		if w.UserID != 0 {
			res.Identity = &session.Identity{ID: w.UserID, DisplayName: w.Name, Email: w.Email}
		}
	}
	return res, nil
}

// ExchangeQR implements qrscan.Exchanger.
func (c *Client) ExchangeQR(ctx context.Context, raw string) (flow.Result, error) {
	const op = "lexapi.ExchangeQR"
	req, err := jsonRequest(op, http.MethodPost, "/auth/qr-login", "", map[string]string{"qr_data": raw})
	if err != nil {
		return flow.Result{}, err
	}
	var w qrWire
	if err := c.do(ctx, req, &w); err != nil {
		return flow.Result{}, err
	}
	if w.AccessToken == "" {
		return flow.Result{}, autherr.New(op, autherr.ErrTransient, "response without access_token")
	}
	return flow.Result{Credential: w.AccessToken, Identity: w.User.Identity()}, nil
}
