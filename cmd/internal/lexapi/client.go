package lexapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lexion/cmd/internal/auth/autherr"
)

// DefaultBaseURL is the backend address used in local development.
const DefaultBaseURL = "http://127.0.0.1:8000"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root. Defaults to DefaultBaseURL.
	BaseURL string

	// HTTPClient is used for every request. It must not carry a Timeout;
	// the default is a client without one.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to the Lexion backend.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("lexapi: invalid base URL %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{baseURL: base, http: hc, log: log}, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// request is one outgoing call.
type request struct {
	op          string
	method      string
	path        string
	credential  string
	contentType string
	body        io.Reader
}

func jsonRequest(op, method, path, credential string, v any) (request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return request{}, fmt.Errorf("lexapi: encode %s body: %w", op, err)
	}
	return request{op: op, method: method, path: path, credential: credential,
		contentType: "application/json", body: bytes.NewReader(b)}, nil
}

func formRequest(op, method, path, credential string, form url.Values) request {
	return request{op: op, method: method, path: path, credential: credential,
		contentType: "application/x-www-form-urlencoded", body: strings.NewReader(form.Encode())}
}

// filePart is one file field of a multipart body.
type filePart struct {
	field    string
	filename string
	data     []byte
}

func multipartRequest(op, method, path, credential string, fields map[string]string, files ...filePart) (request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return request{}, fmt.Errorf("lexapi: %s field %s: %w", op, k, err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			return request{}, fmt.Errorf("lexapi: %s file %s: %w", op, f.field, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return request{}, fmt.Errorf("lexapi: %s file %s: %w", op, f.field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return request{}, fmt.Errorf("lexapi: %s multipart: %w", op, err)
	}
	return request{op: op, method: method, path: path, credential: credential,
		contentType: mw.FormDataContentType(), body: &buf}, nil
}

// do sends r and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, r request, out any) error {
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return fmt.Errorf("lexapi: build %s request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.credential != "" {
		req.Header.Set("Authorization", "Bearer "+r.credential)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("api.request.fail", "op", r.op, "method", r.method, "path", r.path, "err", err)
		return transportError(ctx, r.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, r.op, fmt.Errorf("read body: %w", err))
	}

	c.log.Debug("api.request",
		"op", r.op,
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"dur_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(r.op, resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		// Unreadable 2xx bodies count as server faults.
		return autherr.Wrap(r.op, autherr.ErrTransient, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errEmptyCredential is returned locally before any call that needs a bearer.
var errEmptyCredential = errors.New("lexapi: empty credential")
