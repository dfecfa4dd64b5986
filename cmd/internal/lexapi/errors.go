package lexapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lexion/cmd/internal/auth/autherr"
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("lexapi: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("lexapi: HTTP %d: %s", e.StatusCode, e.Detail)
}

// StatusCode returns the HTTP status behind err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// errorBody covers both the framework's {"detail": ...} and the app's
// {"mensaje": ...} error shapes. detail may also be a validation list.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Mensaje string          `json:"mensaje"`
}

func userMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if len(eb.Detail) > 0 && eb.Detail[0] == '"' {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return strings.TrimSpace(eb.Mensaje)
}

func kindFor(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return autherr.ErrAuthorizationDenied
	case status >= 500:
		return autherr.ErrTransient
	default:
		return autherr.ErrRejected
	}
}

func statusError(op string, status int, body []byte) error {
	msg := userMessage(body)
	oe := autherr.Wrap(op, kindFor(status), &StatusError{StatusCode: status, Detail: msg})
	if msg != "" && status < 500 {
		oe = oe.WithUser(msg)
	}
	return oe
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return autherr.Wrap(op, autherr.ErrCancelled, err)
	}
	return autherr.Wrap(op, autherr.ErrTransient, err)
}
