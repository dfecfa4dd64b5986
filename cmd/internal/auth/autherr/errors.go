// Package autherr defines the error taxonomy shared by the session store, the
// acquisition flows and the API client.
//
// Every failure that reaches a flow is classified into one kind so the flow can
// decide where to return to (idle, error-with-retry) and which message is safe
// to show. Technical detail stays in Error() and in logs.
package autherr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLocalValidation is returned when input is rejected before any remote call.
	ErrLocalValidation = errors.New("local validation failed")

	// ErrDeviceAccess is returned when the camera cannot be acquired (permission, hardware).
	ErrDeviceAccess = errors.New("device access failed")

	// ErrAuthorizationDenied is returned when the remote side rejects the credential.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrTransient is returned for network failures and 5xx responses.
	ErrTransient = errors.New("transient failure")

	// ErrNoMatch is a semantic rejection (face not recognized), not a technical error.
	ErrNoMatch = errors.New("no match")

	// ErrRejected is returned for non-authorization 4xx responses.
	ErrRejected = errors.New("request rejected")

	// ErrBusy is returned when a flow instance already has an attempt in progress.
	ErrBusy = errors.New("attempt already in progress")

	// ErrCancelled is returned when an attempt was cancelled by the user or torn down.
	ErrCancelled = errors.New("attempt cancelled")
)

// OpError is a typed operation error with a stable Op + Kind contract.
//
// Msg is diagnostic context for logs. UserMsg, when set, is a short message that
// is safe to show verbatim to the end user. Err is the underlying cause, if any.
type OpError struct {
	Op      string
	Kind    error
	Msg     string
	UserMsg string
	Err     error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New builds an OpError without a cause.
func New(op string, kind error, msg string) *OpError {
	return &OpError{Op: op, Kind: kind, Msg: msg}
}

// Newf builds an OpError with a formatted diagnostic message.
func Newf(op string, kind error, format string, args ...any) *OpError {
	return &OpError{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an OpError around cause.
func Wrap(op string, kind error, cause error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: cause}
}

// WithUser returns a copy of e carrying a user-safe message.
func (e *OpError) WithUser(msg string) *OpError {
	cp := *e
	cp.UserMsg = strings.TrimSpace(msg)
	return &cp
}

// Local is shorthand for a local-validation failure whose message is also user-safe.
func Local(op, userMsg string) *OpError {
	return &OpError{Op: op, Kind: ErrLocalValidation, Msg: userMsg, UserMsg: userMsg}
}

// UserMessage returns the first user-safe message found in err's chain, or fallback.
func UserMessage(err error, fallback string) string {
	for _, oe := range opErrors(err) {
		if oe.UserMsg != "" {
			return oe.UserMsg
		}
	}
	return fallback
}

// opErrors walks the error tree depth-first and collects every *OpError.
func opErrors(err error) []*OpError {
	var out []*OpError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if oe, ok := e.(*OpError); ok {
			out = append(out, oe)
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

// IsLocalValidation reports whether err represents ErrLocalValidation.
func IsLocalValidation(err error) bool { return errors.Is(err, ErrLocalValidation) }

// IsDeviceAccess reports whether err represents ErrDeviceAccess.
func IsDeviceAccess(err error) bool { return errors.Is(err, ErrDeviceAccess) }

// IsAuthorizationDenied reports whether err represents ErrAuthorizationDenied.
func IsAuthorizationDenied(err error) bool { return errors.Is(err, ErrAuthorizationDenied) }

// IsTransient reports whether err represents ErrTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsNoMatch reports whether err represents ErrNoMatch.
func IsNoMatch(err error) bool { return errors.Is(err, ErrNoMatch) }
