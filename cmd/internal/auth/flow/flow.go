// Package flow holds the plumbing shared by the credential acquisition flows:
// method names, attempt records, the session hand-off contract, metrics and
// tuning configuration.
package flow

import (
	"context"
	"time"

	"lexion/cmd/identity/ids"
	"lexion/cmd/internal/auth/session"
)

// Method names an acquisition mechanism.
type Method string

const (
	MethodPassword Method = "password"
	MethodFacial   Method = "facial"
	MethodQR       Method = "qr"
)

// Establisher receives a confirmed credential and identity.
// *session.Store satisfies it.
type Establisher interface {
	Establish(ctx context.Context, credential string, identity session.Identity) error
}

// Result is what a successful remote exchange hands back.
type Result struct {
	Credential string
	Identity   session.Identity
}

// Attempt describes one flow invocation. It is never persisted.
type Attempt struct {
	ID        string
	Method    Method
	Phase     string
	StartedAt time.Time
	Err       error
}

// NewAttempt starts an attempt record at now.
func NewAttempt(m Method, now time.Time) Attempt {
	return Attempt{
		ID:        ids.NewAttemptID(string(m), now),
		Method:    m,
		StartedAt: now,
	}
}

// Outcome labels for metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeNoMatch   = "no_match"
	OutcomeRejected  = "rejected"
	OutcomeLocal     = "local_validation"
	OutcomeDevice    = "device_access"
	OutcomeTransient = "transient"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)
