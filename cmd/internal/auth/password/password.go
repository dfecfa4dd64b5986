// Package password implements the password acquisition flow:
//
//	idle -> submitting -> success
//	            \-> idle (with message)
//
// Empty fields and a missing anti-automation token are rejected locally and
// never reach the credential exchange.
package password

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/flow"
	"lexion/cmd/security/fingerprint"
)

// DefaultFailureMessage is shown when the exchange gives no user-safe message.
const DefaultFailureMessage = "Sign-in failed. Check your email and password and try again."

const (
	msgMissingFields  = "Enter your email and password."
	msgMissingCaptcha = "Complete the anti-robot check before signing in."
)

// Phase is the flow state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseSuccess    Phase = "success"
)

// Credentials is one sign-in form submission.
type Credentials struct {
	Identifier   string
	Secret       string
	CaptchaToken string
}

// Exchanger trades credentials for a session credential and identity.
type Exchanger interface {
	Login(ctx context.Context, c Credentials) (flow.Result, error)
}

// State is a read-only view of the flow.
type State struct {
	Phase     Phase  `json:"phase"`
	Message   string `json:"message,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
}

// Flow is one password form instance.
type Flow struct {
	log      *slog.Logger
	exch     Exchanger
	sessions flow.Establisher
	metrics  *flow.Metrics
	now      func() time.Time

	mu    sync.Mutex
	state State
	busy  bool
}

// New returns a flow in phase idle. metrics may be nil.
func New(log *slog.Logger, exch Exchanger, sessions flow.Establisher, metrics *flow.Metrics) *Flow {
	if log == nil {
		log = slog.Default()
	}
	return &Flow{
		log:      log,
		exch:     exch,
		sessions: sessions,
		metrics:  metrics,
		now:      time.Now,
		state:    State{Phase: PhaseIdle},
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Submit validates c locally, exchanges it and establishes the session.
//
// Failures leave the flow in idle with a message; the caller may resubmit
// immediately. A second Submit while one is outstanding returns ErrBusy.
func (f *Flow) Submit(ctx context.Context, c Credentials) error {
	const op = "password.Submit"

	c.Identifier = strings.TrimSpace(c.Identifier)
	c.CaptchaToken = strings.TrimSpace(c.CaptchaToken)

	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return autherr.New(op, autherr.ErrBusy, "submission in progress")
	}

	if err := validate(op, c); err != nil {
		f.state = State{Phase: PhaseIdle, Message: autherr.UserMessage(err, DefaultFailureMessage)}
		f.mu.Unlock()
		f.metrics.Observe(flow.MethodPassword, flow.OutcomeLocal, time.Time{})
		return err
	}

	attempt := flow.NewAttempt(flow.MethodPassword, f.now())
	f.busy = true
	f.state = State{Phase: PhaseSubmitting, AttemptID: attempt.ID}
	f.mu.Unlock()

	f.log.Info("password.submit.start", "attempt_id", attempt.ID)

	err := f.exchange(ctx, c)

	f.mu.Lock()
	f.busy = false
	if err != nil {
		f.state = State{Phase: PhaseIdle, Message: autherr.UserMessage(err, DefaultFailureMessage), AttemptID: attempt.ID}
	} else {
		f.state = State{Phase: PhaseSuccess, AttemptID: attempt.ID}
	}
	f.mu.Unlock()

	f.metrics.Observe(flow.MethodPassword, flow.OutcomeOf(err), attempt.StartedAt)
	if err != nil {
		f.log.Info("password.submit.fail", "attempt_id", attempt.ID, "outcome", flow.OutcomeOf(err), "err", err)
		return err
	}
	f.log.Info("password.submit.ok", "attempt_id", attempt.ID)
	return nil
}

func (f *Flow) exchange(ctx context.Context, c Credentials) error {
	res, err := f.exch.Login(ctx, c)
	if err != nil {
		return err
	}

	if err := f.sessions.Establish(ctx, res.Credential, res.Identity); err != nil {
		if autherr.IsLocalValidation(err) {
			// The exchange answered without a usable credential/identity pair.
			return autherr.Wrap("password.Submit", autherr.ErrRejected, err)
		}
		// Persistence failed but the in-memory session is established.
		f.log.Warn("password.persist.fail", "credential_fp", fingerprint.Credential(res.Credential), "err", err)
	}
	return nil
}

func validate(op string, c Credentials) error {
	if c.Identifier == "" || strings.TrimSpace(c.Secret) == "" {
		return autherr.Local(op, msgMissingFields)
	}
	if c.CaptchaToken == "" {
		return autherr.Local(op, msgMissingCaptcha)
	}
	return nil
}
