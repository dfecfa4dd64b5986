// Package recovery implements the three-step password recovery flow:
//
//	email -> code -> password -> done
//
// Input that fails local checks (empty email, a code that is not exactly six
// digits, mismatched or too short passwords) never reaches the backend.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"lexion/cmd/internal/auth/autherr"
	pwpolicy "lexion/cmd/security/password"
)

// CodeLength is the number of digits in a recovery code.
const CodeLength = 6

const (
	msgMissingEmail  = "Enter the email address of your account."
	msgBadCode       = "Enter the 6-digit code we sent to your email."
	msgMismatch      = "The passwords do not match."
	msgTooShort      = "The password is too short."
	msgTooLong       = "The password is too long."
	msgWeak          = "Choose a less predictable password."
	msgRequestFailed = "Could not request a recovery code. Please try again."
	msgVerifyFailed  = "The verification code is incorrect."
	msgResetFailed   = "Could not reset the password. Please try again."
	msgResetDone     = "Password reset. You can sign in now."
)

// Step is the flow position.
type Step string

const (
	StepEmail    Step = "email"
	StepCode     Step = "code"
	StepPassword Step = "password"
	StepDone     Step = "done"
)

// Client is the remote side of recovery. *lexapi.Client satisfies it.
type Client interface {
	RequestRecovery(ctx context.Context, email string) (string, error)
	VerifyRecoveryCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) (string, error)
}

// State is a read-only view of the flow.
type State struct {
	Step    Step   `json:"step"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// Flow is one recovery session.
type Flow struct {
	log    *slog.Logger
	client Client
	policy pwpolicy.Config

	mu    sync.Mutex
	busy  bool
	state State
	code  string
}

// New returns a flow at StepEmail.
func New(log *slog.Logger, client Client, policy pwpolicy.Config) *Flow {
	if log == nil {
		log = slog.Default()
	}
	return &Flow{log: log, client: client, policy: policy, state: State{Step: StepEmail}}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// RequestCode sends a code to email and moves to StepCode. It may be called
// again from StepCode to resend.
func (f *Flow) RequestCode(ctx context.Context, email string) (State, error) {
	const op = "recovery.RequestCode"

	email = strings.TrimSpace(email)
	if email == "" {
		return f.fail(autherr.Local(op, msgMissingEmail))
	}
	if err := f.begin(op); err != nil {
		return f.State(), err
	}
	defer f.end()

	msg, err := f.client.RequestRecovery(ctx, email)
	if err != nil {
		f.log.Warn("recovery.request.fail", "err", err)
		return f.fail(withFallback(err, msgRequestFailed))
	}

	f.mu.Lock()
	f.state = State{Step: StepCode, Email: email, Message: msg}
	f.code = ""
	st := f.state
	f.mu.Unlock()
	f.log.Info("recovery.request.ok")
	return st, nil
}

// VerifyCode checks code with the backend and moves to StepPassword.
func (f *Flow) VerifyCode(ctx context.Context, code string) (State, error) {
	const op = "recovery.VerifyCode"

	code = strings.TrimSpace(code)
	if !validCode(code) {
		return f.fail(autherr.Local(op, msgBadCode))
	}
	email, err := f.emailAt(op, StepCode, StepPassword)
	if err != nil {
		return f.State(), err
	}
	if err := f.begin(op); err != nil {
		return f.State(), err
	}
	defer f.end()

	if err := f.client.VerifyRecoveryCode(ctx, email, code); err != nil {
		f.log.Info("recovery.verify.fail", "err", err)
		return f.fail(withFallback(err, msgVerifyFailed))
	}

	f.mu.Lock()
	f.state = State{Step: StepPassword, Email: email}
	f.code = code
	st := f.state
	f.mu.Unlock()
	return st, nil
}

// Reset sets the new password. newPassword and confirm must match and
// satisfy the password policy.
func (f *Flow) Reset(ctx context.Context, newPassword, confirm string) (State, error) {
	const op = "recovery.Reset"

	if err := f.policy.ValidatePair(newPassword, confirm); err != nil {
		return f.fail(autherr.Wrap(op, autherr.ErrLocalValidation, err).WithUser(policyMessage(err)))
	}
	email, err := f.emailAt(op, StepPassword)
	if err != nil {
		return f.State(), err
	}
	if err := f.begin(op); err != nil {
		return f.State(), err
	}
	defer f.end()

	f.mu.Lock()
	code := f.code
	f.mu.Unlock()

	msg, err := f.client.ResetPassword(ctx, email, code, newPassword)
	if err != nil {
		f.log.Warn("recovery.reset.fail", "err", err)
		return f.fail(withFallback(err, msgResetFailed))
	}
	if msg == "" {
		msg = msgResetDone
	}

	f.mu.Lock()
	f.state = State{Step: StepDone, Email: email, Message: msg}
	f.code = ""
	st := f.state
	f.mu.Unlock()
	f.log.Info("recovery.reset.ok")
	return st, nil
}

// Restart discards progress and returns to StepEmail.
func (f *Flow) Restart() {
	f.mu.Lock()
	f.state = State{Step: StepEmail}
	f.code = ""
	f.mu.Unlock()
}

func (f *Flow) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return autherr.New(op, autherr.ErrBusy, "request in progress")
	}
	f.busy = true
	return nil
}

func (f *Flow) end() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

func (f *Flow) emailAt(op string, steps ...Step) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range steps {
		if f.state.Step == s {
			return f.state.Email, nil
		}
	}
	return "", autherr.Newf(op, autherr.ErrLocalValidation, "not allowed at step %s", f.state.Step).
		WithUser("Start over by entering your email address.")
}

// fail keeps the current step and records the user-facing message.
func (f *Flow) fail(err error) (State, error) {
	f.mu.Lock()
	f.state.Message = autherr.UserMessage(err, msgRequestFailed)
	st := f.state
	f.mu.Unlock()
	return st, err
}

// withFallback keeps server messages for rejections and hides them otherwise.
func withFallback(err error, fallback string) error {
	var oe *autherr.OpError
	if errors.As(err, &oe) && !autherr.IsTransient(err) && autherr.UserMessage(err, "") != "" {
		return err
	}
	if oe != nil {
		return oe.WithUser(fallback)
	}
	return autherr.Wrap("recovery", autherr.ErrTransient, err).WithUser(fallback)
}

func validCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func policyMessage(err error) string {
	switch {
	case errors.Is(err, pwpolicy.ErrPasswordMismatch):
		return msgMismatch
	case errors.Is(err, pwpolicy.ErrPasswordTooShort):
		return msgTooShort
	case errors.Is(err, pwpolicy.ErrPasswordTooLong):
		return msgTooLong
	default:
		return msgWeak
	}
}
