package facial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/flow"
	"lexion/cmd/internal/auth/session"
	"lexion/cmd/internal/camera"
	"lexion/cmd/security/fingerprint"

	"github.com/jonboulle/clockwork"
)

// SettleDelay lets the sensor settle before the still is captured. Fixed.
const SettleDelay = 500 * time.Millisecond

// Capture parameters for the frame sent to the matcher.
const (
	CaptureWidth   = 320
	CaptureHeight  = 240
	CaptureQuality = 70
)

// User-facing messages. None of them mention time or timeouts.
const (
	msgDeviceFallback = "The camera could not be started."
	msgMatchFailed    = "We could not verify your face. Please try again."
	msgNoCredential   = "Face verified, but the sign-in could not be completed. Please try again."
)

// Phase is the flow state.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRequestingCamera Phase = "requesting-camera"
	PhaseCapturing        Phase = "capturing"
	PhaseProcessing       Phase = "processing"
	PhaseSuccess          Phase = "success"
	PhaseNoMatch          Phase = "no-match"
	PhaseError            Phase = "error"
)

// MatchResult is the matcher's answer.
type MatchResult struct {
	Matched    bool
	Score      *float64
	Credential string
	Identity   *session.Identity
}

// Matcher compares a captured JPEG against enrolled faces.
type Matcher interface {
	MatchFace(ctx context.Context, image []byte) (MatchResult, error)
}

// State is a read-only view of the flow.
type State struct {
	Phase     Phase    `json:"phase"`
	Message   string   `json:"message,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	AttemptID string   `json:"attempt_id,omitempty"`
}

// Option configures a Flow.
type Option func(*Flow)

// WithClock replaces the real clock (tests).
func WithClock(c clockwork.Clock) Option {
	return func(f *Flow) { f.clock = c }
}

// WithMetrics records attempt outcomes.
func WithMetrics(m *flow.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

// WithAbortOnCancel makes Cancel and Close also abort an outstanding match call.
func WithAbortOnCancel(v bool) Option {
	return func(f *Flow) { f.abortOnCancel = v }
}

// WithCameraSize sets the requested stream size. Non-positive values keep 640x480.
func WithCameraSize(width, height int) Option {
	return func(f *Flow) {
		if width > 0 && height > 0 {
			f.width, f.height = width, height
		}
	}
}

// Flow is one facial sign-in instance.
type Flow struct {
	log           *slog.Logger
	dev           camera.Device
	matcher       Matcher
	sessions      flow.Establisher
	metrics       *flow.Metrics
	clock         clockwork.Clock
	abortOnCancel bool
	width, height int

	mu        sync.Mutex
	state     State
	gen       uint64
	busy      bool
	closed    bool
	handle    *camera.Handle
	stopSteps context.CancelFunc
	camFree   chan struct{} // closed once the attempt can no longer hold the camera
}

// New returns a flow in phase idle.
func New(log *slog.Logger, dev camera.Device, matcher Matcher, sessions flow.Establisher, opts ...Option) *Flow {
	if log == nil {
		log = slog.Default()
	}
	f := &Flow{
		log:      log,
		dev:      dev,
		matcher:  matcher,
		sessions: sessions,
		clock:    clockwork.NewRealClock(),
		width:    640,
		height:   480,
		state:    State{Phase: PhaseIdle},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// HoldsCamera reports whether the flow currently owns a camera handle.
func (f *Flow) HoldsCamera() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle != nil
}

// Busy reports whether an attempt is running, including a cancelled one whose
// match call has not returned yet.
func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// Start runs one attempt until a terminal phase or cancellation and returns
// the resulting state. A no-match returns an error matching autherr.ErrNoMatch.
//
// Start fails with ErrBusy while a previous attempt is still running, which
// includes a cancelled attempt whose match call has not returned yet.
func (f *Flow) Start(ctx context.Context) (State, error) {
	const op = "facial.Start"

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return State{Phase: PhaseIdle}, autherr.New(op, autherr.ErrCancelled, "flow closed")
	}
	if f.busy {
		st := f.state
		f.mu.Unlock()
		return st, autherr.New(op, autherr.ErrBusy, "attempt in progress")
	}
	f.gen++
	g := f.gen
	attempt := flow.NewAttempt(flow.MethodFacial, f.clock.Now())
	stepCtx, stopSteps := context.WithCancel(ctx)
	f.busy = true
	f.stopSteps = stopSteps
	f.camFree = make(chan struct{})
	f.state = State{Phase: PhaseRequestingCamera, AttemptID: attempt.ID}
	f.mu.Unlock()

	f.log.Info("facial.attempt.start", "attempt_id", attempt.ID)

	err := f.run(ctx, stepCtx, g, attempt.ID)

	f.mu.Lock()
	f.busy = false
	f.freeCameraLocked()
	if f.gen == g {
		f.stopSteps = nil
	}
	st := f.state
	f.mu.Unlock()
	stopSteps()

	f.metrics.Observe(flow.MethodFacial, flow.OutcomeOf(err), attempt.StartedAt)
	if err != nil {
		f.log.Info("facial.attempt.end", "attempt_id", attempt.ID, "outcome", flow.OutcomeOf(err), "err", err)
	} else {
		f.log.Info("facial.attempt.end", "attempt_id", attempt.ID, "outcome", flow.OutcomeSuccess)
	}
	return st, err
}

func (f *Flow) run(ctx, stepCtx context.Context, g uint64, attemptID string) error {
	const op = "facial.Start"

	// 1. requesting-camera
	h, err := camera.Acquire(stepCtx, f.dev, camera.Constraints{
		Facing: camera.FacingUser,
		Width:  f.width,
		Height: f.height,
	})
	if err != nil {
		if !f.current(g) {
			return f.cancelled(op)
		}
		f.log.Warn("facial.camera.fail", "attempt_id", attemptID, "err", err)
		f.finish(g, State{Phase: PhaseError, Message: autherr.UserMessage(err, msgDeviceFallback), AttemptID: attemptID})
		return err
	}
	defer func() { _ = h.Release() }()

	f.mu.Lock()
	if f.gen != g {
		f.mu.Unlock()
		return f.cancelled(op)
	}
	f.handle = h
	f.state.Phase = PhaseCapturing
	f.mu.Unlock()

	// 2. capturing
	select {
	case <-f.clock.After(SettleDelay):
	case <-stepCtx.Done():
		return f.cancelled(op)
	}

	frame, err := h.Frame(stepCtx)
	if err != nil {
		if !f.current(g) {
			return f.cancelled(op)
		}
		werr := autherr.Wrap(op, autherr.ErrDeviceAccess, err).WithUser(msgDeviceFallback)
		f.finish(g, State{Phase: PhaseError, Message: msgDeviceFallback, AttemptID: attemptID})
		return werr
	}
	jpg, err := camera.EncodeJPEG(frame, CaptureWidth, CaptureHeight, CaptureQuality)
	if err != nil {
		werr := autherr.Wrap(op, autherr.ErrDeviceAccess, err).WithUser(msgDeviceFallback)
		f.finish(g, State{Phase: PhaseError, Message: msgDeviceFallback, AttemptID: attemptID})
		return werr
	}

	f.mu.Lock()
	if f.gen != g {
		f.mu.Unlock()
		return f.cancelled(op)
	}
	f.state.Phase = PhaseProcessing
	f.mu.Unlock()

	// 3. processing: no timeout; only ctx (or Cancel with abort) ends the wait.
	matchCtx := ctx
	if f.abortOnCancel {
		matchCtx = stepCtx
	}
	res, err := f.matcher.MatchFace(matchCtx, jpg)

	// 4. response
	f.mu.Lock()
	if f.gen != g {
		f.mu.Unlock()
		f.log.Info("facial.match.dropped", "attempt_id", attemptID, "reason", "cancelled")
		return f.cancelled(op)
	}
	f.releaseLocked()

	switch {
	case err != nil:
		msg := msgMatchFailed
		if errors.Is(err, autherr.ErrRejected) {
			msg = autherr.UserMessage(err, msgMatchFailed)
		}
		f.state = State{Phase: PhaseError, Message: msg, AttemptID: attemptID}
		f.mu.Unlock()
		f.log.Warn("facial.match.fail", "attempt_id", attemptID, "err", err)
		return err

	case !res.Matched:
		f.state = State{Phase: PhaseNoMatch, Message: noMatchMessage(res.Score), Score: res.Score, AttemptID: attemptID}
		f.mu.Unlock()
		return autherr.New(op, autherr.ErrNoMatch, "face not recognized")

	case res.Credential == "" || res.Identity == nil:
		f.state = State{Phase: PhaseError, Message: msgNoCredential, AttemptID: attemptID}
		f.mu.Unlock()
		return autherr.New(op, autherr.ErrRejected, "match without credential")
	}

	// Commit point: success is terminal, so a later Cancel is a no-op.
	f.state = State{Phase: PhaseSuccess, Score: res.Score, AttemptID: attemptID}
	f.mu.Unlock()

	if err := f.sessions.Establish(ctx, res.Credential, *res.Identity); err != nil {
		if autherr.IsLocalValidation(err) {
			f.finish(g, State{Phase: PhaseError, Message: msgNoCredential, AttemptID: attemptID})
			return autherr.Wrap(op, autherr.ErrRejected, err)
		}
		f.log.Warn("facial.persist.fail", "attempt_id", attemptID, "credential_fp", fingerprint.Credential(res.Credential), "err", err)
	}
	return nil
}

// WaitCamera blocks until the current attempt, if any, has neither an open
// nor an opening camera stream. After Cancel this returns as soon as the
// device has answered the pending open, even while a match call is still
// outstanding.
func (f *Flow) WaitCamera(ctx context.Context) error {
	f.mu.Lock()
	ch := f.camFree
	f.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel abandons the current attempt: the camera is released immediately,
// the flow returns to idle and any later result of the attempt is discarded.
// It reports whether there was anything to cancel.
func (f *Flow) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state.Phase {
	case PhaseIdle, PhaseSuccess:
		return false
	}
	f.cancelLocked()
	f.state = State{Phase: PhaseIdle}
	f.log.Info("facial.cancel")
	return true
}

// Close tears the flow down. It always releases the camera; Start fails afterwards.
func (f *Flow) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.cancelLocked()
	if f.state.Phase != PhaseSuccess {
		f.state = State{Phase: PhaseIdle}
	}
	return nil
}

func (f *Flow) cancelLocked() {
	f.gen++
	f.releaseLocked()
	if f.stopSteps != nil {
		f.stopSteps()
		f.stopSteps = nil
	}
}

func (f *Flow) releaseLocked() {
	if f.handle == nil {
		return
	}
	if err := f.handle.Release(); err != nil {
		f.log.Warn("facial.camera.release.fail", "err", err)
	}
	f.handle = nil
	f.freeCameraLocked()
}

func (f *Flow) freeCameraLocked() {
	if f.camFree != nil {
		close(f.camFree)
		f.camFree = nil
	}
}

func (f *Flow) current(g uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen == g
}

// finish applies a terminal state if the attempt is still current.
func (f *Flow) finish(g uint64, st State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != g {
		return
	}
	f.releaseLocked()
	f.state = st
}

func (f *Flow) cancelled(op string) error {
	return autherr.New(op, autherr.ErrCancelled, "attempt cancelled")
}

func noMatchMessage(score *float64) string {
	if score == nil {
		return "Face not recognized."
	}
	return fmt.Sprintf("Face not recognized (similarity %.0f%%).", *score*100)
}
