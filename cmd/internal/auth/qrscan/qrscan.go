package qrscan

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/flow"
	"lexion/cmd/internal/camera"
	"lexion/cmd/internal/qrcode"
	"lexion/cmd/security/fingerprint"

	"github.com/jonboulle/clockwork"
)

// Defaults for the scan loop.
const (
	DefaultFrameInterval = 200 * time.Millisecond
	DefaultRetryDelay    = 5 * time.Second
)

const (
	msgScanning       = "Point the camera at the QR code on your credential."
	msgValidating     = "QR code read. Signing you in..."
	msgExchangeFailed = "The QR code could not be verified. Please try again."
	msgDeviceFallback = "The camera could not be started."
)

// Phase is the flow state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseValidating Phase = "validating"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

// Exchanger trades a validated raw payload for a session credential and identity.
type Exchanger interface {
	ExchangeQR(ctx context.Context, raw string) (flow.Result, error)
}

// Decoder extracts QR text from a frame. It returns qrcode.ErrNoCode when the
// frame holds nothing readable. *qrcode.Decoder satisfies it.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// State is a read-only view of the flow.
type State struct {
	Phase     Phase  `json:"phase"`
	Message   string `json:"message,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
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

// WithFrameInterval sets the pause between decoded frames.
func WithFrameInterval(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.frameInterval = d
		}
	}
}

// WithRetryDelay sets how long an error stays visible before scanning resumes.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.retryDelay = d
		}
	}
}

// WithCameraSize sets the requested stream size. Non-positive values keep 640x480.
func WithCameraSize(width, height int) Option {
	return func(f *Flow) {
		if width > 0 && height > 0 {
			f.width, f.height = width, height
		}
	}
}

// Flow is one QR scanner instance.
type Flow struct {
	log           *slog.Logger
	dev           camera.Device
	dec           Decoder
	exch          Exchanger
	sessions      flow.Establisher
	metrics       *flow.Metrics
	clock         clockwork.Clock
	frameInterval time.Duration
	retryDelay    time.Duration
	width, height int

	mu         sync.Mutex
	state      State
	running    bool
	stop       context.CancelFunc
	handle     *camera.Handle
	lastReject string
}

// New returns a flow in phase idle.
func New(log *slog.Logger, dev camera.Device, dec Decoder, exch Exchanger, sessions flow.Establisher, opts ...Option) *Flow {
	if log == nil {
		log = slog.Default()
	}
	if dec == nil {
		dec = qrcode.NewDecoder()
	}
	f := &Flow{
		log:           log,
		dev:           dev,
		dec:           dec,
		exch:          exch,
		sessions:      sessions,
		clock:         clockwork.NewRealClock(),
		frameInterval: DefaultFrameInterval,
		retryDelay:    DefaultRetryDelay,
		width:         640,
		height:        480,
		state:         State{Phase: PhaseIdle},
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

// Running reports whether Run is active.
func (f *Flow) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Run scans until a code is exchanged successfully, the camera fails, ctx is
// done or Stop is called. Local validation and exchange failures show an
// error for the retry delay and then scanning resumes.
func (f *Flow) Run(ctx context.Context) error {
	const op = "qrscan.Run"

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return autherr.New(op, autherr.ErrBusy, "scanner already running")
	}
	runCtx, stop := context.WithCancel(ctx)
	f.running = true
	f.stop = stop
	f.lastReject = ""
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running = false
		f.stop = nil
		f.releaseLocked()
		keep := f.state.Phase == PhaseSuccess || (f.state.Phase == PhaseError && runCtx.Err() == nil)
		if !keep {
			f.state = State{Phase: PhaseIdle}
		}
		f.mu.Unlock()
		stop()
	}()

	f.log.Info("qr.run.start")
	for {
		raw, err := f.scan(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return autherr.Wrap(op, autherr.ErrCancelled, runCtx.Err())
			}
			f.log.Warn("qr.camera.fail", "err", err)
			f.setState(runCtx, State{Phase: PhaseError, Message: autherr.UserMessage(err, msgDeviceFallback)})
			f.metrics.Observe(flow.MethodQR, flow.OutcomeOf(err), time.Time{})
			return err
		}

		done, err := f.attempt(runCtx, raw)
		if done {
			return err
		}
		if runCtx.Err() != nil {
			return autherr.Wrap(op, autherr.ErrCancelled, runCtx.Err())
		}

		select {
		case <-f.clock.After(f.retryDelay):
		case <-runCtx.Done():
			return autherr.Wrap(op, autherr.ErrCancelled, runCtx.Err())
		}
	}
}

// attempt validates and exchanges one decoded payload. done is true when Run
// must return err; otherwise the flow is in error and waits to retry.
func (f *Flow) attempt(ctx context.Context, raw string) (done bool, _ error) {
	a := flow.NewAttempt(flow.MethodQR, f.clock.Now())

	if _, err := ValidatePayload(raw, f.clock.Now()); err != nil {
		f.mu.Lock()
		repeat := raw == f.lastReject
		f.lastReject = raw
		f.mu.Unlock()
		if !repeat {
			f.log.Info("qr.validate.reject", "attempt_id", a.ID, "payload_fp", fingerprint.Credential(raw), "err", err)
		}
		f.setState(ctx, State{Phase: PhaseError, Message: autherr.UserMessage(err, msgMalformed), AttemptID: a.ID})
		f.metrics.Observe(flow.MethodQR, flow.OutcomeOf(err), a.StartedAt)
		return false, err
	}

	if !f.setState(ctx, State{Phase: PhaseValidating, Message: msgValidating, AttemptID: a.ID}) {
		return true, autherr.New("qrscan.Run", autherr.ErrCancelled, "stopped")
	}

	res, err := f.exch.ExchangeQR(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return true, autherr.Wrap("qrscan.Run", autherr.ErrCancelled, err)
		}
		f.log.Warn("qr.exchange.fail", "attempt_id", a.ID, "err", err)
		msg := msgExchangeFailed
		if errors.Is(err, autherr.ErrRejected) || autherr.IsAuthorizationDenied(err) {
			msg = autherr.UserMessage(err, msgExchangeFailed)
		}
		f.setState(ctx, State{Phase: PhaseError, Message: msg, AttemptID: a.ID})
		f.metrics.Observe(flow.MethodQR, flow.OutcomeOf(err), a.StartedAt)
		return false, err
	}

	welcome := "Welcome."
	if res.Identity.DisplayName != "" {
		welcome = "Welcome, " + res.Identity.DisplayName + "."
	}
	if !f.setState(ctx, State{Phase: PhaseSuccess, Message: welcome, AttemptID: a.ID}) {
		f.log.Info("qr.exchange.dropped", "attempt_id", a.ID, "reason", "stopped")
		return true, autherr.New("qrscan.Run", autherr.ErrCancelled, "stopped")
	}

	if err := f.sessions.Establish(context.WithoutCancel(ctx), res.Credential, res.Identity); err != nil {
		if autherr.IsLocalValidation(err) {
			werr := autherr.Wrap("qrscan.Run", autherr.ErrRejected, err)
			f.forceState(State{Phase: PhaseError, Message: msgExchangeFailed, AttemptID: a.ID})
			f.metrics.Observe(flow.MethodQR, flow.OutcomeOf(werr), a.StartedAt)
			return true, werr
		}
		f.log.Warn("qr.persist.fail", "attempt_id", a.ID, "credential_fp", fingerprint.Credential(res.Credential), "err", err)
	}
	f.metrics.Observe(flow.MethodQR, flow.OutcomeSuccess, a.StartedAt)
	f.log.Info("qr.attempt.end", "attempt_id", a.ID, "outcome", flow.OutcomeSuccess)
	return true, nil
}

// scan holds the camera until a frame decodes to text. The camera is
// released before scan returns.
func (f *Flow) scan(ctx context.Context) (string, error) {
	h, err := camera.Acquire(ctx, f.dev, camera.Constraints{
		Facing:    camera.FacingEnvironment,
		Width:     f.width,
		Height:    f.height,
		FrameRate: int(time.Second / f.frameInterval),
	})
	if err != nil {
		return "", err
	}
	defer f.release(h)

	f.mu.Lock()
	if ctx.Err() != nil {
		f.mu.Unlock()
		return "", ctx.Err()
	}
	f.handle = h
	f.state = State{Phase: PhaseScanning, Message: msgScanning}
	f.mu.Unlock()

	ticker := f.clock.NewTicker(f.frameInterval)
	defer ticker.Stop()

	for {
		img, err := h.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", autherr.Wrap("qrscan.scan", autherr.ErrDeviceAccess, err).WithUser(msgDeviceFallback)
		}
		text, err := f.dec.Decode(img)
		switch {
		case err == nil && text != "":
			return text, nil
		case err != nil && !errors.Is(err, qrcode.ErrNoCode):
			f.log.Debug("qr.decode.fail", "err", err)
		}

		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Stop halts the scan loop and releases the camera. It reports whether the
// loop was running.
func (f *Flow) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return false
	}
	f.stop()
	f.releaseLocked()
	if f.state.Phase != PhaseSuccess {
		f.state = State{Phase: PhaseIdle}
	}
	f.log.Info("qr.stop")
	return true
}

// setState applies st unless the run was stopped. Stop cancels ctx under the
// same lock, so a stopped run can never overwrite idle.
func (f *Flow) setState(ctx context.Context, st State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	f.state = st
	return true
}

func (f *Flow) forceState(st State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func (f *Flow) release(h *camera.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle == h {
		f.releaseLocked()
		return
	}
	if err := h.Release(); err != nil {
		f.log.Warn("qr.camera.release.fail", "err", err)
	}
}

func (f *Flow) releaseLocked() {
	if f.handle == nil {
		return
	}
	if err := f.handle.Release(); err != nil {
		f.log.Warn("qr.camera.release.fail", "err", err)
	}
	f.handle = nil
}
