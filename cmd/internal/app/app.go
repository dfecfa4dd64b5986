// Package app wires the Lexion client: config, logging, the credential
// backend, the acquisition flows, the shell HTTP server and the CLI.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/facial"
	"lexion/cmd/internal/auth/flow"
	"lexion/cmd/internal/auth/guard"
	"lexion/cmd/internal/auth/password"
	"lexion/cmd/internal/auth/qrscan"
	"lexion/cmd/internal/auth/recovery"
	"lexion/cmd/internal/auth/session"
	"lexion/cmd/internal/camera"
	"lexion/cmd/internal/lexapi"
	"lexion/cmd/internal/shellws"
	pwpolicy "lexion/cmd/security/password"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	pingTimeout          = 2 * time.Second
	cameraHandoffTimeout = 5 * time.Second
)

var errNotSignedIn = errors.New("not signed in")

// App is the Lexion client runtime. One App holds one session.
type App struct {
	cfg Config
	log Logger
	out io.Writer
	in  *bufio.Reader

	creds    *credentials
	api      *lexapi.Client
	sessions *session.Store
	guard    *guard.Guard
	cam      *camera.Exclusive
	camDev   camera.Device

	password *password.Flow
	facial   *facial.Flow
	qr       *qrscan.Flow
	recovery *recovery.Flow

	ws       *shellws.Gateway
	registry *prometheus.Registry
	policy   pwpolicy.Config

	// runCtx outlives requests; detached facial and QR attempts run on it.
	runCtx   context.Context
	stopRuns context.CancelFunc
	runs     sync.WaitGroup

	qrMu   sync.Mutex
	qrDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Option configures an App.
type Option func(*App)

// WithOutput sets where CLI results are printed (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithInput sets where interactive answers are read from (stdin by default).
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = bufio.NewReader(r) }
}

// WithAPIClient replaces the backend client (tests).
func WithAPIClient(c *lexapi.Client) Option {
	return func(a *App) { a.api = c }
}

// WithCamera replaces the configured camera source (tests, embedding).
func WithCamera(dev camera.Device) Option {
	return func(a *App) { a.camDev = dev }
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateFingerprintKey(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	flowCfg, err := flow.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	wsCfg, err := shellws.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	policy, err := pwpolicy.FromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, out: os.Stdout, policy: policy}
	for _, o := range opts {
		o(a)
	}

	if a.api == nil {
		a.api, err = lexapi.NewClient(lexapi.Config{BaseURL: cfg.APIURL, Logger: log})
		if err != nil {
			return nil, err
		}
	}

	if a.camDev != nil {
		a.cam = camera.NewExclusive(a.camDev)
	} else if a.cam, err = newCamera(cfg, log); err != nil {
		return nil, err
	}

	a.creds, err = newCredentials(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := flow.NewMetrics(a.registry)

	a.sessions = session.NewStore(log, a.creds, a.api)
	a.guard = guard.New(a.sessions, cfg.EntryPath, log)

	a.password = password.New(log, a.api, a.sessions, metrics)
	a.facial = facial.New(log, a.cam, a.api, a.sessions,
		facial.WithMetrics(metrics),
		facial.WithAbortOnCancel(flowCfg.FacialAbortOnCancel),
		facial.WithCameraSize(flowCfg.CameraWidth, flowCfg.CameraHeight),
	)
	a.qr = qrscan.New(log, a.cam, nil, a.api, a.sessions,
		qrscan.WithMetrics(metrics),
		qrscan.WithFrameInterval(flowCfg.QRFrameInterval),
		qrscan.WithRetryDelay(flowCfg.QRRetryDelay),
		qrscan.WithCameraSize(flowCfg.CameraWidth, flowCfg.CameraHeight),
	)
	a.recovery = recovery.New(log, a.api, policy)
	a.ws = shellws.NewGateway(log, a.guard, wsCfg)

	a.runCtx, a.stopRuns = context.WithCancel(context.WithoutCancel(ctx))

	log.Info("app.ready",
		"api", a.api.BaseURL(),
		"credential_store", cfg.CredentialStore,
		"camera", a.cameraKind(),
	)
	return a, nil
}

// Restore resolves the persisted credential. Every command starts with it.
func (a *App) Restore(ctx context.Context) error {
	err := a.sessions.Restore(ctx)
	if errors.Is(err, session.ErrAlreadyRestored) {
		return nil
	}
	return err
}

// Serve starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "entry_path", a.guard.EntryPath())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Protected views answer "loading" until this finishes.
	go func() {
		if err := a.Restore(ctx); err != nil {
			a.log.Warn("session.restore.fail", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Release the camera before the listener goes away.
	a.teardownFlows()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		_ = a.Close()
		return err
	}

	if err := a.Close(); err != nil {
		a.log.Error("app.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// Close tears the flows down and releases the credential backend.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.teardownFlows()
		a.runs.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		a.closeErr = a.creds.Close(ctx)
	})
	return a.closeErr
}

// teardownFlows always leaves the camera released.
func (a *App) teardownFlows() {
	_ = a.facial.Close()
	a.stopQR()
	a.stopRuns()
}

// startFacial runs one facial attempt detached from the caller. Any QR scan
// is stopped first so the camera is free.
func (a *App) startFacial() error {
	if a.facial.Busy() {
		return autherr.New("app.startFacial", autherr.ErrBusy, "facial attempt in progress")
	}
	a.stopQR()

	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		if _, err := a.facial.Start(a.runCtx); err != nil && !autherr.IsNoMatch(err) {
			a.log.Info("facial.run.end", "err", err)
		}
	}()
	return nil
}

// startQR runs the scan loop detached from the caller. An in-flight facial
// attempt is cancelled first so the camera is free.
func (a *App) startQR() error {
	a.qrMu.Lock()
	defer a.qrMu.Unlock()

	if a.qrDone != nil {
		return autherr.New("app.startQR", autherr.ErrBusy, "scanner already running")
	}
	a.facial.Cancel()
	// A cancelled attempt may still be opening the device.
	ctx, cancel := context.WithTimeout(a.runCtx, cameraHandoffTimeout)
	err := a.facial.WaitCamera(ctx)
	cancel()
	if err != nil {
		a.log.Warn("qr.camera.handoff.timeout", "err", err)
	}

	done := make(chan struct{})
	a.qrDone = done
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		defer func() {
			a.qrMu.Lock()
			if a.qrDone == done {
				a.qrDone = nil
			}
			a.qrMu.Unlock()
			close(done)
		}()
		if err := a.qr.Run(a.runCtx); err != nil && !errors.Is(err, autherr.ErrCancelled) {
			a.log.Info("qr.run.end", "err", err)
		}
	}()
	return nil
}

// stopQR stops the scan loop and waits until Run has returned, so the camera
// is released when stopQR returns.
func (a *App) stopQR() bool {
	a.qrMu.Lock()
	done := a.qrDone
	a.qrMu.Unlock()

	stopped := a.qr.Stop()
	if done != nil {
		<-done
	}
	return stopped
}

func (a *App) cameraKind() string {
	switch {
	case a.camDev != nil:
		return "custom"
	case a.cfg.CameraURL != "":
		return "websocket"
	case a.cfg.CameraDir != "":
		return "imagedir"
	default:
		return "none"
	}
}

// credential returns the live credential or errNotSignedIn.
func (a *App) credential() (string, error) {
	snap := a.sessions.Snapshot()
	if !snap.Authenticated() {
		return "", errNotSignedIn
	}
	return snap.Credential, nil
}

// signOutIfDenied clears the session when the backend refused the credential.
func (a *App) signOutIfDenied(ctx context.Context, err error) {
	if !autherr.IsAuthorizationDenied(err) {
		return
	}
	a.log.Info("session.credential.denied")
	if cerr := a.sessions.Clear(context.WithoutCancel(ctx)); cerr != nil {
		a.log.Warn("session.clear.fail", "err", cerr)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
