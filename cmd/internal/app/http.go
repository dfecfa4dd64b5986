package app

import (
	"errors"
	"net/http"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/guard"
	"lexion/cmd/internal/auth/session"
	"lexion/cmd/internal/httpx"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxJSONBody      = 16 << 10
	maxUploadBody    = 20 << 20
	maxMultipartMem  = 8 << 20
	analyzerFileName = "archivo"
)

// Handler returns the full shell handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.creds.Ping(r.Context()); err != nil {
			http.Error(w, "credential store not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.credstore.not_ready", "kind", a.creds.kind, "err", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// Public: entry point and acquisition flows.
	mux.HandleFunc("GET "+a.guard.EntryPath(), a.handleEntry)
	mux.HandleFunc("GET /session", a.handleSession)
	mux.HandleFunc("POST /auth/login", a.handlePasswordLogin)
	mux.HandleFunc("POST /auth/facial/start", a.handleFacialStart)
	mux.HandleFunc("POST /auth/facial/cancel", a.handleFacialCancel)
	mux.HandleFunc("GET /auth/facial/state", a.handleFacialState)
	mux.HandleFunc("POST /auth/qr/start", a.handleQRStart)
	mux.HandleFunc("POST /auth/qr/stop", a.handleQRStop)
	mux.HandleFunc("GET /auth/qr/state", a.handleQRState)
	mux.HandleFunc("POST /auth/logout", a.handleLogout)
	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("GET /auth/recovery/state", a.handleRecoveryState)
	mux.HandleFunc("POST /auth/recovery/request", a.handleRecoveryRequest)
	mux.HandleFunc("POST /auth/recovery/verify", a.handleRecoveryVerify)
	mux.HandleFunc("POST /auth/recovery/reset", a.handleRecoveryReset)
	mux.HandleFunc("POST /auth/recovery/restart", a.handleRecoveryRestart)

	// Protected views.
	mux.Handle("GET /dashboard", a.guard.Wrap(http.HandlerFunc(a.handleDashboard)))
	mux.Handle("GET /profile", a.guard.Wrap(http.HandlerFunc(a.handleProfile)))
	mux.Handle("PUT /profile", a.guard.Wrap(http.HandlerFunc(a.handleProfileUpdate)))
	mux.Handle("POST /profile/password", a.guard.Wrap(http.HandlerFunc(a.handlePasswordChange)))
	mux.Handle("POST /profile/avatar", a.guard.Wrap(http.HandlerFunc(a.handleAvatarUpload)))
	mux.Handle("POST /analyzer", a.guard.Wrap(http.HandlerFunc(a.handleAnalyze)))
	mux.Handle("POST /credential/send", a.guard.Wrap(http.HandlerFunc(a.handleSendCard)))
	mux.Handle("GET /ws/session", a.guard.Wrap(a.ws))
}

// identityView is the display subset of an identity; the avatar stays local.
type identityView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	HasAvatar bool   `json:"has_avatar"`
}

type sessionView struct {
	Status   session.Status `json:"status"`
	Decision guard.Decision `json:"decision"`
	Identity *identityView  `json:"identity,omitempty"`
}

func newIdentityView(id session.Identity) *identityView {
	return &identityView{ID: id.ID, Name: id.DisplayName, Email: id.Email, HasAvatar: len(id.Avatar) > 0}
}

func (a *App) sessionView() sessionView {
	d, snap := a.guard.Evaluate()
	v := sessionView{Status: snap.Status, Decision: d}
	if d == guard.DecisionContent && snap.Identity != nil {
		v.Identity = newIdentityView(*snap.Identity)
	}
	return v
}

// writeFlowError maps an error kind to a status and writes the user-safe message.
func writeFlowError(w http.ResponseWriter, err error, fallback string) {
	status, code := errorStatus(err)
	httpx.WriteError(w, status, code, autherr.UserMessage(err, fallback))
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errNotSignedIn):
		return http.StatusUnauthorized, "not_signed_in"
	case errors.Is(err, autherr.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, autherr.ErrCancelled):
		return http.StatusConflict, "cancelled"
	case autherr.IsLocalValidation(err):
		return http.StatusBadRequest, "invalid"
	case autherr.IsNoMatch(err):
		return http.StatusUnauthorized, "no_match"
	case autherr.IsAuthorizationDenied(err):
		return http.StatusUnauthorized, "denied"
	case errors.Is(err, autherr.ErrRejected):
		return http.StatusUnprocessableEntity, "rejected"
	case autherr.IsDeviceAccess(err):
		return http.StatusServiceUnavailable, "device"
	case autherr.IsTransient(err):
		return http.StatusBadGateway, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
