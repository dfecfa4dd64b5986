package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"lexion/cmd/internal/auth/facial"
	"lexion/cmd/internal/auth/guard"
	"lexion/cmd/internal/auth/password"
	"lexion/cmd/internal/auth/qrscan"
	"lexion/cmd/internal/auth/recovery"
	"lexion/cmd/internal/httpx"
	"lexion/cmd/internal/lexapi"
)

const (
	msgInvalidBody = "The request could not be read."
	msgGeneric     = "Something went wrong. Please try again."
)

type entryResponse struct {
	Session  sessionView    `json:"session"`
	Methods  []string       `json:"methods"`
	Password password.State `json:"password"`
	Facial   facial.State   `json:"facial"`
	QR       qrscan.State   `json:"qr"`
}

func (a *App) handleEntry(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, entryResponse{
		Session:  a.sessionView(),
		Methods:  []string{"password", "facial", "qr"},
		Password: a.password.State(),
		Facial:   a.facial.State(),
		QR:       a.qr.State(),
	})
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.sessionView())
}

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	RecaptchaToken string `json:"recaptcha_token"`
}

type passwordResponse struct {
	State   password.State `json:"state"`
	Session sessionView    `json:"session"`
}

func (a *App) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}

	// A client that goes away does not abort the exchange.
	err := a.password.Submit(context.WithoutCancel(r.Context()), password.Credentials{
		Identifier:   req.Email,
		Secret:       req.Password,
		CaptchaToken: req.RecaptchaToken,
	})
	st := a.password.State()
	if err != nil {
		writeFlowError(w, err, st.Message)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, passwordResponse{State: st, Session: a.sessionView()})
}

func (a *App) handleFacialStart(w http.ResponseWriter, _ *http.Request) {
	if err := a.startFacial(); err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, a.facial.State())
}

type cancelResponse struct {
	Cancelled bool         `json:"cancelled"`
	State     facial.State `json:"state"`
}

func (a *App) handleFacialCancel(w http.ResponseWriter, _ *http.Request) {
	ok := a.facial.Cancel()
	httpx.WriteJSON(w, http.StatusOK, cancelResponse{Cancelled: ok, State: a.facial.State()})
}

func (a *App) handleFacialState(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.facial.State())
}

func (a *App) handleQRStart(w http.ResponseWriter, _ *http.Request) {
	if err := a.startQR(); err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, a.qr.State())
}

type stopResponse struct {
	Stopped bool         `json:"stopped"`
	State   qrscan.State `json:"state"`
}

func (a *App) handleQRStop(w http.ResponseWriter, _ *http.Request) {
	ok := a.stopQR()
	httpx.WriteJSON(w, http.StatusOK, stopResponse{Stopped: ok, State: a.qr.State()})
}

func (a *App) handleQRState(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.qr.State())
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Clear(context.WithoutCancel(r.Context())); err != nil {
		// The in-memory session is gone; only the persisted copy may linger.
		a.log.Warn("session.logout.persist.fail", "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, a.sessionView())
}

type recoveryEmailRequest struct {
	Email string `json:"email"`
}

type recoveryCodeRequest struct {
	Code string `json:"code"`
}

type recoveryResetRequest struct {
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

func (a *App) handleRecoveryState(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.recovery.State())
}

func (a *App) handleRecoveryRequest(w http.ResponseWriter, r *http.Request) {
	var req recoveryEmailRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	st, err := a.recovery.RequestCode(context.WithoutCancel(r.Context()), req.Email)
	writeRecovery(w, st, err)
}

func (a *App) handleRecoveryVerify(w http.ResponseWriter, r *http.Request) {
	var req recoveryCodeRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	st, err := a.recovery.VerifyCode(context.WithoutCancel(r.Context()), req.Code)
	writeRecovery(w, st, err)
}

func (a *App) handleRecoveryReset(w http.ResponseWriter, r *http.Request) {
	var req recoveryResetRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	st, err := a.recovery.Reset(context.WithoutCancel(r.Context()), req.Password, req.Confirm)
	writeRecovery(w, st, err)
}

func (a *App) handleRecoveryRestart(w http.ResponseWriter, _ *http.Request) {
	a.recovery.Restart()
	httpx.WriteJSON(w, http.StatusOK, a.recovery.State())
}

func writeRecovery(w http.ResponseWriter, st recovery.State, err error) {
	if err != nil {
		writeFlowError(w, err, st.Message)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

type dashboardResponse struct {
	Welcome  string        `json:"welcome"`
	Identity *identityView `json:"identity"`
	Views    []string      `json:"views"`
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, _ := guard.IdentityFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, dashboardResponse{
		Welcome:  fmt.Sprintf("Welcome, %s.", displayName(id.DisplayName, id.Email)),
		Identity: newIdentityView(id),
		Views:    []string{"/profile", "/analyzer", "/credential/send"},
	})
}

func (a *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	cred, err := a.credential()
	if err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}
	p, err := a.api.Profile(r.Context(), cred)
	if err != nil {
		a.signOutIfDenied(r.Context(), err)
		writeFlowError(w, err, "Could not load your profile.")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

type profileUpdateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func (a *App) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	cred, err := a.credential()
	if err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}
	var req profileUpdateRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	p, err := a.updateProfile(r.Context(), cred, lexapi.ProfileUpdate{FullName: req.Name, Phone: req.Phone, Email: req.Email})
	if err != nil {
		writeFlowError(w, err, "Could not update your profile.")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

type passwordChangeRequest struct {
	Current  string `json:"current"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

func (a *App) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	cred, err := a.credential()
	if err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}
	var req passwordChangeRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	if err := a.changePassword(r.Context(), cred, req.Current, req.Password, req.Confirm); err != nil {
		writeFlowError(w, err, "Could not change your password.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	cred, err := a.credential()
	if err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxMultipartMem); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	var img []byte
	if f, _, err := r.FormFile("photo"); err == nil {
		img, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
			return
		}
	}

	p, err := a.uploadAvatar(r.Context(), cred, img)
	if err != nil {
		writeFlowError(w, err, "Could not update your photo.")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (a *App) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	cred, err := a.credential()
	if err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxMultipartMem); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}

	req := lexapi.AnalyzeRequest{
		Language: strings.TrimSpace(r.FormValue("idioma")),
		Email:    strings.TrimSpace(r.FormValue("correo")),
	}
	req.EmailPDF = parseYes(r.FormValue("enviar_pdf"))

	if f, hdr, err := r.FormFile(analyzerFileName); err == nil {
		req.FileName = hdr.Filename
		req.Content, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
			return
		}
	}

	res, err := a.api.Analyze(r.Context(), cred, req)
	if err != nil {
		a.signOutIfDenied(r.Context(), err)
		writeFlowError(w, err, "The analysis failed. Please try again.")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (a *App) handleSendCard(w http.ResponseWriter, r *http.Request) {
	cred, err := a.credential()
	if err != nil {
		writeFlowError(w, err, msgGeneric)
		return
	}
	id, _ := guard.IdentityFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxMultipartMem); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}

	email := firstNonEmpty(r.FormValue("email"), id.Email)
	name := firstNonEmpty(r.FormValue("name"), id.DisplayName)

	var pdf []byte
	if f, _, err := r.FormFile("pdf"); err == nil {
		pdf, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
			return
		}
	}

	if err := a.api.SendCredentialCard(r.Context(), cred, email, name, pdf); err != nil {
		a.signOutIfDenied(r.Context(), err)
		writeFlowError(w, err, "Could not send the credential. Please try again.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func displayName(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return strings.TrimSpace(email)
}

// parseYes accepts the boolean spellings plus "sí"/"si".
func parseYes(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "sí" || v == "si" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Facial   bool   `json:"facial"`
}

type registerResponse struct {
	UserID  int64  `json:"user_id"`
	QRURL   string `json:"qr_url,omitempty"`
	HasFace bool   `json:"has_face"`
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid", msgInvalidBody)
		return
	}
	e, err := a.register(r.Context(), signup{
		Registration: lexapi.Registration{
			Username: req.Username,
			Password: req.Password,
			Email:    req.Email,
			FullName: req.Name,
			Phone:    req.Phone,
		},
		Confirm: req.Confirm,
		Facial:  req.Facial,
	})
	if err != nil {
		writeFlowError(w, err, "Could not create your account.")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, registerResponse{UserID: e.UserID, QRURL: e.QRURL, HasFace: len(e.Face) > 0})
}
