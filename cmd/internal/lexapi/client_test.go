package lexapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/password"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{name: "default", base: "", want: DefaultBaseURL},
		{name: "trailing slash", base: "https://api.lexion.test/", want: "https://api.lexion.test"},
		{name: "no scheme", base: "api.lexion.test", wantErr: true},
		{name: "ftp", base: "ftp://api.lexion.test", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewClient(Config{BaseURL: tt.base})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.base)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if c.BaseURL() != tt.want {
				t.Fatalf("BaseURL = %q, want %q", c.BaseURL(), tt.want)
			}
			if c.http.Timeout != 0 {
				t.Fatalf("default client has a timeout")
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantKind error
		wantMsg  string
	}{
		{name: "401", status: 401, body: `{"detail":"Token inválido"}`, wantKind: autherr.ErrAuthorizationDenied, wantMsg: "Token inválido"},
		{name: "403", status: 403, body: `{}`, wantKind: autherr.ErrAuthorizationDenied},
		{name: "400 detail", status: 400, body: `{"detail":"Credenciales incorrectas"}`, wantKind: autherr.ErrRejected, wantMsg: "Credenciales incorrectas"},
		{name: "404 mensaje", status: 404, body: `{"mensaje":"Usuario no encontrado"}`, wantKind: autherr.ErrRejected, wantMsg: "Usuario no encontrado"},
		{name: "422 list detail", status: 422, body: `{"detail":[{"loc":["body","email"],"msg":"field required"}]}`, wantKind: autherr.ErrRejected},
		{name: "500", status: 500, body: `{"detail":"Traceback ..."}`, wantKind: autherr.ErrTransient},
		{name: "502 html", status: 502, body: `<html>bad gateway</html>`, wantKind: autherr.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.Profile(context.Background(), "tok")
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want kind %v", err, tt.wantKind)
			}
			if StatusCode(err) != tt.status {
				t.Fatalf("StatusCode = %d, want %d", StatusCode(err), tt.status)
			}
			if got := autherr.UserMessage(err, ""); got != tt.wantMsg {
				t.Fatalf("user message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.FetchIdentity(context.Background(), "tok")
	if !autherr.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchIdentity(ctx, "tok")
	if !errors.Is(err, autherr.ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
}

func TestFetchIdentity(t *testing.T) {
	t.Parallel()

	avatar := []byte{0xff, 0xd8, 0xff}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/usuarios/me" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, 200, `{"id":1,"nombre_completo":"Ana Ruiz","email":"ana@example.com","rol":"usuario",`+
			`"foto_perfil":"data:image/jpeg;base64,`+base64.StdEncoding.EncodeToString(avatar)+`"}`)
	})

	id, err := c.FetchIdentity(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("FetchIdentity: %v", err)
	}
	if id.ID != 1 || id.DisplayName != "Ana Ruiz" || id.Email != "ana@example.com" {
		t.Fatalf("identity = %+v", id)
	}
	if string(id.Avatar) != string(avatar) {
		t.Fatalf("avatar = %x", id.Avatar)
	}
}

func TestFetchIdentity_EmptyCredentialNoCall(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	if _, err := c.FetchIdentity(context.Background(), " "); !autherr.IsAuthorizationDenied(err) {
		t.Fatalf("err = %v, want authorization denied", err)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["email"] != "u@example.com" || body["password"] != "secret123" || body["recaptcha_token"] != "cap-ok" {
			t.Errorf("body = %v", body)
		}
		writeJSON(w, 200, `{"access_token":"tok-1","usuario_id":1,"nombre_completo":"U","email":"u@example.com"}`)
	})

	res, err := c.Login(context.Background(), password.Credentials{
		Identifier: "u@example.com", Secret: "secret123", CaptchaToken: "cap-ok",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Credential != "tok-1" || res.Identity.ID != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLogin_MissingToken(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"usuario_id":1}`)
	})
	if _, err := c.Login(context.Background(), password.Credentials{}); !autherr.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestMatchFace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		matched   bool
		score     float64
		wantIdent bool
	}{
		{name: "match", body: `{"coincide":true,"score":0.91,"nombre":"Ana","usuario_id":3,"email":"a@x","access_token":"tok-f"}`, matched: true, score: 0.91, wantIdent: true},
		{name: "no match", body: `{"coincide":false,"score":0.42}`, score: 0.42},
		{name: "match without user", body: `{"coincide":true,"score":0.8,"access_token":"tok-f"}`, matched: true, score: 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/rostro/login" {
					t.Errorf("path = %s", r.URL.Path)
				}
				f, hdr, err := r.FormFile("file")
				if err != nil {
					t.Errorf("FormFile: %v", err)
				} else {
					b, _ := io.ReadAll(f)
					if string(b) != "jpeg-bytes" || hdr.Filename != "rostro.jpg" {
						t.Errorf("file = %q (%s)", b, hdr.Filename)
					}
				}
				writeJSON(w, 200, tt.body)
			})

			res, err := c.MatchFace(context.Background(), []byte("jpeg-bytes"))
			if err != nil {
				t.Fatalf("MatchFace: %v", err)
			}
			if res.Matched != tt.matched || res.Score == nil || *res.Score != tt.score {
				t.Fatalf("result = %+v", res)
			}
			if (res.Identity != nil) != tt.wantIdent {
				t.Fatalf("identity = %+v, want present=%v", res.Identity, tt.wantIdent)
			}
			if !tt.matched && res.Credential != "" {
				t.Fatalf("credential leaked on no-match")
			}
		})
	}
}

func TestExchangeQR(t *testing.T) {
	t.Parallel()

	const raw = `{"usuario_id":12,"token":"abc"}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["qr_data"] != raw {
			t.Errorf("qr_data = %q", body["qr_data"])
		}
		writeJSON(w, 200, `{"access_token":"tok-qr","usuario":{"id":12,"nombre_completo":"Luz","email":"l@x"}}`)
	})

	res, err := c.ExchangeQR(context.Background(), raw)
	if err != nil {
		t.Fatalf("ExchangeQR: %v", err)
	}
	if res.Credential != "tok-qr" || res.Identity.ID != 12 || res.Identity.DisplayName != "Luz" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRecoveryCalls(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			t.Errorf("content type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		switch r.URL.Path {
		case "/usuarios/forgot-password":
			writeJSON(w, 200, `{"mensaje":"Código enviado"}`)
		case "/usuarios/verify-token":
			if r.PostForm.Get("token") == "123456" {
				writeJSON(w, 200, `{"ok":true}`)
				return
			}
			writeJSON(w, 200, `{"ok":false,"detail":"Código expirado"}`)
		case "/usuarios/reset-password":
			if r.PostForm.Get("new_password") != "new-secret" {
				t.Errorf("new_password = %q", r.PostForm.Get("new_password"))
			}
			writeJSON(w, 200, `{"mensaje":"Contraseña restablecida"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	if msg, err := c.RequestRecovery(ctx, "a@x"); err != nil || msg != "Código enviado" {
		t.Fatalf("RequestRecovery = %q, %v", msg, err)
	}
	if err := c.VerifyRecoveryCode(ctx, "a@x", "123456"); err != nil {
		t.Fatalf("VerifyRecoveryCode: %v", err)
	}
	err := c.VerifyRecoveryCode(ctx, "a@x", "000000")
	if !errors.Is(err, autherr.ErrRejected) || autherr.UserMessage(err, "") != "Código expirado" {
		t.Fatalf("VerifyRecoveryCode(bad) = %v", err)
	}
	if msg, err := c.ResetPassword(ctx, "a@x", "123456", "new-secret"); err != nil || msg != "Contraseña restablecida" {
		t.Fatalf("ResetPassword = %q, %v", msg, err)
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("idioma") != "en" || r.FormValue("enviar_pdf") != "sí" || r.FormValue("correo") != "a@x" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		writeJSON(w, 200, `{"idioma":"en","total_palabras":4,"sustantivos":["cat","dog"],"verbos":"n/a","email_status":"sent"}`)
	})

	a, err := c.Analyze(context.Background(), "tok", AnalyzeRequest{
		Language: "en", FileName: "/tmp/in.txt", Content: []byte("the cat and dog"), EmailPDF: true, Email: "a@x",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.TotalWords != 4 || len(a.Nouns) != 2 || a.Verbs != nil || a.EmailStatus != "sent" {
		t.Fatalf("analysis = %+v", a)
	}
}

func TestAnalyze_LocalValidation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request")
	})
	ctx := context.Background()
	if _, err := c.Analyze(ctx, "tok", AnalyzeRequest{}); !autherr.IsLocalValidation(err) {
		t.Fatalf("empty content err = %v", err)
	}
	if _, err := c.Analyze(ctx, "tok", AnalyzeRequest{Content: []byte("x"), EmailPDF: true}); !autherr.IsLocalValidation(err) {
		t.Fatalf("missing email err = %v", err)
	}
}

func TestSendCredentialCard(t *testing.T) {
	t.Parallel()

	pdf := []byte("%PDF-1.4 ...")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body cardWire
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		got, _ := base64.StdEncoding.DecodeString(body.PDFBase64)
		if body.Email != "a@x" || body.Name != "Ana" || string(got) != string(pdf) {
			t.Errorf("body = %+v", body)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer")
		}
		writeJSON(w, 200, `{"mensaje":"enviado"}`)
	})
	if err := c.SendCredentialCard(context.Background(), "tok", "a@x", "Ana", pdf); err != nil {
		t.Fatalf("SendCredentialCard: %v", err)
	}
}

func TestUploadAvatar(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/usuarios/me/foto" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if _, _, err := r.FormFile("foto_perfil"); err != nil {
			t.Errorf("FormFile: %v", err)
		}
		writeJSON(w, 200, `{"rostro_segmentado_b64":"`+base64.StdEncoding.EncodeToString([]byte("seg"))+`"}`)
	})
	got, err := c.UploadAvatar(context.Background(), "tok", []byte("jpeg"))
	if err != nil || string(got) != "seg" {
		t.Fatalf("UploadAvatar = %q, %v", got, err)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := Registration{Username: "ana", Password: "s3cret!x", Email: "ana@x.test", FullName: "Ana Ruiz", Phone: "55512345"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/register" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["usuario"] != "ana" || body["nombre_completo"] != "Ana Ruiz" || body["telefono"] != "55512345" || body["password"] != "s3cret!x" {
			t.Errorf("body = %v", body)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("registration must not carry a bearer")
		}
		writeJSON(w, 200, `{"usuario_id":42}`)
	})
	got, err := c.Register(context.Background(), reg)
	if err != nil || got.UserID != 42 {
		t.Fatalf("Register = %+v, %v", got, err)
	}
}

func TestRegisterFacial(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/register-facial/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.FormValue("usuario") != "ana" || r.FormValue("email") != "ana@x.test" {
			t.Errorf("fields usuario=%q email=%q", r.FormValue("usuario"), r.FormValue("email"))
		}
		f, hdr, err := r.FormFile("rostro")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			b, _ := io.ReadAll(f)
			if string(b) != "jpeg" || hdr.Filename != "rostro.jpg" {
				t.Errorf("rostro = %q (%s)", b, hdr.Filename)
			}
		}
		writeJSON(w, 200, `{"usuario_id":9,"qr_url":" /qr/9.png ","rostro_segmentado_b64":"`+base64.StdEncoding.EncodeToString([]byte("seg"))+`"}`)
	})

	got, err := c.RegisterFacial(context.Background(), Registration{Username: "ana", Email: "ana@x.test"}, []byte("jpeg"))
	if err != nil {
		t.Fatalf("RegisterFacial: %v", err)
	}
	if got.UserID != 9 || got.QRURL != "/qr/9.png" || string(got.Face) != "seg" {
		t.Fatalf("enrollment = %+v", got)
	}
}

func TestRegisterFacial_Errors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 400, `{"detail":"El usuario ya existe"}`)
	})

	if _, err := c.RegisterFacial(context.Background(), Registration{Username: "ana"}, nil); !autherr.IsLocalValidation(err) {
		t.Fatalf("empty face err = %v, want local validation", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("empty face reached the backend")
	}

	_, err := c.RegisterFacial(context.Background(), Registration{Username: "ana"}, []byte("jpeg"))
	if !errors.Is(err, autherr.ErrRejected) || autherr.UserMessage(err, "") != "El usuario ya existe" {
		t.Fatalf("err = %v (user %q)", err, autherr.UserMessage(err, ""))
	}
}
