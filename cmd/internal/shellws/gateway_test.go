package shellws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lexion/cmd/internal/auth/credstore"
	"lexion/cmd/internal/auth/guard"
	"lexion/cmd/internal/auth/session"
	v1 "lexion/shared/contracts/shell/v1"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
)

type noFetch struct{}

func (noFetch) FetchIdentity(context.Context, string) (session.Identity, error) {
	return session.Identity{}, errors.New("unused")
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store := session.NewStore(log, credstore.NewMemory(), noFetch{})
	g := guard.New(store, "/login", log)

	cfg := DefaultConfig()
	cfg.OriginRequired = false
	srv := httptest.NewServer(NewGateway(log, g, cfg))
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: []string{v1.SubprotocolSession},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readGuard(t *testing.T, conn *websocket.Conn) v1.GuardPayload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if env.Type != v1.TypeGuard {
			continue
		}
		var p v1.GuardPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		return p
	}
}

func TestGateway_PushesTransitions(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	conn := dial(t, srv)

	if p := readGuard(t, conn); p.Decision != "loading" || p.Status != "uninitialized" {
		t.Fatalf("initial = %+v", p)
	}

	ctx := context.Background()
	if err := store.Establish(ctx, "tok-1", session.Identity{ID: 1, DisplayName: "Ana"}); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	p := readGuard(t, conn)
	if p.Decision != "content" || p.Identity == nil || p.Identity.DisplayName != "Ana" {
		t.Fatalf("after establish = %+v", p)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	p = readGuard(t, conn)
	if p.Decision != "redirect" || p.Location != "/login" || p.Identity != nil {
		t.Fatalf("after clear = %+v", p)
	}
}

func TestGateway_RefreshRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	_ = readGuard(t, conn)

	env, err := v1.New(v1.TypeGuard, "req-1", time.Now(), struct{}{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if p := readGuard(t, conn); p.Decision != "loading" {
		t.Fatalf("refresh = %+v", p)
	}
}

func TestGateway_RejectsDisallowedOrigin(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.DiscardHandler)
	store := session.NewStore(log, credstore.NewMemory(), noFetch{})
	srv := httptest.NewServer(NewGateway(log, guard.New(store, "", log), DefaultConfig()))
	t.Cleanup(srv.Close)

	tests := []struct {
		name   string
		origin string
	}{
		{name: "missing", origin: ""},
		{name: "foreign", origin: "https://evil.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", resp.StatusCode)
			}
		})
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://localhost:5173", "http://127.0.0.1", "https://LOCALHOST", "*", ""})
	want := []string{"127.0.0.1", "localhost"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("originPatterns = %v, want %v", got, want)
	}
}

func TestEventLimiter(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	l := newEventLimiter(clock, 2, time.Second)

	if !l.allow() {
		t.Fatalf("first event rejected")
	}
	clock.Advance(100 * time.Millisecond)
	if !l.allow() {
		t.Fatalf("second event rejected")
	}
	clock.Advance(100 * time.Millisecond)
	if l.allow() {
		t.Fatalf("third event allowed inside window")
	}
	// The first admission leaves the window at 1s; the second is still in it.
	clock.Advance(800 * time.Millisecond)
	if !l.allow() {
		t.Fatalf("event after the oldest left the window rejected")
	}
	if l.allow() {
		t.Fatalf("rejected events must not free budget")
	}
	clock.Advance(100 * time.Millisecond)
	if !l.allow() {
		t.Fatalf("event after the second admission expired rejected")
	}
}

func TestEventLimiter_Defaults(t *testing.T) {
	t.Parallel()

	l := newEventLimiter(nil, 0, 0)
	if len(l.ring) != rateLimitEvents || l.window != rateLimitWindow || l.clock == nil {
		t.Fatalf("defaults not applied: limit=%d window=%v", len(l.ring), l.window)
	}
}

func TestGateway_RateLimitClosesConnection(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.DiscardHandler)
	store := session.NewStore(log, credstore.NewMemory(), noFetch{})
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	// The fake clock never moves, so every query lands in the same window.
	srv := httptest.NewServer(NewGateway(log, guard.New(store, "/login", log), cfg, WithClock(clockwork.NewFakeClock())))
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	_ = readGuard(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		env, _ := v1.New(v1.TypeGuard, "q", time.Now(), struct{}{})
		b, _ := json.Marshal(env)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	var guards int
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("connection closed before the rate limit error: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if env.Type == v1.TypeGuard {
			guards++
			continue
		}
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		if env.Type != v1.TypeError || p.Code != "rate_limited" {
			t.Fatalf("envelope = %s %+v, want rate_limited error", env.Type, p)
		}
		break
	}
	if guards != 2 {
		t.Fatalf("answered %d queries before the limit, want 2", guards)
	}

	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("close = %v, want policy violation", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LEXION_WS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("LEXION_WS_HEARTBEAT_INTERVAL", "10s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.HeartbeatEvery != 10*time.Second || !cfg.OriginRequired {
		t.Fatalf("cfg = %+v", cfg)
	}
}
