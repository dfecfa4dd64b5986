package password

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/credstore"
	"lexion/cmd/internal/auth/flow"
	"lexion/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubExchanger struct {
	mu    sync.Mutex
	calls int
	got   Credentials
	res   flow.Result
	err   error
	gate  chan struct{}
}

func (s *stubExchanger) Login(ctx context.Context, c Credentials) (flow.Result, error) {
	s.mu.Lock()
	s.calls++
	s.got = c
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return flow.Result{}, ctx.Err()
		}
	}
	return s.res, s.err
}

func (s *stubExchanger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type noFetch struct{}

func (noFetch) FetchIdentity(context.Context, string) (session.Identity, error) {
	return session.Identity{}, errors.New("unused")
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newStore() (*session.Store, *credstore.Memory) {
	creds := credstore.NewMemory()
	return session.NewStore(discard(), creds, noFetch{}), creds
}

func TestSubmit_EndToEnd(t *testing.T) {
	t.Parallel()

	store, creds := newStore()
	exch := &stubExchanger{res: flow.Result{
		Credential: "tok-1",
		Identity:   session.Identity{ID: 1, DisplayName: "U", Email: "u@example.com"},
	}}
	f := New(discard(), exch, store, nil)

	err := f.Submit(context.Background(), Credentials{
		Identifier:   "u@example.com",
		Secret:       "secret123",
		CaptchaToken: "cap-ok",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := store.Snapshot()
	if snap.Status != session.StatusAuthenticated || snap.Credential != "tok-1" {
		t.Fatalf("snapshot = %+v, want authenticated tok-1", snap)
	}
	if f.State().Phase != PhaseSuccess {
		t.Fatalf("phase = %v, want success", f.State().Phase)
	}
	if got, _ := creds.Load(context.Background()); got != "tok-1" {
		t.Fatalf("persisted = %q, want tok-1", got)
	}
	if exch.got.CaptchaToken != "cap-ok" || exch.got.Identifier != "u@example.com" {
		t.Fatalf("exchange got %+v", exch.got)
	}
}

func TestSubmit_LocalValidation_NoRemoteCall(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Credentials
		msg  string
	}{
		{"empty_identifier", Credentials{Identifier: "  ", Secret: "x", CaptchaToken: "c"}, msgMissingFields},
		{"empty_secret", Credentials{Identifier: "u@example.com", Secret: "", CaptchaToken: "c"}, msgMissingFields},
		{"missing_captcha", Credentials{Identifier: "u@example.com", Secret: "secret123"}, msgMissingCaptcha},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store, _ := newStore()
			exch := &stubExchanger{}
			f := New(discard(), exch, store, nil)

			err := f.Submit(context.Background(), tc.in)
			if !autherr.IsLocalValidation(err) {
				t.Fatalf("err = %v, want local validation", err)
			}
			if exch.callCount() != 0 {
				t.Fatalf("remote called %d times", exch.callCount())
			}
			st := f.State()
			if st.Phase != PhaseIdle || st.Message != tc.msg {
				t.Fatalf("state = %+v", st)
			}
			if store.Status() != session.StatusUninitialized {
				t.Fatalf("session touched: %v", store.Status())
			}
		})
	}
}

func TestSubmit_FailureMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"collaborator_message", autherr.New("api", autherr.ErrAuthorizationDenied, "401").WithUser("Invalid credentials"), "Invalid credentials"},
		{"no_message", autherr.New("api", autherr.ErrTransient, "503"), DefaultFailureMessage},
		{"plain_error", errors.New("dial tcp: refused"), DefaultFailureMessage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store, _ := newStore()
			f := New(discard(), &stubExchanger{err: tc.err}, store, nil)

			if err := f.Submit(context.Background(), Credentials{"u@example.com", "bad", "cap"}); err == nil {
				t.Fatalf("expected error")
			}
			st := f.State()
			if st.Phase != PhaseIdle {
				t.Fatalf("phase = %v, want idle", st.Phase)
			}
			if st.Message != tc.want {
				t.Fatalf("message = %q, want %q", st.Message, tc.want)
			}
		})
	}
}

func TestSubmit_RetryAfterFailure(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	exch := &stubExchanger{err: autherr.New("api", autherr.ErrRejected, "400")}
	f := New(discard(), exch, store, nil)

	_ = f.Submit(context.Background(), Credentials{"u@example.com", "bad", "cap"})

	exch.mu.Lock()
	exch.err = nil
	exch.res = flow.Result{Credential: "tok-9", Identity: session.Identity{ID: 9}}
	exch.mu.Unlock()

	if err := f.Submit(context.Background(), Credentials{"u@example.com", "good", "cap"}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if store.Snapshot().Credential != "tok-9" {
		t.Fatalf("resubmit did not establish")
	}
}

func TestSubmit_IncompleteResultRejected(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	f := New(discard(), &stubExchanger{res: flow.Result{Credential: "", Identity: session.Identity{ID: 1}}}, store, nil)

	err := f.Submit(context.Background(), Credentials{"u@example.com", "x", "cap"})
	if !errors.Is(err, autherr.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if f.State().Message != DefaultFailureMessage {
		t.Fatalf("message = %q", f.State().Message)
	}
	if store.Snapshot().Authenticated() {
		t.Fatalf("half session established")
	}
}

func TestSubmit_BusyWhileOutstanding(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	gate := make(chan struct{})
	exch := &stubExchanger{
		gate: gate,
		res:  flow.Result{Credential: "tok-1", Identity: session.Identity{ID: 1}},
	}
	reg := prometheus.NewRegistry()
	metrics := flow.NewMetrics(reg)
	f := New(discard(), exch, store, metrics)

	done := make(chan error, 1)
	go func() { done <- f.Submit(context.Background(), Credentials{"u@example.com", "x", "cap"}) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.State().Phase != PhaseSubmitting {
		if time.Now().After(deadline) {
			t.Fatalf("never reached submitting")
		}
		time.Sleep(time.Millisecond)
	}

	err := f.Submit(context.Background(), Credentials{"u@example.com", "x", "cap"})
	if !errors.Is(err, autherr.ErrBusy) {
		t.Fatalf("concurrent Submit err = %v, want ErrBusy", err)
	}
	if exch.callCount() != 1 {
		t.Fatalf("remote calls = %d, want 1", exch.callCount())
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Attempts().WithLabelValues("password", "success")); got != 1 {
		t.Fatalf("success metric = %v, want 1", got)
	}
}
