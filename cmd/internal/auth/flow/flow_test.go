package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"lexion/cmd/internal/auth/autherr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{autherr.New("x", autherr.ErrCancelled, ""), OutcomeCancelled},
		{fmt.Errorf("wrapped: %w", context.Canceled), OutcomeCancelled},
		{autherr.New("x", autherr.ErrNoMatch, ""), OutcomeNoMatch},
		{autherr.Local("x", "empty"), OutcomeLocal},
		{autherr.New("x", autherr.ErrDeviceAccess, ""), OutcomeDevice},
		{autherr.New("x", autherr.ErrTransient, ""), OutcomeTransient},
		{autherr.New("x", autherr.ErrAuthorizationDenied, ""), OutcomeRejected},
		{autherr.New("x", autherr.ErrRejected, ""), OutcomeRejected},
		{errors.New("other"), OutcomeError},
	}
	for _, tc := range cases {
		if got := OutcomeOf(tc.err); got != tc.want {
			t.Fatalf("OutcomeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Observe(MethodPassword, OutcomeSuccess, time.Now().Add(-time.Second))
	m.Observe(MethodPassword, OutcomeSuccess, time.Now())
	m.Observe(MethodQR, OutcomeLocal, time.Time{})

	if got := testutil.ToFloat64(m.Attempts().WithLabelValues("password", "success")); got != 2 {
		t.Fatalf("password/success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Attempts().WithLabelValues("qr", "local_validation")); got != 1 {
		t.Fatalf("qr/local_validation = %v, want 1", got)
	}

	expected := `
# HELP lexion_auth_attempts_total Credential acquisition attempts by method and outcome.
# TYPE lexion_auth_attempts_total counter
lexion_auth_attempts_total{method="password",outcome="success"} 2
lexion_auth_attempts_total{method="qr",outcome="local_validation"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "lexion_auth_attempts_total"); err != nil {
		t.Fatalf("GatherAndCompare: %v", err)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Observe(MethodFacial, OutcomeSuccess, time.Now())
	if m.Attempts() != nil {
		t.Fatalf("nil metrics returned a counter")
	}
}

func TestNewAttempt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a := NewAttempt(MethodFacial, now)
	if a.Method != MethodFacial || !a.StartedAt.Equal(now) {
		t.Fatalf("unexpected attempt: %+v", a)
	}
	if !strings.HasPrefix(a.ID, "facial_") {
		t.Fatalf("ID = %q, want facial_ prefix", a.ID)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LEXION_QR_FRAME_INTERVAL", "100ms")
	t.Setenv("LEXION_QR_RETRY_DELAY", "2s")
	t.Setenv("LEXION_FACIAL_ABORT_ON_CANCEL", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.QRFrameInterval != 100*time.Millisecond || cfg.QRRetryDelay != 2*time.Second || !cfg.FacialAbortOnCancel {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.CameraWidth != 640 || cfg.CameraHeight != 480 {
		t.Fatalf("camera defaults not applied: %+v", cfg)
	}

	t.Setenv("LEXION_QR_RETRY_DELAY", "0s")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected validation error")
	}

	t.Setenv("LEXION_QR_RETRY_DELAY", "soon")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig invalid: %v", err)
	}
}
