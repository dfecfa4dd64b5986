package fingerprint

import (
	"errors"
	"strings"
	"testing"
)

func TestCredential_EmptyStaysEmpty(t *testing.T) {
	if got := Credential("   "); got != "" {
		t.Fatalf("Credential(blank)=%q want empty", got)
	}
}

func TestCredential_StableAndShort(t *testing.T) {
	t.Setenv(KeyEnv, "")

	a := Credential("tok-1")
	b := Credential("tok-1")
	c := Credential("tok-2")

	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("different credentials share a fingerprint")
	}
	if len(a) != Length {
		t.Fatalf("len=%d want %d", len(a), Length)
	}
	if strings.Contains(a, "tok") {
		t.Fatalf("fingerprint leaks credential: %q", a)
	}
}

func TestCredential_KeyChangesFingerprint(t *testing.T) {
	t.Setenv(KeyEnv, "")
	plain := Credential("tok-1")

	t.Setenv(KeyEnv, strings.Repeat("k", 32))
	keyed := Credential("tok-1")

	if plain == keyed {
		t.Fatalf("expected HMAC fingerprint to differ from plain SHA-256")
	}
}

func TestKeyFromEnv(t *testing.T) {
	t.Setenv(KeyEnv, "")
	if _, err := KeyFromEnv(32); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}

	t.Setenv(KeyEnv, "short")
	if _, err := KeyFromEnv(32); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}

	t.Setenv(KeyEnv, strings.Repeat("x", 32))
	if _, err := KeyFromEnv(32); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
