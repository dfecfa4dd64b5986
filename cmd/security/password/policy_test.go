package password

import (
	"errors"
	"os"
	"testing"
)

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 6
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("secret123"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidate_CountsRunes(t *testing.T) {
	cfg := DefaultConfig()

	// Six runes, more than six bytes.
	if err := cfg.Validate("ñandú!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidatePair(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.ValidatePair("secret123", "secret124"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := cfg.ValidatePair("abc", "abc"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.ValidatePair("secret123", "secret123"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 6

	if err := cfg.Validate("password"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := cfg.Validate("111111"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	for _, pw := range []string{"abcdefgh", "987654321", "zzzzzzzz", "Contraseña"} {
		if err := cfg.Validate(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("%q: expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"LEXION_PASSWORD_MIN_LEN",
		"LEXION_PASSWORD_MAX_LEN",
		"LEXION_PASSWORD_REJECT_VERY_WEAK",
	} {
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("LEXION_PASSWORD_MIN_LEN", "10")
	t.Setenv("LEXION_PASSWORD_MAX_LEN", "200")
	t.Setenv("LEXION_PASSWORD_REJECT_VERY_WEAK", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("LEXION_PASSWORD_MIN_LEN", "300")
	t.Setenv("LEXION_PASSWORD_MAX_LEN", "200")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for min > max")
	}

	t.Setenv("LEXION_PASSWORD_MIN_LEN", "abc")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for non-integer")
	}

	t.Setenv("LEXION_PASSWORD_MIN_LEN", "0")
	t.Setenv("LEXION_PASSWORD_MAX_LEN", "20")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for a zero minimum")
	}
}
