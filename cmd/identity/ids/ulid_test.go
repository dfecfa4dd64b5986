package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewULID_Length(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len = %d, want 26", len(id))
	}
}

func TestNewAttemptID_PrefixAndTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewAttemptID(" Facial ", now)

	if !strings.HasPrefix(id, "facial_") {
		t.Fatalf("id = %q, want facial_ prefix", id)
	}
	got, ok := ParseAttemptTime(id)
	if !ok {
		t.Fatalf("ParseAttemptTime(%q) failed", id)
	}
	if !got.Equal(now) {
		t.Fatalf("time = %v, want %v", got, now)
	}
}

func TestNewAttemptID_Unique(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		id := NewAttemptID("qr", now)
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestParseAttemptTime_Invalid(t *testing.T) {
	t.Parallel()

	if _, ok := ParseAttemptTime("password_not-a-ulid"); ok {
		t.Fatalf("expected parse failure")
	}
}
