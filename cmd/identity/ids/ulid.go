// Package ids provides identifier primitives shared by the authentication flows.
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps attempt logs ordered.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewAttemptID returns an attempt identifier of the form "<method>_<ulid>".
// It never fails: on entropy errors it falls back to ulid.Make.
func NewAttemptID(method string, now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		id = ulid.Make().String()
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return id
	}
	return method + "_" + id
}

// ParseAttemptTime extracts the creation time encoded in an attempt ID.
func ParseAttemptTime(attemptID string) (time.Time, bool) {
	if i := strings.LastIndexByte(attemptID, '_'); i >= 0 {
		attemptID = attemptID[i+1:]
	}
	u, err := ulid.ParseStrict(attemptID)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
