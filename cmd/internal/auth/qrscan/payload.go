package qrscan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lexion/cmd/internal/auth/autherr"
)

var (
	// ErrWrongQRType is returned for a bare numeric code, which is a user id
	// printed on the card rather than the access code.
	ErrWrongQRType = errors.New("qrscan: numeric code is not an access code")

	// ErrMalformed is returned when the payload is not a JSON object of the expected shape.
	ErrMalformed = errors.New("qrscan: malformed payload")

	// ErrMissingFields is returned when required keys are absent.
	ErrMissingFields = errors.New("qrscan: missing fields")

	// ErrExpired is returned when the payload's expiry is in the past.
	ErrExpired = errors.New("qrscan: payload expired")
)

const (
	msgWrongType = "This looks like an ID number, not an access code. Scan the QR code printed on your credential."
	msgMalformed = "This QR code is not a valid access code."
	msgExpired   = "This QR code has expired. Generate a new one."
)

// Wire keys of the credential card payload, in the order they are reported.
var requiredKeys = []string{"usuario_id", "token", "timestamp", "expira", "tipo"}

// Payload is a structurally valid access code.
type Payload struct {
	SubjectID string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Purpose   string
}

// ValidatePayload checks raw without any remote call. Every failure is an
// autherr.ErrLocalValidation carrying a user-safe message and one of the
// sentinels above.
func ValidatePayload(raw string, now time.Time) (Payload, error) {
	const op = "qrscan.ValidatePayload"

	s := strings.TrimSpace(raw)
	if isDigits(s) {
		return Payload{}, reject(op, ErrWrongQRType, msgWrongType)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil || fields == nil {
		return Payload{}, reject(op, ErrMalformed, msgMalformed)
	}

	var missing []string
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		list := strings.Join(missing, ", ")
		return Payload{}, reject(op, fmt.Errorf("%w: %s", ErrMissingFields, list),
			"This QR code is incomplete. Missing: "+list+".")
	}

	var (
		p   Payload
		err error
	)
	if p.SubjectID, err = scalarString(fields["usuario_id"]); err != nil {
		return Payload{}, reject(op, fmt.Errorf("%w: usuario_id: %v", ErrMalformed, err), msgMalformed)
	}
	if p.Token, err = scalarString(fields["token"]); err != nil {
		return Payload{}, reject(op, fmt.Errorf("%w: token: %v", ErrMalformed, err), msgMalformed)
	}
	if p.Purpose, err = scalarString(fields["tipo"]); err != nil {
		return Payload{}, reject(op, fmt.Errorf("%w: tipo: %v", ErrMalformed, err), msgMalformed)
	}
	if p.IssuedAt, err = parseTimestamp(fields["timestamp"]); err != nil {
		return Payload{}, reject(op, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err), msgMalformed)
	}
	if p.ExpiresAt, err = parseTimestamp(fields["expira"]); err != nil {
		return Payload{}, reject(op, fmt.Errorf("%w: expira: %v", ErrMalformed, err), msgMalformed)
	}

	if now.After(p.ExpiresAt) {
		return Payload{}, reject(op, ErrExpired, msgExpired)
	}
	return p, nil
}

func reject(op string, cause error, userMsg string) error {
	return autherr.Wrap(op, autherr.ErrLocalValidation, cause).WithUser(userMsg)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// scalarString accepts a JSON string or number.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("null")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.New("not a string or number")
	}
	return n.String(), nil
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339, zone-less ISO 8601 (read as UTC) and
// epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s, err := scalarString(raw)
	if err != nil {
		return time.Time{}, err
	}
	if isDigits(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
