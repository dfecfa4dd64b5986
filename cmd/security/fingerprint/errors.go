package fingerprint

import "errors"

var (
	// ErrKeyMissing is returned when the fingerprint key is required but not configured.
	ErrKeyMissing = errors.New("fingerprint key missing")

	// ErrKeyTooShort is returned when the fingerprint key is shorter than the policy minimum.
	ErrKeyTooShort = errors.New("fingerprint key too short")
)
