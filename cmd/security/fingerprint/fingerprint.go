package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// KeyEnv is the env var name for the fingerprint HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "LEXION_FINGERPRINT_KEY"

	// Length is the number of hex characters kept in a fingerprint.
	Length = 12
)

// SHA256Hex returns a SHA-256 hex digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromEnv returns the configured key bytes (trimmed), enforcing a minimum byte length.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}

// Credential returns the log fingerprint of a credential.
// An empty credential yields an empty fingerprint so "absent" stays visible in logs.
func Credential(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}

	var sum string
	if key := strings.TrimSpace(os.Getenv(KeyEnv)); key != "" {
		sum = HMACSHA256Hex(credential, []byte(key))
	} else {
		sum = SHA256Hex(credential)
	}
	return sum[:Length]
}
