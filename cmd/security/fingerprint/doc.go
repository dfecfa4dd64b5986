// Package fingerprint derives short, non-reversible fingerprints of credentials.
//
// Credentials are bearer tokens and must never appear in logs. Log lines carry a
// fingerprint instead so two events about the same credential can be correlated.
//
// When LEXION_FINGERPRINT_KEY is set, fingerprints are HMAC-SHA256 based; otherwise
// plain SHA-256 is used.
package fingerprint
