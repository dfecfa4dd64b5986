package app

import (
	"errors"
	"fmt"

	"lexion/cmd/security/fingerprint"
	"lexion/cmd/security/seal"
)

// minCredentialKeyBytes is the shortest accepted sealing passphrase.
const minCredentialKeyBytes = 16

// ValidateSecurityConfig enforces the credential-at-rest policy at startup.
//
// Fail-fast: with LEXION_REQUIRE_SEALED_CREDENTIAL=true there is no plaintext
// fallback, and the memory backend is refused because it never persists.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.CredentialKey != "" && len(cfg.CredentialKey) < minCredentialKeyBytes {
		return fmt.Errorf("security policy: LEXION_CREDENTIAL_KEY is too short (min %d bytes)", minCredentialKeyBytes)
	}

	if !cfg.RequireSealedCredential {
		return nil
	}
	if cfg.CredentialKey == "" {
		return errors.New("security policy: LEXION_REQUIRE_SEALED_CREDENTIAL=true but LEXION_CREDENTIAL_KEY is missing")
	}
	if cfg.CredentialStore == CredentialStoreMemory {
		return errors.New("security policy: LEXION_REQUIRE_SEALED_CREDENTIAL=true is meaningless with the memory store")
	}
	return nil
}

// validateFingerprintKey accepts an unset LEXION_FINGERPRINT_KEY (plain
// SHA-256 fingerprints) but refuses a short one.
func validateFingerprintKey() error {
	_, err := fingerprint.KeyFromEnv(minCredentialKeyBytes)
	if err == nil || errors.Is(err, fingerprint.ErrKeyMissing) {
		return nil
	}
	return fmt.Errorf("security policy: %s: %w", fingerprint.KeyEnv, err)
}

// newSealer returns nil when no key is configured.
func newSealer(cfg Config) (*seal.Sealer, error) {
	if cfg.CredentialKey == "" {
		return nil, nil
	}
	params, err := seal.ParamsFromEnv()
	if err != nil {
		return nil, err
	}
	s, err := seal.New(cfg.CredentialKey, params)
	if err != nil {
		return nil, fmt.Errorf("credential sealer: %w", err)
	}
	return s, nil
}
