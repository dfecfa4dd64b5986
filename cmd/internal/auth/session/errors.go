package session

import "errors"

var (
	// ErrNoCredential is returned by CredentialStore.Load when nothing is persisted.
	ErrNoCredential = errors.New("no persisted credential")

	// ErrAlreadyRestored is returned when Restore is called more than once.
	ErrAlreadyRestored = errors.New("session already restored")
)
