package credstore

import "errors"

var (
	// ErrNotConfigured is returned when a store is used without its backing resource.
	ErrNotConfigured = errors.New("credential store is not configured")

	// ErrSealedWithoutKey is returned when a sealed credential is found but no key is configured.
	ErrSealedWithoutKey = errors.New("credential is sealed but no key is configured")

	// ErrUnsealedRejected is returned when policy requires sealing and a plaintext credential is found.
	ErrUnsealedRejected = errors.New("plaintext credential rejected by policy")
)
