// Package credstore provides session.CredentialStore backends.
//
// Backends: File (one file, written atomically with 0600 permissions), SQLite,
// Postgres and Memory. Sealed wraps any backend and encrypts the credential
// at rest with security/seal.
package credstore
