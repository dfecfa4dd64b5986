package session

import (
	"context"
	"fmt"
)

// Status is the derived session status.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusRestoring
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusRestoring:
		return "restoring"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText renders the status name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the user-facing profile tied to a credential.
type Identity struct {
	ID          int64
	DisplayName string
	Email       string
	Avatar      []byte // optional, raw image bytes
}

func (i Identity) clone() *Identity {
	cp := i
	if i.Avatar != nil {
		cp.Avatar = append([]byte(nil), i.Avatar...)
	}
	return &cp
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Status     Status
	Credential string
	Identity   *Identity
}

// Authenticated reports whether the snapshot carries a full session.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Credential != "" && s.Identity != nil
}

// CredentialStore persists the credential across process restarts.
//
// Load returns ErrNoCredential when nothing is stored. Delete on an empty store
// is not an error.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, credential string) error
	Delete(ctx context.Context) error
}

// IdentityFetcher resolves the identity behind a credential.
//
// Failures must be classified with autherr.ErrAuthorizationDenied (credential is
// invalid) or autherr.ErrTransient (could not verify right now).
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, credential string) (Identity, error)
}
