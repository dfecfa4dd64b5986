package credstore

import (
	"context"
	"fmt"

	"lexion/cmd/internal/auth/session"
	"lexion/cmd/security/seal"
)

// Sealed encrypts credentials before handing them to the inner store.
//
// A nil sealer stores plaintext but still refuses to hand out a sealed value
// it cannot open. With RequireSealed, plaintext values found on Load are
// rejected.
type Sealed struct {
	inner         session.CredentialStore
	sealer        *seal.Sealer
	requireSealed bool
}

// NewSealed wraps inner.
func NewSealed(inner session.CredentialStore, sealer *seal.Sealer, requireSealed bool) *Sealed {
	return &Sealed{inner: inner, sealer: sealer, requireSealed: requireSealed}
}

func (s *Sealed) Load(ctx context.Context) (string, error) {
	raw, err := s.inner.Load(ctx)
	if err != nil {
		return "", err
	}

	if !seal.IsSealed(raw) {
		if s.requireSealed {
			return "", ErrUnsealedRejected
		}
		return raw, nil
	}
	if s.sealer == nil {
		return "", ErrSealedWithoutKey
	}

	pt, err := s.sealer.Open(raw)
	if err != nil {
		return "", fmt.Errorf("open sealed credential: %w", err)
	}
	return string(pt), nil
}

func (s *Sealed) Save(ctx context.Context, credential string) error {
	if s.sealer == nil {
		if s.requireSealed {
			return ErrSealedWithoutKey
		}
		return s.inner.Save(ctx, credential)
	}
	v, err := s.sealer.Seal([]byte(credential))
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, v)
}

func (s *Sealed) Delete(ctx context.Context) error {
	return s.inner.Delete(ctx)
}
