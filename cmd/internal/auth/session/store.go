package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/security/fingerprint"
)

// Store is the Session Store. The zero value is not usable; use NewStore.
type Store struct {
	log     *slog.Logger
	creds   CredentialStore
	fetcher IdentityFetcher

	// writeMu serializes writers so in-memory state and persistence are applied
	// in the same order. It is never held while fetching identity.
	writeMu sync.Mutex

	mu       sync.Mutex
	state    Snapshot
	gen      uint64
	restored bool
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewStore returns a store in status uninitialized.
func NewStore(log *slog.Logger, creds CredentialStore, fetcher IdentityFetcher) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:     log,
		creds:   creds,
		fetcher: fetcher,
		state:   Snapshot{Status: StatusUninitialized},
		subs:    make(map[int]chan Snapshot),
	}
}

// Restore resolves the persisted credential into a session. It runs once.
//
// No persisted credential: unauthenticated, no remote call.
// Fetch denied: unauthenticated and the persisted credential is erased.
// Any other fetch failure: unauthenticated, persisted credential kept.
//
// If Establish or Clear runs while Restore is in progress, the newer
// transition wins and Restore's result is dropped.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return ErrAlreadyRestored
	}
	s.restored = true
	if s.state.Status != StatusUninitialized {
		s.mu.Unlock()
		return nil
	}
	g0 := s.gen
	s.mu.Unlock()

	cred, err := s.creds.Load(ctx)
	cred = strings.TrimSpace(cred)
	if errors.Is(err, ErrNoCredential) || (err == nil && cred == "") {
		s.applyIf(g0, Snapshot{Status: StatusUnauthenticated}, "no_credential")
		return nil
	}
	if err != nil {
		s.log.Warn("session.restore.load.fail", "err", err)
		s.applyIf(g0, Snapshot{Status: StatusUnauthenticated}, "load_failed")
		return fmt.Errorf("session: load credential: %w", err)
	}

	g1, ok := s.applyIf(g0, Snapshot{Status: StatusRestoring, Credential: cred}, "credential_found")
	if !ok {
		return nil
	}

	ident, err := s.fetcher.FetchIdentity(ctx, cred)
	switch {
	case err == nil:
		if ident.ID == 0 {
			s.log.Warn("session.restore.identity.invalid", "credential_fp", fingerprint.Credential(cred))
			s.applyIf(g1, Snapshot{Status: StatusUnauthenticated}, "identity_invalid")
			return autherr.New("session.Restore", autherr.ErrTransient, "identity without id")
		}
		s.applyIf(g1, Snapshot{Status: StatusAuthenticated, Credential: cred, Identity: ident.clone()}, "identity_confirmed")
		return nil

	case autherr.IsAuthorizationDenied(err):
		s.log.Info("session.restore.denied", "credential_fp", fingerprint.Credential(cred), "err", err)
		return s.eraseIf(ctx, g1)

	default:
		s.log.Warn("session.restore.transient", "credential_fp", fingerprint.Credential(cred), "err", err)
		s.applyIf(g1, Snapshot{Status: StatusUnauthenticated}, "verify_deferred")
		return nil
	}
}

// Establish installs a credential and identity confirmed by an acquisition flow.
//
// The identity is taken as supplied; there is no refetch. In-memory state is
// authenticated before persistence is attempted and a persistence failure does
// not roll it back.
func (s *Store) Establish(ctx context.Context, credential string, identity Identity) error {
	const op = "session.Establish"

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return autherr.New(op, autherr.ErrLocalValidation, "empty credential")
	}
	if identity.ID == 0 {
		return autherr.New(op, autherr.ErrLocalValidation, "identity without id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.transitionLocked(Snapshot{
		Status:     StatusAuthenticated,
		Credential: credential,
		Identity:   identity.clone(),
	}, "established")
	s.mu.Unlock()

	if err := s.creds.Save(ctx, credential); err != nil {
		s.log.Error("session.persist.fail", "op", op, "err", err)
		return fmt.Errorf("%s: persist credential: %w", op, err)
	}
	return nil
}

// Clear ends the session and erases the persisted credential unconditionally.
func (s *Store) Clear(ctx context.Context) error {
	const op = "session.Clear"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.transitionLocked(Snapshot{Status: StatusUnauthenticated}, "cleared")
	s.mu.Unlock()

	if err := s.creds.Delete(ctx); err != nil && !errors.Is(err, ErrNoCredential) {
		s.log.Error("session.persist.fail", "op", op, "err", err)
		return fmt.Errorf("%s: delete credential: %w", op, err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Status returns the current status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// Subscribe returns a channel that always holds the latest snapshot.
//
// The current snapshot is delivered immediately. Slow readers miss
// intermediate snapshots but never the latest one. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.copyLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// applyIf transitions only when no other transition happened since gen.
// It returns the new generation and whether the transition was applied.
func (s *Store) applyIf(gen uint64, next Snapshot, reason string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		s.log.Debug("session.restore.superseded", "reason", reason)
		return s.gen, false
	}
	s.transitionLocked(next, reason)
	return s.gen, true
}

// eraseIf resolves a denied restore: unauthenticated plus credential deletion,
// unless a newer transition superseded the restore.
func (s *Store) eraseIf(ctx context.Context, gen uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.applyIf(gen, Snapshot{Status: StatusUnauthenticated}, "credential_denied"); !ok {
		return nil
	}
	if err := s.creds.Delete(ctx); err != nil && !errors.Is(err, ErrNoCredential) {
		s.log.Error("session.persist.fail", "op", "session.Restore", "err", err)
		return fmt.Errorf("session: erase denied credential: %w", err)
	}
	return nil
}

func (s *Store) transitionLocked(next Snapshot, reason string) {
	from := s.state.Status
	s.state = next
	s.gen++

	s.log.Info("session.transition",
		"from", from.String(),
		"to", next.Status.String(),
		"reason", reason,
		"credential_fp", fingerprint.Credential(next.Credential),
	)

	snap := s.copyLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Store) copyLocked() Snapshot {
	out := Snapshot{Status: s.state.Status, Credential: s.state.Credential}
	if s.state.Identity != nil {
		out.Identity = s.state.Identity.clone()
	}
	return out
}
