// Package guard gates protected views on the Session Store state.
//
// The decision is recomputed from the live status on every request and on
// every status transition; nothing is cached across transitions.
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"lexion/cmd/internal/auth/session"
	"lexion/cmd/internal/httpx"
)

// Decision is what a protected view should do.
type Decision uint8

const (
	DecisionLoading Decision = iota
	DecisionRedirect
	DecisionContent
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirect:
		return "redirect"
	case DecisionContent:
		return "content"
	default:
		return "unknown"
	}
}

// MarshalText renders the decision name in JSON payloads.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Decide maps a session status to a decision. Unknown statuses fail closed.
func Decide(st session.Status) Decision {
	switch st {
	case session.StatusUninitialized, session.StatusRestoring:
		return DecisionLoading
	case session.StatusAuthenticated:
		return DecisionContent
	default:
		return DecisionRedirect
	}
}

// Source is the read side of the Session Store.
type Source interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

// Guard wraps protected handlers.
type Guard struct {
	src       Source
	entryPath string
	log       *slog.Logger
}

// New returns a guard redirecting to entryPath (default "/login").
func New(src Source, entryPath string, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	entryPath = strings.TrimSpace(entryPath)
	if entryPath == "" {
		entryPath = "/login"
	}
	return &Guard{src: src, entryPath: entryPath, log: log}
}

// EntryPath returns the redirect target.
func (g *Guard) EntryPath() string { return g.entryPath }

// Evaluate returns the decision for the current snapshot.
func (g *Guard) Evaluate() (Decision, session.Snapshot) {
	snap := g.src.Snapshot()
	d := Decide(snap.Status)
	// A content decision without a full pair would be a store bug; fail closed.
	if d == DecisionContent && !snap.Authenticated() {
		d = DecisionRedirect
	}
	return d, snap
}

type decisionBody struct {
	Decision Decision       `json:"decision"`
	Status   session.Status `json:"status"`
	Location string         `json:"location,omitempty"`
}

// Wrap gates next behind the current decision.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, snap := g.Evaluate()

		switch d {
		case DecisionContent:
			ctx := withIdentity(r.Context(), *snap.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))

		case DecisionLoading:
			w.Header().Set("Retry-After", "1")
			httpx.WriteJSON(w, http.StatusServiceUnavailable, decisionBody{Decision: d, Status: snap.Status})

		default:
			g.log.Debug("guard.redirect", "path", r.URL.Path, "status", snap.Status.String())
			if httpx.WantsJSON(r) {
				httpx.WriteJSON(w, http.StatusUnauthorized, decisionBody{
					Decision: d,
					Status:   snap.Status,
					Location: g.entryPath,
				})
				return
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, g.entryPath, http.StatusSeeOther)
		}
	})
}

// Watch calls fn with the current decision, then again after every status
// transition, until ctx is done. fn runs on the calling goroutine.
func (g *Guard) Watch(ctx context.Context, fn func(Decision, session.Snapshot)) {
	ch, unsubscribe := g.src.Subscribe()
	defer unsubscribe()

	var last session.Status
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if !first && snap.Status == last && snap.Status != session.StatusAuthenticated {
				continue
			}
			first = false
			last = snap.Status

			d := Decide(snap.Status)
			if d == DecisionContent && !snap.Authenticated() {
				d = DecisionRedirect
			}
			fn(d, snap)
		}
	}
}

type identityKey struct{}

func withIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity admitted by Wrap.
func IdentityFrom(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(session.Identity)
	return id, ok
}
