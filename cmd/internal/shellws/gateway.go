// Package shellws pushes route guard decisions to open protected views over a
// websocket (subprotocol lexion.session.v1).
//
// On connect the view receives the current decision; afterwards every session
// transition produces a new guard envelope, so a logout in another view
// redirects this one immediately. A view may send a guard envelope to ask for
// the current decision again.
package shellws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"lexion/cmd/identity/ids"
	"lexion/cmd/internal/auth/guard"
	"lexion/cmd/internal/auth/session"
	v1 "lexion/shared/contracts/shell/v1"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
)

// Gateway is the websocket entry point for session updates.
type Gateway struct {
	log      *slog.Logger
	guard    *guard.Guard
	cfg      Config
	patterns []string
	clock    clockwork.Clock
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock replaces the real clock (tests).
func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// NewGateway returns a gateway over g.
func NewGateway(log *slog.Logger, g *guard.Guard, cfg Config, opts ...Option) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	gw := &Gateway{
		log:      log,
		guard:    g,
		cfg:      cfg,
		patterns: originPatterns(cfg.AllowedOrigins),
		clock:    clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(gw)
	}
	return gw
}

// ServeHTTP upgrades the request and streams guard decisions until the view
// disconnects or the request context ends.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.SubprotocolSession},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.SubprotocolSession {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.SubprotocolSession)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	connID, _ := ids.NewULID(g.clock.Now())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		writeMu   sync.Mutex
	)
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = conn.Close(code, reason)
			cancel()
		})
	}
	send := func(env v1.Envelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
			g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
			shutdown(websocket.StatusAbnormalClosure, "write failed")
		}
	}

	g.log.Info("ws.open", "conn_id", connID, "remote", r.RemoteAddr)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		g.guard.Watch(ctx, func(d guard.Decision, snap session.Snapshot) {
			send(g.guardEnvelope(d, snap))
		})
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, connID, shutdown)
	}()

	limiter := newEventLimiter(g.clock, g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				send(errorEnvelope("bad_json", "invalid JSON"))
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !limiter.allow() {
			send(errorEnvelope("rate_limited", "too many events"))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}
		if err := env.Validate(); err != nil {
			send(errorEnvelope("bad_envelope", err.Error()))
			continue readLoop
		}

		switch env.Type {
		case v1.TypeGuard:
			d, snap := g.guard.Evaluate()
			send(g.guardEnvelope(d, snap))
		default:
			send(errorEnvelope("unsupported", "unsupported type: "+env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-watchDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("ws.close", "conn_id", connID)
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, connID string, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) guardEnvelope(d guard.Decision, snap session.Snapshot) v1.Envelope {
	p := v1.GuardPayload{Decision: d.String(), Status: snap.Status.String()}
	switch d {
	case guard.DecisionRedirect:
		p.Location = g.guard.EntryPath()
	case guard.DecisionContent:
		p.Identity = &v1.IdentityView{
			ID:          snap.Identity.ID,
			DisplayName: snap.Identity.DisplayName,
			Email:       snap.Identity.Email,
			HasAvatar:   len(snap.Identity.Avatar) > 0,
		}
	}
	env, _ := v1.New(v1.TypeGuard, newEnvelopeID(), g.clock.Now(), p)
	return env
}

func errorEnvelope(code, msg string) v1.Envelope {
	env, _ := v1.New(v1.TypeError, newEnvelopeID(), time.Now(), v1.ErrorPayload{Code: code, Message: msg})
	return env
}

func newEnvelopeID() string {
	id, _ := ids.NewULID(time.Now())
	return id
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return v1.Envelope{}, errors.New("unsupported message type")
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, errBadJSON
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

var errBadJSON = errors.New("invalid JSON")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
