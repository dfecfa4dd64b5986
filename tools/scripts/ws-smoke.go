// Package main provides a CI-friendly smoke test for a running Lexion shell.
//
// It validates:
//   - password sign-in over HTTP
//   - handshake + subprotocol selection on /ws/session
//   - the initial guard push (content)
//   - an explicit guard query
//   - the redirect push after sign-out
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "lexion/shared/contracts/shell/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:5173", "Shell base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "", "Account email")
		password = flag.String("password", os.Getenv("LEXION_SMOKE_PASSWORD"), "Account password (env LEXION_SMOKE_PASSWORD)")
		captcha  = flag.String("captcha", os.Getenv("LEXION_CAPTCHA_TOKEN"), "Anti-automation token (env LEXION_CAPTCHA_TOKEN)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := sessionSocketURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		fatalf("-email and -password are required")
	}

	root := context.Background()

	mustPost(root, *baseURL+"/auth/login", map[string]string{
		"email":           *email,
		"password":        *password,
		"recaptcha_token": *captcha,
	}, *timeout)

	c := mustConnect(root, wsURL, *origin, *timeout)
	defer closeWS(c.conn)

	first := c.mustReadGuard(root, *timeout)
	if first.Decision != "content" {
		fatalf("initial decision: got=%q want=content (status=%s)", first.Decision, first.Status)
	}
	if *verbose {
		fmt.Printf("connected: status=%s identity=%+v\n", first.Status, first.Identity)
	}

	query := v1.Envelope{V: v1.Version, Type: v1.TypeGuard, ID: "smoke-query", TS: time.Now().UTC()}
	mustWriteWithTimeout(root, c.conn, query, *timeout)
	if p := c.mustReadGuard(root, *timeout); p.Decision != "content" {
		fatalf("queried decision: got=%q want=content", p.Decision)
	}

	mustPost(root, *baseURL+"/auth/logout", nil, *timeout)

	after := c.mustReadGuard(root, *timeout)
	if after.Decision != "redirect" || after.Location == "" {
		fatalf("after logout: decision=%q location=%q", after.Decision, after.Location)
	}

	fmt.Printf("OK: signed in as %q, redirected to %s after logout\n", displayName(first.Identity), after.Location)
}

func sessionSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/session"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustPost(parent context.Context, target string, body any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, rd)
	if err != nil {
		fatalf("build request %s: %v", target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		fatalf("POST %s: status=%d body=%s", target, resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.SubprotocolSession},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.SubprotocolSession {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.SubprotocolSession)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, b, err := c.conn.Read(context.Background())
			if err != nil {
				c.errCh <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(b, &env); err != nil {
				c.errCh <- fmt.Errorf("bad envelope: %w", err)
				return
			}
			c.inbox <- env
		}
	}()
}

func (c *smokeClient) mustReadGuard(parent context.Context, stepTimeout time.Duration) v1.GuardPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", v1.TypeGuard, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", v1.TypeGuard, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", v1.TypeGuard)
			}
			switch env.Type {
			case v1.TypeGuard:
				var p v1.GuardPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					fatalf("unmarshal guard payload: %v", err)
				}
				return p
			case v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			default:
				fatalf("unexpected envelope type: got=%q want=%q", env.Type, v1.TypeGuard)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func displayName(id *v1.IdentityView) string {
	if id == nil {
		return ""
	}
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return id.Email
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
