package autherr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestOpError_IsMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	err := Wrap("lexapi.FetchIdentity", ErrTransient, io.ErrUnexpectedEOF)

	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("unexpected ErrAuthorizationDenied")
	}
}

func TestOpError_ErrorString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  *OpError
		want string
	}{
		{err: New("op", ErrNoMatch, ""), want: "op: no match"},
		{err: New("op", ErrRejected, "status 400"), want: "op: request rejected: status 400"},
		{err: Wrap("op", ErrTransient, errors.New("dial tcp")), want: "op: transient failure: dial tcp"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error()=%q want=%q", got, tc.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	base := New("lexapi.Login", ErrAuthorizationDenied, "status 401").WithUser("Credenciales incorrectas")
	wrapped := fmt.Errorf("password.Submit: %w", base)

	if got := UserMessage(wrapped, "fallback"); got != "Credenciales incorrectas" {
		t.Fatalf("UserMessage()=%q", got)
	}
	if got := UserMessage(New("op", ErrTransient, "status 502"), "fallback"); got != "fallback" {
		t.Fatalf("UserMessage()=%q want fallback", got)
	}
	if got := UserMessage(nil, "fallback"); got != "fallback" {
		t.Fatalf("UserMessage(nil)=%q", got)
	}
}

func TestUserMessage_FindsNestedCause(t *testing.T) {
	t.Parallel()

	inner := Local("qrscan.ValidatePayload", "QR expirado")
	outer := Wrap("qrscan.Run", ErrLocalValidation, inner)

	if got := UserMessage(outer, "fallback"); got != "QR expirado" {
		t.Fatalf("UserMessage()=%q", got)
	}
}
