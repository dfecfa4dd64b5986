// Package lexapi is the HTTP client for the Lexion backend.
//
// It implements the remote collaborators consumed by the session store and the
// acquisition flows (identity fetch, password login, face match, QR exchange)
// plus the account, analyzer and credential card calls used by protected
// views. Every failure is classified into the autherr taxonomy:
//
//	401, 403          autherr.ErrAuthorizationDenied
//	other 4xx         autherr.ErrRejected
//	5xx, transport    autherr.ErrTransient
//
// A user-safe message is taken from the response's "detail" (when it is a
// string) or "mensaje" field. The client never sets a request timeout; calls
// are bounded only by their context.
package lexapi
