// Package password provides the local password policy applied before a new
// password ever leaves the client (recovery reset, profile password change).
//
// The server remains authoritative; this policy only prevents round trips that
// are certain to fail and gives immediate, user-safe feedback.
package password
