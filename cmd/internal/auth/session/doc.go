// Package session implements the client Session Store: the single owner of
// "am I logged in, and as whom".
//
// The store holds the credential and identity as one pair. Status is derived
// from that pair and is only ever authenticated when both are present; there is
// no setter that touches one without the other. Consumers read immutable
// snapshots or subscribe to transitions.
//
// Lifecycle:
//
//	uninitialized -> restoring -> authenticated | unauthenticated   (Restore)
//	any -> authenticated                                             (Establish)
//	any -> unauthenticated                                           (Clear)
//
// Persistence goes through CredentialStore; identity verification on startup
// goes through IdentityFetcher.
package session
