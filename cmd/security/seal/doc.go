// Package seal encrypts small secrets at rest (the persisted session credential).
//
// A key is derived from a passphrase with Argon2id and the payload is sealed
// with XChaCha20-Poly1305. The sealed form is a self-describing string:
//
//	$lexseal$v=1$m=<KiB>,t=<iter>,p=<par>$<salt_b64>$<nonce_b64>$<ciphertext_b64>
//
// Parameters travel with the ciphertext, so tuning them never breaks old data.
package seal
