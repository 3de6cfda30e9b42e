// Package token protects refresh-token values at rest in the session ledger.
//
// A Protector produces two things from a token value:
//   - a Digest, a stable 64-char hex lookup key (HMAC-SHA256 under the ledger key,
//     plain SHA-256 when no key is configured);
//   - a Sealed form that can be opened back to the value so a live entry can be
//     handed out again on the next login (XChaCha20-Poly1305 under a key derived
//     from the ledger key; a tagged plaintext form when no key is configured).
//
// Environment:
//   - RESTROOM_LEDGER_KEY: enables keyed mode. Policy may require it (see app).
package token
