// Package password hashes and verifies principal passwords.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Hashes imported from the previous Node deployment are bcrypt ($2a$/$2b$/$2y$).
// They still verify, and NeedsRehash reports them so callers can upgrade the
// stored hash after a successful login.
//
// Stored hashes are untrusted input: Verify refuses parameters far above the
// configured cost to bound CPU and memory per attempt.
package password
