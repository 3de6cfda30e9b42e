package identity

import (
	"errors"

	"restroom/cmd/security/password"
)

// Hasher is the credential verifier used by the session issuer.
// It delegates to security/password so hashing never drifts from its config.
type Hasher struct {
	cfg   password.Config
	dummy string
}

// NewHasher builds a Hasher and precomputes a dummy hash used to equalize
// timing when a login names an unknown principal.
func NewHasher(cfg password.Config) (*Hasher, error) {
	h := &Hasher{cfg: cfg}

	// The dummy must pass policy, whatever the configured minimum is.
	dummyCfg := cfg
	dummyCfg.Policy.MinLength = 1
	dummyCfg.Policy.RejectVeryWeak = false
	dummy, err := dummyCfg.Hash("timing-equalizer-not-a-password")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// NewHasherFromEnv builds a Hasher from password.FromEnv.
func NewHasherFromEnv() (*Hasher, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	return NewHasher(cfg)
}

// Policy returns the password policy enforced by HashPassword.
func (h *Hasher) Policy() password.Policy { return h.cfg.Policy }

// HashPassword validates plain against the policy and hashes it.
func (h *Hasher) HashPassword(plain string) (string, error) {
	const op = "identity.HashPassword"

	enc, err := h.cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", invalid(op, err.Error())
		default:
			return "", err
		}
	}
	return enc, nil
}

// ValidateChange checks next as a replacement for current.
func (h *Hasher) ValidateChange(current, next string) error {
	if err := h.cfg.ValidateChange(current, next); err != nil {
		return invalid("identity.ValidateChange", err.Error())
	}
	return nil
}

// VerifyPassword reports whether plain matches hash. A malformed stored hash
// is a mismatch, never a distinguishable error.
func (h *Hasher) VerifyPassword(plain, hash string) bool {
	ok, err := h.cfg.Verify(hash, plain)
	return err == nil && ok
}

// VerifyDummy burns the same work as VerifyPassword for an unknown principal.
func (h *Hasher) VerifyDummy(plain string) {
	_, _ = h.cfg.Verify(h.dummy, plain)
}

// NeedsRehash reports whether a verified hash should be upgraded.
func (h *Hasher) NeedsRehash(hash string) bool { return h.cfg.NeedsRehash(hash) }
