package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyEnv is the env var holding the ledger key.
	// #nosec G101 -- env var name, not a credential.
	KeyEnv = "RESTROOM_LEDGER_KEY"

	// MinKeyBytes is the minimum accepted ledger key size.
	MinKeyBytes = 32

	sealedPrefix = "x1."
	plainPrefix  = "p1."
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromEnv returns the trimmed ledger key, enforcing minBytes.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return nil, ErrKeyTooShort
	}
	return []byte(raw), nil
}

// Protector digests and seals ledger token values. The zero key selects
// development mode: SHA-256 digests and unencrypted sealed values.
type Protector struct {
	digestKey []byte
	sealKey   []byte
}

// NewProtector builds a Protector. An empty key selects development mode.
func NewProtector(key []byte) (*Protector, error) {
	if len(key) == 0 {
		return &Protector{}, nil
	}
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}

	// Independent subkeys for lookup and encryption.
	dk := hmac.New(sha256.New, key)
	_, _ = dk.Write([]byte("restroom/ledger/digest"))
	sk := hmac.New(sha256.New, key)
	_, _ = sk.Write([]byte("restroom/ledger/seal"))

	return &Protector{digestKey: dk.Sum(nil), sealKey: sk.Sum(nil)}, nil
}

// ProtectorFromEnv builds a Protector from RESTROOM_LEDGER_KEY, falling back
// to development mode when it is unset.
func ProtectorFromEnv() (*Protector, error) {
	key, err := KeyFromEnv(MinKeyBytes)
	if errors.Is(err, ErrKeyMissing) {
		return NewProtector(nil)
	}
	if err != nil {
		return nil, err
	}
	return NewProtector(key)
}

// Keyed reports whether the Protector runs with a ledger key.
func (p *Protector) Keyed() bool { return p != nil && len(p.sealKey) > 0 }

// Digest returns the lookup key for value.
func (p *Protector) Digest(value string) string {
	if !p.Keyed() {
		return HashSHA256Hex(value)
	}
	return HashHMACSHA256Hex(value, p.digestKey)
}

// Seal returns the at-rest form of value.
func (p *Protector) Seal(value string) (string, error) {
	if !p.Keyed() {
		return plainPrefix + value, nil
	}

	aead, err := chacha20poly1305.NewX(p.sealKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values sealed in development mode open in any mode.
func (p *Protector) Open(sealed string) (string, error) {
	if v, ok := strings.CutPrefix(sealed, plainPrefix); ok {
		return v, nil
	}
	enc, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok || !p.Keyed() {
		return "", ErrSealed
	}

	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", ErrSealed
	}
	aead, err := chacha20poly1305.NewX(p.sealKey)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrSealed
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrSealed
	}
	return string(pt), nil
}
