package identity

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"restroom/cmd/security/password"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()

	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1

	h, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := testHasher(t)

	enc, err := h.HashPassword("mop-bucket-7")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !h.VerifyPassword("mop-bucket-7", enc) {
		t.Fatalf("expected match")
	}
	if h.VerifyPassword("mop-bucket-8", enc) {
		t.Fatalf("expected mismatch")
	}
	if h.VerifyPassword("mop-bucket-7", "garbage") {
		t.Fatalf("malformed hash must not verify")
	}
	if h.NeedsRehash(enc) {
		t.Fatalf("fresh hash should not need rehash")
	}
}

func TestHasher_PolicyViolationIsInvalidInput(t *testing.T) {
	h := testHasher(t)

	if _, err := h.HashPassword("abc"); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := h.ValidateChange("same-pass", "same-pass"); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for reuse, got %v", err)
	}
}

func TestHasher_LegacyBcryptVerifiesAndNeedsRehash(t *testing.T) {
	h := testHasher(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("old-secret"), 10)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if !h.VerifyPassword("old-secret", string(legacy)) {
		t.Fatalf("expected bcrypt hash to verify")
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatalf("bcrypt hash should need rehash")
	}
}

func TestHasher_VerifyDummyDoesNotPanic(t *testing.T) {
	h := testHasher(t)
	h.VerifyDummy("anything")
	h.VerifyDummy("")
}
