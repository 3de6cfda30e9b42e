package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("clean-stall-42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "clean-stall-42")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("clean-stall-42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "dirty-stall-42")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestHash_SaltsEveryCall(t *testing.T) {
	cfg := fastConfig()

	a, err := cfg.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := cfg.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct hashes for identical input")
	}
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	cfg := fastConfig()

	raw, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := cfg.Verify(string(raw), "secret1")
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match, ok=%v err=%v", ok, err)
	}

	ok, err = cfg.Verify(string(raw), "secret2")
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, ok=%v err=%v", ok, err)
	}

	if !cfg.NeedsRehash(string(raw)) {
		t.Fatalf("bcrypt hashes must be flagged for rehash")
	}
}

func TestVerify_BcryptCostAboveLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.BcryptMaxCost = bcrypt.MinCost

	raw, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost+1)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := cfg.Verify(string(raw), "secret1"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestNeedsRehash_Argon2Params(t *testing.T) {
	weak := fastConfig()
	h, err := weak.Hash("clean-stall-42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if weak.NeedsRehash(h) {
		t.Fatalf("hash made with current params should not need rehash")
	}

	strong := weak
	strong.Params.Iterations = 2
	if !strong.NeedsRehash(h) {
		t.Fatalf("hash weaker than current params should need rehash")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidateChange(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.ValidateChange("same-one", "same-one"); err != ErrPasswordReused {
		t.Fatalf("expected ErrPasswordReused, got %v", err)
	}
	if err := cfg.ValidateChange("old-one", "abc"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.ValidateChange("old-one", "new-one"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := DefaultConfig()

	cases := []string{
		"not-a-hash",
		"$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=3,p=1$c2FsdA$aGFzaA",
		"$2b$99$invalid",
	}
	for _, in := range cases {
		ok, err := cfg.Verify(in, "whatever")
		if err != ErrInvalidHash {
			t.Fatalf("Verify(%q): expected ErrInvalidHash, got %v", in, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected false", in)
		}
	}
}

func TestVerify_RefusesOversizedParams(t *testing.T) {
	cfg := fastConfig()
	huge := "$argon2id$v=19$m=4194304,t=3,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA"

	if _, err := cfg.Verify(huge, "whatever"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true

	for _, weak := range []string{"password", "11111111", "aaaaaaa", "123456789", "Restroom"} {
		if err := cfg.Validate(weak); err != ErrWeakPassword {
			t.Fatalf("Validate(%q): expected ErrWeakPassword, got %v", weak, err)
		}
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}
