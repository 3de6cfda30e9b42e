package token

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestProtector_DevMode(t *testing.T) {
	p, err := NewProtector(nil)
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}
	if p.Keyed() {
		t.Fatalf("expected development mode")
	}

	if got, want := p.Digest("r1"), HashSHA256Hex("r1"); got != want {
		t.Fatalf("digest=%q want=%q", got, want)
	}

	sealed, err := p.Seal("r1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	v, err := p.Open(sealed)
	if err != nil || v != "r1" {
		t.Fatalf("Open=%q err=%v", v, err)
	}
}

func TestProtector_KeyedRoundTrip(t *testing.T) {
	p, err := NewProtector([]byte(testKey))
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	sealed, err := p.Seal("refresh-value")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "refresh-value") {
		t.Fatalf("sealed form leaks the value: %q", sealed)
	}

	again, _ := p.Seal("refresh-value")
	if again == sealed {
		t.Fatalf("expected random nonce per seal")
	}

	v, err := p.Open(sealed)
	if err != nil || v != "refresh-value" {
		t.Fatalf("Open=%q err=%v", v, err)
	}

	if len(p.Digest("refresh-value")) != 64 {
		t.Fatalf("digest must be 64 hex chars")
	}
	if p.Digest("refresh-value") == HashSHA256Hex("refresh-value") {
		t.Fatalf("keyed digest must differ from plain SHA-256")
	}
}

func TestProtector_OpenRejectsForeignKey(t *testing.T) {
	a, _ := NewProtector([]byte(testKey))
	b, _ := NewProtector([]byte(strings.Repeat("z", 32)))

	sealed, err := a.Seal("v")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b.Open(sealed); err != ErrSealed {
		t.Fatalf("expected ErrSealed, got %v", err)
	}

	dev, _ := NewProtector(nil)
	if _, err := dev.Open(sealed); err != ErrSealed {
		t.Fatalf("expected ErrSealed in dev mode, got %v", err)
	}
	if _, err := a.Open("x1.!!!"); err != ErrSealed {
		t.Fatalf("expected ErrSealed for garbage, got %v", err)
	}
}

func TestNewProtector_ShortKey(t *testing.T) {
	if _, err := NewProtector([]byte("short")); err != ErrKeyTooShort {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}
}

func TestProtectorFromEnv(t *testing.T) {
	t.Setenv(KeyEnv, "")
	p, err := ProtectorFromEnv()
	if err != nil || p.Keyed() {
		t.Fatalf("expected dev protector, keyed=%v err=%v", p.Keyed(), err)
	}

	t.Setenv(KeyEnv, "tiny")
	if _, err := ProtectorFromEnv(); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}

	t.Setenv(KeyEnv, "  "+testKey+"  ")
	p, err = ProtectorFromEnv()
	if err != nil || !p.Keyed() {
		t.Fatalf("expected keyed protector, err=%v", err)
	}
}
