package session

import (
	"strings"
	"testing"
	"time"

	"restroom/cmd/identity"
	"restroom/cmd/security/password"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte(strings.Repeat("a", MinSecretBytes))
	cfg.RefreshSecret = []byte(strings.Repeat("r", MinSecretBytes))
	return cfg
}

func mustCodec(t *testing.T) *Codec {
	t.Helper()

	c, err := NewCodec(testConfig())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func mustHasher(t *testing.T) *identity.Hasher {
	t.Helper()

	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1

	h, err := identity.NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func userSubject() identity.Subject {
	return identity.Subject{ID: "01JNQ0000000000000000000US", Email: "user@example.com", Role: identity.RoleUser}
}
