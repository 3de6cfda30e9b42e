package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func BenchmarkHash_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cfg.Hash("clean-stall-42"); err != nil {
			b.Fatalf("Hash error: %v", err)
		}
	}
}

func BenchmarkVerify_DefaultConfig(b *testing.B) {
	cfg := DefaultConfig()
	h, err := cfg.Hash("clean-stall-42")
	if err != nil {
		b.Fatalf("Hash error: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ok, err := cfg.Verify(h, "clean-stall-42")
		if err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}

func BenchmarkVerify_LegacyBcrypt(b *testing.B) {
	cfg := DefaultConfig()
	raw, err := bcrypt.GenerateFromPassword([]byte("clean-stall-42"), bcrypt.DefaultCost)
	if err != nil {
		b.Fatalf("bcrypt: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ok, err := cfg.Verify(string(raw), "clean-stall-42")
		if err != nil || !ok {
			b.Fatalf("Verify failed: ok=%v err=%v", ok, err)
		}
	}
}
