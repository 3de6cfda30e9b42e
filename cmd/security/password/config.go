package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak enables a minimal weak-pattern check.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy

	// BcryptMaxCost bounds the cost of legacy bcrypt hashes accepted by Verify.
	BcryptMaxCost int
}

// DefaultConfig returns the baseline used by the API.
// MinLength 6 matches the signup rule of the deployed mobile and web clients.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      6,
			MaxLength:      128,
			RejectVeryWeak: false,
		},
		BcryptMaxCost: 14,
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - RESTROOM_PASSWORD_MIN_LEN
//   - RESTROOM_PASSWORD_MAX_LEN
//   - RESTROOM_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - RESTROOM_ARGON2_MEMORY_KIB
//   - RESTROOM_ARGON2_ITERATIONS
//   - RESTROOM_ARGON2_PARALLELISM
//   - RESTROOM_ARGON2_SALT_LEN
//   - RESTROOM_ARGON2_KEY_LEN
//   - RESTROOM_BCRYPT_MAX_COST
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"RESTROOM_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"RESTROOM_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
		{"RESTROOM_BCRYPT_MAX_COST", 4, 31, &cfg.BcryptMaxCost},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := atoiRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	if v, ok := os.LookupEnv("RESTROOM_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("RESTROOM_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"RESTROOM_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"RESTROOM_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"RESTROOM_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"RESTROOM_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		u, err := atou32(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := os.LookupEnv("RESTROOM_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("RESTROOM_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
