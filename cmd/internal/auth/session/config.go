package session

import (
	"os"
	"time"
)

// MinSecretBytes is the minimum length of each signing secret.
const MinSecretBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// AccessSecret and RefreshSecret sign the two token classes. They must
	// differ so that one class can never verify as the other.
	AccessSecret  []byte
	RefreshSecret []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew is the leeway applied to exp during verification.
	ClockSkew time.Duration

	// SweepInterval controls how often expired ledger entries are purged.
	SweepInterval time.Duration
}

// DefaultConfig returns defaults without secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:        "restroom",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    48 * time.Hour,
		ClockSkew:     0,
		SweepInterval: 10 * time.Minute,
	}
}

// Validate reports ErrConfig when cfg cannot be used to sign tokens.
func (c Config) Validate() error {
	if len(c.AccessSecret) < MinSecretBytes || len(c.RefreshSecret) < MinSecretBytes {
		return ErrConfig
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return ErrConfig
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.RefreshTTL < c.AccessTTL {
		return ErrConfig
	}
	if c.ClockSkew < 0 || c.SweepInterval <= 0 {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - RESTROOM_ACCESS_TOKEN_SECRET
//   - RESTROOM_REFRESH_TOKEN_SECRET
//
// Optional (Go duration strings):
//   - RESTROOM_AUTH_ISSUER
//   - RESTROOM_ACCESS_TOKEN_TTL
//   - RESTROOM_REFRESH_TOKEN_TTL
//   - RESTROOM_AUTH_CLOCK_SKEW
//   - RESTROOM_LEDGER_SWEEP_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("RESTROOM_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"RESTROOM_ACCESS_TOKEN_TTL", &cfg.AccessTTL, false},
		{"RESTROOM_REFRESH_TOKEN_TTL", &cfg.RefreshTTL, false},
		{"RESTROOM_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"RESTROOM_LEDGER_SWEEP_INTERVAL", &cfg.SweepInterval, false},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	cfg.AccessSecret = []byte(os.Getenv("RESTROOM_ACCESS_TOKEN_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("RESTROOM_REFRESH_TOKEN_SECRET"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
