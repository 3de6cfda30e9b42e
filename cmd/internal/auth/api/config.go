package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// Development disables the Secure cookie attribute for plain-HTTP local
	// setups. It is derived from RESTROOM_ENV.
	Development bool

	CookieDomain string
	CookiePath   string

	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP token bucket for signup and login.
	AuthRatePerMinute int
	AuthBurst         int
	AuthLimiterTTL    time.Duration

	// AllowAdminSignup lets signup request role "admin".
	AllowAdminSignup bool
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		CookiePath:        "/",
		MaxBodyBytes:      1 << 20, // 1 MiB
		AuthRatePerMinute: 10,
		AuthBurst:         5,
		AuthLimiterTTL:    10 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		Development:       IsDevelopment(os.Getenv("RESTROOM_ENV")),
		CookieDomain:      strings.TrimSpace(os.Getenv("RESTROOM_COOKIE_DOMAIN")),
		CookiePath:        envString("RESTROOM_COOKIE_PATH", def.CookiePath),
		TrustProxy:        envBool("RESTROOM_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("RESTROOM_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		AuthRatePerMinute: envInt("RESTROOM_AUTH_RATE_PER_MINUTE", def.AuthRatePerMinute),
		AuthBurst:         envInt("RESTROOM_AUTH_RATE_BURST", def.AuthBurst),
		AuthLimiterTTL:    envDuration("RESTROOM_AUTH_RATE_TTL", def.AuthLimiterTTL),
		AllowAdminSignup:  envBool("RESTROOM_ALLOW_ADMIN_SIGNUP", false),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CookiePath == "" {
		c.CookiePath = def.CookiePath
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.AuthRatePerMinute <= 0 {
		c.AuthRatePerMinute = def.AuthRatePerMinute
	}
	if c.AuthBurst <= 0 {
		c.AuthBurst = def.AuthBurst
	}
	if c.AuthLimiterTTL <= 0 {
		c.AuthLimiterTTL = def.AuthLimiterTTL
	}
	return c
}

// IsDevelopment reports whether env names the development environment.
func IsDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		return true
	}
	return false
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
