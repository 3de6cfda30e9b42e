package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ledger backends accepted by Config.LedgerBackend.
const (
	LedgerAuto     = "auto"
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerSQLite   = "sqlite"
)

// Config contains the process configuration. Values come from defaults, then
// an optional YAML file, then RESTROOM_* environment variables. Token secrets
// are never read from YAML; see session.LoadConfigFromEnv.
type Config struct {
	Env       string `yaml:"env"`
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	DatabaseURL    string `yaml:"database_url"`
	DBMaxConns     int32  `yaml:"db_max_conns"`
	DBMinConns     int32  `yaml:"db_min_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured
	// and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	LedgerBackend string `yaml:"ledger_backend"`
	RedisURL      string `yaml:"redis_url"`
	RedisPrefix   string `yaml:"redis_prefix"`
	SQLitePath    string `yaml:"sqlite_path"`

	// RequireLedgerKey refuses to start unless RESTROOM_LEDGER_KEY is set,
	// so stored refresh tokens are always sealed.
	RequireLedgerKey bool `yaml:"require_ledger_key"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Env:       "production",
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,

		DBMaxConns: 10,

		LedgerBackend: LedgerAuto,
		RedisPrefix:   "restroom:ledger:",

		CORSAllowedOrigins:   []string{"http://localhost:5173"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}
}

// LoadConfig builds a Config. path may be empty, in which case only defaults
// and the environment apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Env = EnvString("RESTROOM_ENV", cfg.Env)
	cfg.HTTPAddr = EnvString("RESTROOM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("RESTROOM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("RESTROOM_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("RESTROOM_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("RESTROOM_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("RESTROOM_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("RESTROOM_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("RESTROOM_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	cfg.ShutdownTimeout = EnvDuration("RESTROOM_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.DatabaseURL = EnvString("RESTROOM_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("RESTROOM_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("RESTROOM_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.MigrateOnStart = EnvBool("RESTROOM_MIGRATE_ON_START", cfg.MigrateOnStart)
	cfg.ReadinessRequireDB = EnvBool("RESTROOM_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)

	cfg.LedgerBackend = EnvString("RESTROOM_LEDGER_BACKEND", cfg.LedgerBackend)
	cfg.RedisURL = EnvString("RESTROOM_REDIS_URL", cfg.RedisURL)
	cfg.RedisPrefix = EnvString("RESTROOM_REDIS_PREFIX", cfg.RedisPrefix)
	cfg.SQLitePath = EnvString("RESTROOM_SQLITE_PATH", cfg.SQLitePath)
	cfg.RequireLedgerKey = EnvBool("RESTROOM_REQUIRE_LEDGER_KEY", cfg.RequireLedgerKey)

	cfg.CORSAllowedOrigins = EnvCSV("RESTROOM_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.CORSAllowCredentials = EnvBool("RESTROOM_CORS_ALLOW_CREDENTIALS", cfg.CORSAllowCredentials)
	cfg.CORSMaxAgeSeconds = EnvInt("RESTROOM_CORS_MAX_AGE_SECONDS", cfg.CORSMaxAgeSeconds)
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, "http_addr is required")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Sprintf("log_format %q must be json or pretty", c.LogFormat))
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		errs = append(errs, "db_min_conns exceeds db_max_conns")
	}

	switch c.ledgerBackend() {
	case LedgerAuto, LedgerMemory:
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "ledger_backend postgres requires database_url")
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			errs = append(errs, "ledger_backend redis requires redis_url")
		}
	case LedgerSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "ledger_backend sqlite requires sqlite_path")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown ledger_backend %q", c.LedgerBackend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ResolvedLedgerBackend returns the concrete backend "auto" selects:
// redis, then postgres, then sqlite, then memory.
func (c Config) ResolvedLedgerBackend() string {
	b := c.ledgerBackend()
	if b != LedgerAuto {
		return b
	}
	switch {
	case c.RedisURL != "":
		return LedgerRedis
	case c.DatabaseURL != "":
		return LedgerPostgres
	case c.SQLitePath != "":
		return LedgerSQLite
	default:
		return LedgerMemory
	}
}

func (c Config) ledgerBackend() string {
	b := strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	if b == "" {
		return LedgerAuto
	}
	return b
}
