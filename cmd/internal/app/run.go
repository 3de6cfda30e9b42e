package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"restroom/cmd/internal/auth/session"
)

// Serve loads configuration, builds the App and runs it until SIGINT or
// SIGTERM. It returns an error instead of calling os.Exit so defers run.
func Serve(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}

// MigrateDatabase applies the embedded schema to cfg.DatabaseURL.
func MigrateDatabase(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: RESTROOM_DATABASE_URL is not set")
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("db.migrate.ok")
	return nil
}

// PurgeLedger runs one expiry sweep against the configured ledger backend and
// returns the number of entries removed. Token secrets are not needed.
func PurgeLedger(ctx context.Context, cfg Config, log Logger) (int64, error) {
	prot, err := ledgerProtector(cfg)
	if err != nil {
		return 0, err
	}

	a := &App{cfg: cfg, log: log}
	defer func() { _ = a.Close() }()

	if cfg.ResolvedLedgerBackend() == LedgerPostgres {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return 0, err
		}
	}
	if a.ledger, a.closeLedger, err = openLedger(ctx, cfg, a.pool, prot, log); err != nil {
		return 0, err
	}

	return session.NewSweeper(a.ledger, 0, log, nil).SweepOnce(ctx)
}
