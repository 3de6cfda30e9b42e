package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"restroom/cmd/internal/auth/session"
	"restroom/cmd/security/token"
)

// openLedger builds the refresh ledger selected by cfg. The returned closer
// releases resources the ledger owns; the Postgres pool stays with the caller.
func openLedger(ctx context.Context, cfg Config, pool *pgxpool.Pool, prot *token.Protector, log Logger) (session.Ledger, func() error, error) {
	nop := func() error { return nil }

	backend := cfg.ResolvedLedgerBackend()
	switch backend {
	case LedgerMemory:
		log.Info("ledger.backend", "backend", backend)
		return session.NewMemoryLedger(), nop, nil

	case LedgerPostgres:
		if pool == nil {
			return nil, nil, errors.New("ledger: postgres backend needs a database pool")
		}
		log.Info("ledger.backend", "backend", backend)
		return session.NewPostgresLedger(pool, prot), nop, nil

	case LedgerRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ledger: ping redis: %w", err)
		}
		log.Info("ledger.backend", "backend", backend, "prefix", cfg.RedisPrefix)
		return session.NewRedisLedger(rdb, prot, cfg.RedisPrefix), rdb.Close, nil

	case LedgerSQLite:
		l, err := session.OpenSQLiteLedger(ctx, cfg.SQLitePath, prot)
		if err != nil {
			return nil, nil, err
		}
		log.Info("ledger.backend", "backend", backend, "path", cfg.SQLitePath)
		return l, l.Close, nil
	}
	return nil, nil, fmt.Errorf("ledger: unknown backend %q", backend)
}
