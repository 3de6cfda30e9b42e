// Package app wires the restroom server runtime: config, logging, the
// identity store, the refresh ledger, HTTP routes and the sensor feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/api"
	"restroom/cmd/internal/auth/session"
	"restroom/cmd/internal/realtime"
)

// App owns the server's long-lived resources.
type App struct {
	cfg Config
	log Logger

	pool        *pgxpool.Pool
	ledger      session.Ledger
	closeLedger func() error
	sweeper     *session.Sweeper

	registry *prometheus.Registry
	handler  http.Handler
}

// New constructs a fully wired App. Resources opened before a failure are
// released before New returns.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sec, err := loadSecurity(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: newRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		a.pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err = Migrate(ctx, a.pool); err != nil {
				return nil, err
			}
			log.Info("db.migrate.ok")
		}
	}

	var store identity.Store
	var auditor api.Auditor
	if a.pool != nil {
		pg, perr := identity.NewPostgresStore(a.pool)
		if perr != nil {
			return nil, perr
		}
		store = pg
		auditor = api.NewPostgresAuditor(a.pool)
		log.Info("identity.store", "backend", "postgres")
	} else {
		store = identity.NewMemoryStore()
		log.Warn("identity.store", "backend", "memory")
	}

	a.ledger, a.closeLedger, err = openLedger(ctx, cfg, a.pool, sec.protector, log)
	if err != nil {
		return nil, err
	}

	hasher, err := identity.NewHasherFromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	codec, err := session.NewCodec(sec.session)
	if err != nil {
		return nil, err
	}

	metrics := session.NewMetrics(a.registry)
	issuer := session.NewIssuer(store, hasher, codec, a.ledger, log, metrics)
	verifier := session.NewVerifier(codec, a.ledger, metrics)
	a.sweeper = session.NewSweeper(a.ledger, sec.session.SweepInterval, log, metrics)

	authCfg := api.LoadConfigFromEnv()
	authCfg.Development = api.IsDevelopment(cfg.Env)
	auth, err := api.NewHandler(log, authCfg, api.Deps{
		Store:    store,
		Hasher:   hasher,
		Issuer:   issuer,
		Verifier: verifier,
		Auditor:  auditor,
	})
	if err != nil {
		return nil, err
	}
	ws := realtime.NewWSGateway(log, nil, store)

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, a.pool, a.registry, auth, ws)
	a.handler = buildHandler(mux, cfg, log, newHTTPMetrics(a.registry))

	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and sweeps the ledger until ctx is cancelled or the server
// fails, then shuts down gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", wsBaseURL(base)+"/ws/sensors",
		"db_enabled", a.pool != nil,
		"ledger", a.cfg.ResolvedLedgerBackend(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return a.sweeper.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// Close releases the ledger and the database pool. It is safe to call more
// than once.
func (a *App) Close() error {
	var err error
	if a.closeLedger != nil {
		err = a.closeLedger()
		a.closeLedger = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
