package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges expired ledger entries. Reads already ignore
// expired entries; the sweeper only reclaims storage.
type Sweeper struct {
	ledger   Ledger
	interval time.Duration
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewSweeper builds a Sweeper. A nil logger falls back to slog.Default.
func NewSweeper(ledger Ledger, interval time.Duration, log *slog.Logger, m *Metrics) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{ledger: ledger, interval: interval, log: log, metrics: m, now: time.Now}
}

// Run sweeps until ctx is cancelled. It always returns nil so a failed sweep
// never tears down the process.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single purge and logs the outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.ledger.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("ledger.purge.fail", "error", err)
		}
		return 0, err
	}
	s.metrics.observePurged(n)
	if n > 0 {
		s.log.Info("ledger.purge.ok", "purged", n)
	}
	return n, nil
}
