package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records session outcomes. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	verifications *prometheus.CounterVec
	issues        *prometheus.CounterVec
	purged        prometheus.Counter
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "restroom",
				Subsystem: "session",
				Name:      "verifications_total",
				Help:      "Session verifications by outcome.",
			},
			[]string{"outcome"},
		),
		issues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "restroom",
				Subsystem: "session",
				Name:      "issues_total",
				Help:      "Signup and login attempts by operation and result.",
			},
			[]string{"op", "result"},
		),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restroom",
			Subsystem: "ledger",
			Name:      "purged_entries_total",
			Help:      "Expired ledger entries removed by the sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.verifications, m.issues, m.purged)
	}
	return m
}

func (m *Metrics) observeVerify(label string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(label).Inc()
}

func (m *Metrics) observeIssue(op, result string) {
	if m == nil {
		return
	}
	m.issues.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observePurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}
