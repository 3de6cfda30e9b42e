package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions.
const (
	AuditSignup          = "auth.signup"
	AuditLoginSuccess    = "auth.login.success"
	AuditLoginFailed     = "auth.login.failed"
	AuditLoginLimited    = "auth.login.rate_limited"
	AuditLogout          = "auth.logout"
	AuditPasswordChanged = "auth.password.changed"
	AuditInspectorAdded  = "auth.inspector.created"
)

// AuditEvent is one audit trail record.
type AuditEvent struct {
	Action      string
	PrincipalID string
	IP          net.IP
	UserAgent   string
	Meta        map[string]any
	At          time.Time
}

// Auditor records audit events. Implementations must not block requests for
// long; failures are logged by the caller and never surface to clients.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresAuditor writes to restroom.audit_log.
type PostgresAuditor struct {
	db    execer
	table string
}

// NewPostgresAuditor returns an Auditor over db (usually a *pgxpool.Pool).
func NewPostgresAuditor(db execer) *PostgresAuditor {
	return &PostgresAuditor{db: db, table: pgx.Identifier{"restroom", "audit_log"}.Sanitize()}
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) error {
	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}
	meta := []byte("{}")
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			meta = b
		}
	}
	_, err := a.db.Exec(ctx, `
		INSERT INTO `+a.table+` (action, principal_id, ip, user_agent, meta, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, ev.Action, trimOrNil(ev.PrincipalID), ipVal, trimOrNil(ev.UserAgent), string(meta), ev.At)
	return err
}

// LogAuditor writes audit events to a logger. Used when no database is
// configured.
type LogAuditor struct {
	log *slog.Logger
}

func NewLogAuditor(log *slog.Logger) *LogAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &LogAuditor{log: log}
}

func (a *LogAuditor) Record(ctx context.Context, ev AuditEvent) error {
	attrs := []any{"action", ev.Action, "at", ev.At}
	if ev.PrincipalID != "" {
		attrs = append(attrs, "principal_id", ev.PrincipalID)
	}
	if ev.IP != nil {
		attrs = append(attrs, "ip", ev.IP.String())
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, "meta."+k, v)
	}
	a.log.InfoContext(ctx, "audit", attrs...)
	return nil
}

func (h *Handler) audit(r *http.Request, action, principalID string, meta map[string]any) {
	if h.auditor == nil {
		return
	}
	ev := AuditEvent{
		Action:      action,
		PrincipalID: principalID,
		IP:          clientIP(r, h.cfg.TrustProxy),
		UserAgent:   r.UserAgent(),
		Meta:        meta,
		At:          h.now().UTC(),
	}
	if err := h.auditor.Record(r.Context(), ev); err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
