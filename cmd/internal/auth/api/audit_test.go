package api

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type captureExec struct {
	sql  string
	args []any
}

func (c *captureExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql = sql
	c.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresAuditor_Record(t *testing.T) {
	db := &captureExec{}
	a := NewPostgresAuditor(db)

	err := a.Record(context.Background(), AuditEvent{
		Action:    AuditLoginFailed,
		IP:        net.ParseIP("203.0.113.7"),
		UserAgent: "  ",
		Meta:      map[string]any{"identifier": "a@example.com"},
		At:        t0,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !strings.Contains(db.sql, `"restroom"."audit_log"`) {
		t.Fatalf("unexpected sql: %s", db.sql)
	}
	if db.args[0] != AuditLoginFailed || db.args[1] != nil || db.args[2] != "203.0.113.7" || db.args[3] != nil {
		t.Fatalf("unexpected args: %#v", db.args)
	}
	if db.args[4] != `{"identifier":"a@example.com"}` {
		t.Fatalf("unexpected meta: %#v", db.args[4])
	}
}
