package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"restroom/cmd/security/token"
)

func newMockSQLiteLedger(t *testing.T) (*SQLiteLedger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLiteLedger(db, nil), mock
}

func TestPersistentLedgers_DefaultToDevProtector(t *testing.T) {
	l, _ := newMockSQLiteLedger(t)
	if l.prot != devProtector || l.prot.Keyed() {
		t.Fatalf("nil protector must fall back to the unkeyed dev protector")
	}
	if got := NewPostgresLedger(nil, nil).prot; got != devProtector {
		t.Fatalf("postgres ledger: expected dev protector")
	}
	if got := NewRedisLedger(nil, nil, "").prot; got != devProtector {
		t.Fatalf("redis ledger: expected dev protector")
	}

	keyed, err := token.NewProtector([]byte(strings.Repeat("k", token.MinKeyBytes)))
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}
	if protectorOrDev(keyed) != keyed {
		t.Fatalf("explicit protector must be kept")
	}
}

func TestSQLiteLedger_Put_Inserts(t *testing.T) {
	l, mock := newMockSQLiteLedger(t)
	exp := t0.Add(time.Hour)

	mock.ExpectQuery(`INSERT INTO refresh_ledger`).
		WithArgs("acct-1", token.HashSHA256Hex("tok"), "p1.tok", t0.UnixMilli(), exp.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"issued_at", "expires_at"}).AddRow(t0.UnixMilli(), exp.UnixMilli()))

	e, created, err := l.Put(context.Background(), "acct-1", "tok", time.Hour, t0)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !created || e.Value != "tok" || !e.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected result: created=%v entry=%+v", created, e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteLedger_Put_ReturnsLiveWinner(t *testing.T) {
	l, mock := newMockSQLiteLedger(t)
	exp := t0.Add(time.Hour)

	mock.ExpectQuery(`INSERT INTO refresh_ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"issued_at", "expires_at"}))
	mock.ExpectQuery(`SELECT principal_id, sealed_value, issued_at, expires_at`).
		WithArgs("acct-1", t0.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "sealed_value", "issued_at", "expires_at"}).
			AddRow("acct-1", "p1.winner", t0.Add(-time.Minute).UnixMilli(), exp.UnixMilli()))

	e, created, err := l.Put(context.Background(), "acct-1", "loser", time.Hour, t0)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if created || e.Value != "winner" {
		t.Fatalf("expected existing winner, got created=%v value=%q", created, e.Value)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteLedger_Put_PropagatesErrors(t *testing.T) {
	l, mock := newMockSQLiteLedger(t)
	boom := errors.New("disk I/O error")

	mock.ExpectQuery(`INSERT INTO refresh_ledger`).WillReturnError(boom)

	if _, _, err := l.Put(context.Background(), "acct-1", "tok", time.Hour, t0); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestSQLiteLedger_GetByValue_UsesDigest(t *testing.T) {
	l, mock := newMockSQLiteLedger(t)
	now := t0.Add(time.Minute)

	mock.ExpectQuery(`SELECT principal_id, sealed_value, issued_at, expires_at`).
		WithArgs(token.HashSHA256Hex("tok"), now.UnixMilli()).
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "sealed_value", "issued_at", "expires_at"}))

	if _, err := l.GetByValue(context.Background(), "tok", now); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteLedger_DeleteAndPurge(t *testing.T) {
	l, mock := newMockSQLiteLedger(t)

	mock.ExpectExec(`DELETE FROM refresh_ledger WHERE principal_id`).
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM refresh_ledger WHERE expires_at`).
		WithArgs(t0.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := l.Delete(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := l.PurgeExpired(context.Background(), t0)
	if err != nil || n != 3 {
		t.Fatalf("PurgeExpired: n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteLedger_Conformance(t *testing.T) {
	prot, err := token.NewProtector([]byte(strings.Repeat("k", token.MinKeyBytes)))
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	runLedgerConformance(t,
		func(t *testing.T) Ledger {
			l, err := OpenSQLiteLedger(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), prot)
			if err != nil {
				if strings.Contains(err.Error(), "cgo") {
					t.Skipf("sqlite unavailable: %v", err)
				}
				t.Fatalf("OpenSQLiteLedger: %v", err)
			}
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
		func(s string) string { return s },
	)
}
