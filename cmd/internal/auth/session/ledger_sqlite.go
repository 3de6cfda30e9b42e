package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"restroom/cmd/security/token"
)

// SQLiteLedger implements Ledger over a single SQLite file for single-node
// deployments. Times are stored as unix milliseconds.
type SQLiteLedger struct {
	db   *sql.DB
	prot *token.Protector
}

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS refresh_ledger (
  principal_id TEXT PRIMARY KEY,
  value_digest TEXT NOT NULL UNIQUE,
  sealed_value TEXT NOT NULL,
  issued_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_ledger_expires_at ON refresh_ledger (expires_at);
`

// OpenSQLiteLedger opens (or creates) the database at path and ensures the
// ledger table exists.
func OpenSQLiteLedger(ctx context.Context, path string, prot *token.Protector) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite ledger: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteLedgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: migrate sqlite ledger: %w", err)
	}
	return NewSQLiteLedger(db, prot), nil
}

// NewSQLiteLedger wraps an existing handle. The caller owns db.
func NewSQLiteLedger(db *sql.DB, prot *token.Protector) *SQLiteLedger {
	prot = protectorOrDev(prot)
	return &SQLiteLedger{db: db, prot: prot}
}

// Close closes the underlying handle.
func (l *SQLiteLedger) Close() error { return l.db.Close() }

// Get returns the live entry for principalID or ErrEntryNotFound.
func (l *SQLiteLedger) Get(ctx context.Context, principalID string, now time.Time) (Entry, error) {
	return l.getOne(ctx, `principal_id = ?`, principalID, now)
}

// GetByValue looks the entry up by the digest of value.
func (l *SQLiteLedger) GetByValue(ctx context.Context, value string, now time.Time) (Entry, error) {
	e, err := l.getOne(ctx, `value_digest = ?`, l.prot.Digest(value), now)
	if err != nil {
		return Entry{}, err
	}
	if e.Value != value {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (l *SQLiteLedger) getOne(ctx context.Context, where string, arg any, now time.Time) (Entry, error) {
	var (
		e                 Entry
		sealed            string
		issuedMs, expires int64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT principal_id, sealed_value, issued_at, expires_at
		   FROM refresh_ledger
		  WHERE `+where+` AND expires_at > ?`,
		arg, now.UnixMilli(),
	).Scan(&e.PrincipalID, &sealed, &issuedMs, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	e.Value, err = l.prot.Open(sealed)
	if err != nil {
		return Entry{}, fmt.Errorf("session: open ledger value: %w", err)
	}
	e.IssuedAt = time.UnixMilli(issuedMs).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	return e, nil
}

// Put inserts value, replacing only an expired row. A live row is returned
// unchanged with created=false.
func (l *SQLiteLedger) Put(ctx context.Context, principalID, value string, ttl time.Duration, now time.Time) (Entry, bool, error) {
	if !validPut(principalID, value, ttl) {
		return Entry{}, false, fmt.Errorf("session: ledger put: invalid entry")
	}

	e := newEntry(principalID, value, ttl, now)
	sealed, err := l.prot.Seal(value)
	if err != nil {
		return Entry{}, false, err
	}
	digest := l.prot.Digest(value)

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		var issuedMs, expiresMs int64
		err := l.db.QueryRowContext(ctx,
			`INSERT INTO refresh_ledger (principal_id, value_digest, sealed_value, issued_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (principal_id) DO UPDATE
			 SET value_digest = excluded.value_digest,
			     sealed_value = excluded.sealed_value,
			     issued_at = excluded.issued_at,
			     expires_at = excluded.expires_at
			 WHERE refresh_ledger.expires_at <= excluded.issued_at
			 RETURNING issued_at, expires_at`,
			principalID, digest, sealed, e.IssuedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
		).Scan(&issuedMs, &expiresMs)
		if err == nil {
			e.IssuedAt = time.UnixMilli(issuedMs).UTC()
			e.ExpiresAt = time.UnixMilli(expiresMs).UTC()
			return e, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, err
		}

		cur, err := l.Get(ctx, principalID, now)
		if err == nil {
			return cur, false, nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return Entry{}, false, err
		}
	}
	return Entry{}, false, fmt.Errorf("session: ledger put: contention on %s", principalID)
}

// Delete removes the principal's row. A missing row is not an error.
func (l *SQLiteLedger) Delete(ctx context.Context, principalID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM refresh_ledger WHERE principal_id = ?`, principalID)
	return err
}

// PurgeExpired deletes rows expired at now.
func (l *SQLiteLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM refresh_ledger WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
