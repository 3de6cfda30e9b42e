package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"restroom/cmd/security/token"
)

// pgxConn is the subset of *pgxpool.Pool used by PostgresLedger.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger implements Ledger over restroom.refresh_ledger.
// Values are stored sealed and looked up by digest.
type PostgresLedger struct {
	db    pgxConn
	prot  *token.Protector
	table string
}

// NewPostgresLedger creates a Postgres-backed ledger. The pool is owned by the
// caller.
func NewPostgresLedger(db pgxConn, prot *token.Protector) *PostgresLedger {
	prot = protectorOrDev(prot)
	return &PostgresLedger{
		db:    db,
		prot:  prot,
		table: pgx.Identifier{"restroom", "refresh_ledger"}.Sanitize(),
	}
}

// Get returns the live entry for principalID or ErrEntryNotFound.
func (l *PostgresLedger) Get(ctx context.Context, principalID string, now time.Time) (Entry, error) {
	return l.getOne(ctx, `principal_id = $1`, principalID, now)
}

// GetByValue looks the entry up by the digest of value.
func (l *PostgresLedger) GetByValue(ctx context.Context, value string, now time.Time) (Entry, error) {
	e, err := l.getOne(ctx, `value_digest = $1`, l.prot.Digest(value), now)
	if err != nil {
		return Entry{}, err
	}
	if e.Value != value {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (l *PostgresLedger) getOne(ctx context.Context, where string, arg any, now time.Time) (Entry, error) {
	var (
		e      Entry
		sealed string
	)
	err := l.db.QueryRow(ctx, `
		SELECT principal_id, sealed_value, issued_at, expires_at
		FROM `+l.table+`
		WHERE `+where+` AND expires_at > $2
	`, arg, now).Scan(&e.PrincipalID, &sealed, &e.IssuedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	e.Value, err = l.prot.Open(sealed)
	if err != nil {
		return Entry{}, fmt.Errorf("session: open ledger value: %w", err)
	}
	return e, nil
}

// Put inserts a new entry or replaces an expired one in a single statement.
// When a live entry exists the conditional update matches nothing and the
// live entry is read back instead.
func (l *PostgresLedger) Put(ctx context.Context, principalID, value string, ttl time.Duration, now time.Time) (Entry, bool, error) {
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
		var issued, expires time.Time
		err := l.db.QueryRow(ctx, `
			INSERT INTO `+l.table+` AS l (principal_id, value_digest, sealed_value, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (principal_id) DO UPDATE
			SET value_digest = EXCLUDED.value_digest,
			    sealed_value = EXCLUDED.sealed_value,
			    issued_at = EXCLUDED.issued_at,
			    expires_at = EXCLUDED.expires_at
			WHERE l.expires_at <= EXCLUDED.issued_at
			RETURNING issued_at, expires_at
		`, principalID, digest, sealed, e.IssuedAt, e.ExpiresAt).Scan(&issued, &expires)
		if err == nil {
			e.IssuedAt, e.ExpiresAt = issued, expires
			return e, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, err
		}

		cur, err := l.Get(ctx, principalID, now)
		if err == nil {
			return cur, false, nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return Entry{}, false, err
		}
		// The winner expired or was deleted in between; try again.
	}
	return Entry{}, false, fmt.Errorf("session: ledger put: contention on %s", principalID)
}

// Delete removes the principal's row. A missing row is not an error.
func (l *PostgresLedger) Delete(ctx context.Context, principalID string) error {
	_, err := l.db.Exec(ctx, `DELETE FROM `+l.table+` WHERE principal_id = $1`, principalID)
	return err
}

// PurgeExpired deletes rows expired at now.
func (l *PostgresLedger) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM `+l.table+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
