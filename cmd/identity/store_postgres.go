package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema/table identifiers are safely quoted.
//   - Creates take a transaction-scoped advisory lock on the normalized email so
//     the cross-namespace uniqueness check and the insert are serialized.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "restroom").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "restroom",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const profileCols = `full_name, phone_number, dob, gender, nationality`

func (s *PostgresStore) accounts() string   { return pgIdent(s.schema, "accounts") }
func (s *PostgresStore) inspectors() string { return pgIdent(s.schema, "inspectors") }

func (s *PostgresStore) FindByEmail(ctx context.Context, kind Kind, email string) (Principal, error) {
	const op = "identity.FindByEmail"

	email = NormalizeEmail(email)
	switch kind {
	case KindAccount:
		row := s.pool.QueryRow(ctx,
			`SELECT id, email, password_hash, role, `+profileCols+`, created_at, updated_at
			   FROM `+s.accounts()+` WHERE email = $1`, email)
		return scanAccount(op, row)
	case KindInspector:
		row := s.pool.QueryRow(ctx,
			`SELECT id, owner_id, email, password_hash, `+profileCols+`, created_at, updated_at
			   FROM `+s.inspectors()+` WHERE email = $1`, email)
		i, err := scanInspector(op, row)
		if err != nil {
			return nil, err
		}
		return i, nil
	default:
		return nil, invalid(op, "unknown kind")
	}
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.GetByID"

	row := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, role, `+profileCols+`, created_at, updated_at
		   FROM `+s.accounts()+` WHERE id = $1`, id)
	a, err := scanAccount(op, row)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, err
	}

	row = s.pool.QueryRow(ctx,
		`SELECT id, owner_id, email, password_hash, `+profileCols+`, created_at, updated_at
		   FROM `+s.inspectors()+` WHERE id = $1`, id)
	i, err := scanInspector(op, row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFoundError{Op: op, Resource: "principal"}
		}
		return nil, err
	}
	return i, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	email := NormalizeEmail(in.Email)
	if err := validateCreate(op, email, in.PasswordHash); err != nil {
		return Account{}, err
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return Account{}, invalid(op, "account role must be user or admin")
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	a := Account{
		Credentials: Credentials{ID: id, Email: email, PasswordHash: in.PasswordHash, CreatedAt: now, UpdatedAt: now},
		Role:        role,
		Profile:     in.Profile,
	}

	err = s.withEmailLock(ctx, op, email, func(tx pgx.Tx) error {
		p := a.Profile
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.accounts()+` (
			     id, email, password_hash, role, `+profileCols+`, created_at, updated_at
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, a.Email, a.PasswordHash, string(a.Role),
			p.FullName, p.PhoneNumber, p.DOB, p.Gender, p.Nationality,
			now, now,
		)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) CreateInspector(ctx context.Context, in CreateInspectorInput) (Inspector, error) {
	const op = "identity.CreateInspector"

	email := NormalizeEmail(in.Email)
	if err := validateCreate(op, email, in.PasswordHash); err != nil {
		return Inspector{}, err
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return Inspector{}, invalid(op, "owner is required")
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Inspector{}, err
	}

	i := Inspector{
		Credentials: Credentials{ID: id, Email: email, PasswordHash: in.PasswordHash, CreatedAt: now, UpdatedAt: now},
		OwnerID:     in.OwnerID,
		Profile:     in.Profile,
	}

	err = s.withEmailLock(ctx, op, email, func(tx pgx.Tx) error {
		p := i.Profile
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.inspectors()+` (
			     id, owner_id, email, password_hash, `+profileCols+`, created_at, updated_at
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			i.ID, i.OwnerID, i.Email, i.PasswordHash,
			p.FullName, p.PhoneNumber, p.DOB, p.Gender, p.Nationality,
			now, now,
		)
		return err
	})
	if err != nil {
		return Inspector{}, err
	}
	return i, nil
}

// withEmailLock runs insert inside a transaction that holds an advisory lock
// on email and has verified the email is free in both namespaces.
func (s *PostgresStore) withEmailLock(ctx context.Context, op, email string, insert func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, email); err != nil {
		return err
	}

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.accounts()+` WHERE email = $1)
		     OR EXISTS (SELECT 1 FROM `+s.inspectors()+` WHERE email = $1)`,
		email,
	).Scan(&taken)
	if err != nil {
		return err
	}
	if taken {
		return ConflictError{Op: op, Field: "email"}
	}

	if err := insert(tx); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "owner"}
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListInspectors(ctx context.Context, ownerID string) ([]Inspector, error) {
	const op = "identity.ListInspectors"

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, email, password_hash, `+profileCols+`, created_at, updated_at
		   FROM `+s.inspectors()+` WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Inspector, 0)
	for rows.Next() {
		i, err := scanInspector(op, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id string, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if hash == "" {
		return invalid(op, "password hash is required")
	}
	now = nowOr(now)

	for _, table := range []string{s.accounts(), s.inspectors()} {
		tag, err := s.pool.Exec(ctx,
			`UPDATE `+table+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			id, hash, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
	}
	return NotFoundError{Op: op, Resource: "principal"}
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, patch ProfilePatch, now time.Time) (Principal, error) {
	const op = "identity.UpdateProfile"
	now = nowOr(now)

	// COALESCE keeps columns the patch leaves nil.
	set := `full_name = COALESCE($2, full_name),
	        phone_number = COALESCE($3, phone_number),
	        dob = COALESCE($4, dob),
	        gender = COALESCE($5, gender),
	        nationality = COALESCE($6, nationality),
	        updated_at = $7`
	args := []any{id, patch.FullName, patch.PhoneNumber, patch.DOB, patch.Gender, patch.Nationality, now}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.accounts()+` SET `+set+` WHERE id = $1
		 RETURNING id, email, password_hash, role, `+profileCols+`, created_at, updated_at`, args...)
	a, err := scanAccount(op, row)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return a, err
	}

	row = s.pool.QueryRow(ctx,
		`UPDATE `+s.inspectors()+` SET `+set+` WHERE id = $1
		 RETURNING id, owner_id, email, password_hash, `+profileCols+`, created_at, updated_at`, args...)
	i, err := scanInspector(op, row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFoundError{Op: op, Resource: "principal"}
		}
		return nil, err
	}
	return i, nil
}

func scanAccount(op string, row pgx.Row) (Principal, error) {
	var (
		a    Account
		role string
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &role,
		&a.Profile.FullName, &a.Profile.PhoneNumber, &a.Profile.DOB, &a.Profile.Gender, &a.Profile.Nationality,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NotFoundError{Op: op, Resource: string(KindAccount)}
		}
		return nil, err
	}
	a.Role = Role(role)
	return a, nil
}

func scanInspector(op string, row pgx.Row) (Inspector, error) {
	var i Inspector
	err := row.Scan(
		&i.ID, &i.OwnerID, &i.Email, &i.PasswordHash,
		&i.Profile.FullName, &i.Profile.PhoneNumber, &i.Profile.DOB, &i.Profile.Gender, &i.Profile.Nationality,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inspector{}, NotFoundError{Op: op, Resource: string(KindInspector)}
		}
		return Inspector{}, err
	}
	return i, nil
}

func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_accounts_email", "uq_inspectors_email":
		return "email", true
	case "accounts_pkey", "inspectors_pkey":
		return "id", true
	default:
		if strings.Contains(c, "email") {
			return "email", true
		}
		return "unique", true
	}
}
