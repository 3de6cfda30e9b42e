package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"restroom/cmd/identity"
)

// PasswordHasher is the credential verifier the Issuer depends on.
// *identity.Hasher implements it.
type PasswordHasher interface {
	HashPassword(plain string) (string, error)
	VerifyPassword(plain, hash string) bool
	VerifyDummy(plain string)
	NeedsRehash(hash string) bool
	ValidateChange(current, next string) error
}

// Session is a freshly established session. The HTTP layer turns it into
// cookies; nothing here is rendered into a response body.
type Session struct {
	Principal identity.Principal
	Access    Token
	Refresh   Token
	// Reused is true when Refresh is an existing ledger entry.
	Reused bool
}

// SignupInput describes a new account.
type SignupInput struct {
	Email    string
	Password string
	Role     identity.Role
	Profile  identity.Profile
}

// Issuer creates sessions for signup and login and ends them on logout.
type Issuer struct {
	store   identity.Store
	hasher  PasswordHasher
	codec   *Codec
	ledger  Ledger
	log     *slog.Logger
	metrics *Metrics
}

// NewIssuer builds an Issuer. A nil logger falls back to slog.Default.
func NewIssuer(store identity.Store, hasher PasswordHasher, codec *Codec, ledger Ledger, log *slog.Logger, m *Metrics) *Issuer {
	if log == nil {
		log = slog.Default()
	}
	return &Issuer{store: store, hasher: hasher, codec: codec, ledger: ledger, log: log, metrics: m}
}

// Signup creates an account and its first session.
//
// Errors: identity.ErrInvalidInput for policy or shape violations,
// ErrDuplicatePrincipal when the email exists in either namespace,
// ErrSessionNotEstablished when the account was stored but the ledger failed.
func (s *Issuer) Signup(ctx context.Context, in SignupInput, now time.Time) (Session, error) {
	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		s.metrics.observeIssue("signup", "invalid")
		return Session{}, err
	}

	acct, err := s.store.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Profile:      in.Profile,
		Now:          now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			s.metrics.observeIssue("signup", "duplicate")
			return Session{}, ErrDuplicatePrincipal
		}
		if identity.IsInvalidInput(err) {
			s.metrics.observeIssue("signup", "invalid")
			return Session{}, err
		}
		s.metrics.observeIssue("signup", "error")
		return Session{}, fmt.Errorf("session: signup: %w", err)
	}

	sess, err := s.establish(ctx, acct, now)
	if err != nil {
		s.metrics.observeIssue("signup", "error")
		return Session{}, fmt.Errorf("session: signup: %w: %w", ErrSessionNotEstablished, err)
	}
	s.metrics.observeIssue("signup", "ok")
	return sess, nil
}

// Login authenticates email and password against both principal namespaces.
//
// An unknown email and a wrong password both return ErrInvalidCredentials,
// after comparable hashing work.
func (s *Issuer) Login(ctx context.Context, email, password string, now time.Time) (Session, error) {
	p, err := identity.FindPrincipalByEmail(ctx, s.store, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			s.hasher.VerifyDummy(password)
			s.metrics.observeIssue("login", "invalid")
			return Session{}, ErrInvalidCredentials
		}
		s.metrics.observeIssue("login", "error")
		return Session{}, fmt.Errorf("session: login: %w", err)
	}

	hash := p.Creds().PasswordHash
	if !s.hasher.VerifyPassword(password, hash) {
		s.metrics.observeIssue("login", "invalid")
		return Session{}, ErrInvalidCredentials
	}

	sess, err := s.establish(ctx, p, now)
	if err != nil {
		s.metrics.observeIssue("login", "error")
		return Session{}, fmt.Errorf("session: login: %w", err)
	}

	if s.hasher.NeedsRehash(hash) {
		s.rehash(ctx, p, password, now)
	}
	s.metrics.observeIssue("login", "ok")
	return sess, nil
}

// Logout removes the principal's ledger entry. It is idempotent.
func (s *Issuer) Logout(ctx context.Context, principalID string) error {
	if principalID == "" {
		return nil
	}
	if err := s.ledger.Delete(ctx, principalID); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// ChangePassword verifies current and stores a hash of next. Ledger entries
// are left in place.
func (s *Issuer) ChangePassword(ctx context.Context, principalID, current, next string, now time.Time) error {
	p, err := s.store.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if !s.hasher.VerifyPassword(current, p.Creds().PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := s.hasher.ValidateChange(current, next); err != nil {
		return err
	}
	hash, err := s.hasher.HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.UpdatePasswordHash(ctx, principalID, hash, now)
}

// establish mints an access token and reuses or creates the refresh entry.
// Nothing is returned unless every step succeeded.
func (s *Issuer) establish(ctx context.Context, p identity.Principal, now time.Time) (Session, error) {
	sub := p.Subject()

	access, err := s.codec.IssueAccessToken(sub, now)
	if err != nil {
		return Session{}, err
	}

	entry, err := s.ledger.Get(ctx, sub.ID, now)
	switch {
	case err == nil:
		return Session{
			Principal: p,
			Access:    access,
			Refresh:   Token{Value: entry.Value, ExpiresAt: entry.ExpiresAt},
			Reused:    true,
		}, nil
	case !errors.Is(err, ErrEntryNotFound):
		return Session{}, err
	}

	refresh, err := s.codec.IssueRefreshToken(sub, now)
	if err != nil {
		return Session{}, err
	}
	entry, created, err := s.ledger.Put(ctx, sub.ID, refresh.Value, s.codec.RefreshTTL(), now)
	if err != nil {
		return Session{}, err
	}
	if !created {
		// A concurrent login won; converge on its entry.
		return Session{
			Principal: p,
			Access:    access,
			Refresh:   Token{Value: entry.Value, ExpiresAt: entry.ExpiresAt},
			Reused:    true,
		}, nil
	}
	return Session{Principal: p, Access: access, Refresh: refresh}, nil
}

func (s *Issuer) rehash(ctx context.Context, p identity.Principal, password string, now time.Time) {
	id := p.Subject().ID
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		s.log.Warn("auth.rehash.skip", "principal_id", id, "reason", err.Error())
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, id, hash, now); err != nil {
		s.log.Warn("auth.rehash.fail", "principal_id", id, "error", err)
		return
	}
	s.log.Info("auth.rehash.ok", "principal_id", id, "kind", string(p.Kind()))
}
