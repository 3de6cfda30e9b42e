package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"restroom/cmd/identity"
)

// Outcome is the result state of a verification.
type Outcome int

const (
	Rejected Outcome = iota
	Authenticated
	Rotated
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case Rotated:
		return "rotated"
	default:
		return "rejected"
	}
}

// Credentials are the raw cookie values presented by a request.
type Credentials struct {
	Access  string
	Refresh string
}

// Result is the outcome of Verify.
//
// Authenticated: Subject is set.
// Rotated: Subject and AccessToken are set; the caller must deliver
// AccessToken as the new access cookie and leave the refresh cookie alone.
// Rejected: Rejection is set.
type Result struct {
	Outcome     Outcome
	Subject     identity.Subject
	AccessToken Token
	Rejection   *Rejection
}

// Err returns the rejection as an error, or nil.
func (r Result) Err() error {
	if r.Rejection == nil {
		return nil
	}
	return r.Rejection
}

// Verifier resolves request credentials to a subject. It reads the ledger at
// most once per call, never writes it, and never touches the principal store.
type Verifier struct {
	codec   *Codec
	ledger  Ledger
	metrics *Metrics
}

// NewVerifier builds a Verifier.
func NewVerifier(codec *Codec, ledger Ledger, m *Metrics) *Verifier {
	return &Verifier{codec: codec, ledger: ledger, metrics: m}
}

// Verify runs the session state machine for one request.
func (v *Verifier) Verify(ctx context.Context, c Credentials, now time.Time) Result {
	res := v.verify(ctx, c, now)
	label := res.Outcome.String()
	if res.Rejection != nil {
		label = res.Rejection.Kind.String()
	}
	v.metrics.observeVerify(label)
	return res
}

func (v *Verifier) verify(ctx context.Context, c Credentials, now time.Time) Result {
	access := strings.TrimSpace(c.Access)
	refresh := strings.TrimSpace(c.Refresh)

	if access == "" && refresh == "" {
		return rejected(Unauthenticated, MsgUnauthorized, nil)
	}

	// A browser drops the access cookie once its max-age elapses, so a missing
	// access token with a refresh token present is handled as expired.
	if access != "" {
		claims, err := v.codec.Verify(ClassAccess, access, now)
		switch {
		case err == nil:
			return Result{Outcome: Authenticated, Subject: claims.Subject}
		case errors.Is(err, ErrExpired):
		default:
			return rejected(InvalidToken, MsgInvalidAccessToken, err)
		}
	}

	if refresh == "" {
		return rejected(Unauthenticated, MsgUnauthorized, nil)
	}

	entry, err := v.ledger.GetByValue(ctx, refresh, now)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return rejected(ExpiredSession, MsgLoginAgain, err)
		}
		return rejected(Internal, MsgInternal, err)
	}

	claims, err := v.codec.Verify(ClassRefresh, refresh, now)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return rejected(ExpiredSession, MsgLoginAgain, err)
		}
		return rejected(InvalidToken, MsgInvalidRefreshToken, err)
	}
	if claims.Subject.ID != entry.PrincipalID {
		return rejected(InvalidToken, MsgInvalidRefreshToken, nil)
	}

	sub := identity.Subject{ID: claims.Subject.ID, Role: claims.Subject.Role}
	tok, err := v.codec.IssueAccessToken(sub, now)
	if err != nil {
		return rejected(Internal, MsgInternal, err)
	}
	return Result{Outcome: Rotated, Subject: sub, AccessToken: tok}
}

func rejected(kind RejectionKind, msg string, err error) Result {
	return Result{Outcome: Rejected, Rejection: reject(kind, msg, err)}
}
