package session

import (
	"errors"
	"fmt"
)

var (
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrInvalidSignature covers bad signatures, wrong algorithms, wrong token
	// classes and malformed tokens.
	ErrInvalidSignature = errors.New("invalid token")

	// ErrEntryNotFound is returned when the ledger has no live entry.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrInvalidCredentials is returned for both an unknown email and a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrDuplicatePrincipal is returned when signup names an email that
	// already exists in either namespace.
	ErrDuplicatePrincipal = errors.New("user already exists")

	// ErrSessionNotEstablished is returned by Signup when the account was
	// stored but its first session could not be issued. The account is kept;
	// the caller should send the user to login.
	ErrSessionNotEstablished = errors.New("account created but session not established")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RejectionKind classifies why the Verifier refused a request.
type RejectionKind int

const (
	// Unauthenticated means no usable credentials were presented.
	Unauthenticated RejectionKind = iota + 1
	// InvalidToken means a presented token failed verification.
	InvalidToken
	// ExpiredSession means the refresh token is no longer on the ledger.
	ExpiredSession
	// Internal means a dependency failed.
	Internal
)

func (k RejectionKind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case InvalidToken:
		return "invalid_token"
	case ExpiredSession:
		return "expired_session"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Rejection is the error carried by a Rejected result. Msg is safe to show to
// clients; Err is the underlying cause and is never rendered.
type Rejection struct {
	Kind RejectionKind
	Msg  string
	Err  error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("session: %s: %s", r.Kind, r.Msg)
	}
	return fmt.Sprintf("session: %s: %s: %v", r.Kind, r.Msg, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Client-facing rejection messages.
const (
	MsgUnauthorized        = "Unauthorized"
	MsgInvalidAccessToken  = "Invalid Access Token"
	MsgInvalidRefreshToken = "Invalid Refresh Token"
	MsgLoginAgain          = "Refresh token not found, please login again"
	MsgInternal            = "Internal server error"
	MsgSignupLogin         = "Account created, but signing in failed. Please log in."
)

func reject(kind RejectionKind, msg string, err error) *Rejection {
	return &Rejection{Kind: kind, Msg: msg, Err: err}
}
