package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"restroom/cmd/identity"
)

// Class distinguishes the two token kinds.
type Class string

const (
	ClassAccess  Class = "access"
	ClassRefresh Class = "refresh"
)

// maxTokenLen bounds the input accepted by Verify.
const maxTokenLen = 4096

// Token is a signed token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims is the decoded content of a verified token.
// Subject.Email is empty for refresh tokens.
type Claims struct {
	Subject   identity.Subject
	Class     Class
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access and refresh tokens. It holds no mutable
// state and is safe for concurrent use.
type Codec struct {
	issuer     string
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	skew       time.Duration
}

// NewCodec builds a Codec. Returns ErrConfig if cfg is invalid.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{
		issuer:     cfg.Issuer,
		accessKey:  append([]byte(nil), cfg.AccessSecret...),
		refreshKey: append([]byte(nil), cfg.RefreshSecret...),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		skew:       cfg.ClockSkew,
	}, nil
}

// AccessTTL returns the lifetime of access tokens.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the lifetime of refresh tokens.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken signs {id, email, role} with the access secret.
func (c *Codec) IssueAccessToken(sub identity.Subject, now time.Time) (Token, error) {
	return c.issue(ClassAccess, sub, now)
}

// IssueRefreshToken signs {id, role} with the refresh secret.
func (c *Codec) IssueRefreshToken(sub identity.Subject, now time.Time) (Token, error) {
	sub.Email = ""
	return c.issue(ClassRefresh, sub, now)
}

func (c *Codec) issue(class Class, sub identity.Subject, now time.Time) (Token, error) {
	if strings.TrimSpace(sub.ID) == "" || !sub.Role.Valid() {
		return Token{}, fmt.Errorf("session: issue %s token: incomplete subject", class)
	}

	now = now.UTC()
	exp := now.Add(c.ttl(class))

	claims := jwtClaims{
		Email: sub.Email,
		Role:  string(sub.Role),
		Type:  string(class),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   sub.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key(class))
	if err != nil {
		return Token{}, fmt.Errorf("session: sign %s token: %w", class, err)
	}
	// exp is serialized at second precision.
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks raw as a token of the given class at instant now.
//
// A correctly signed token whose only defect is expiry yields ErrExpired.
// Everything else yields ErrInvalidSignature.
func (c *Codec) Verify(class Class, raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxTokenLen {
		return Claims{}, ErrInvalidSignature
	}
	if class != ClassAccess && class != ClassRefresh {
		return Claims{}, ErrInvalidSignature
	}

	var tc jwtClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	_, err := parser.ParseWithClaims(raw, &tc, func(*jwt.Token) (any, error) {
		return c.key(class), nil
	})

	// Signatures are checked before claims, so tc is only trusted past this
	// point when err is nil or a pure claims failure.
	if err != nil && !onlyExpired(err) {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if tc.Type != string(class) || tc.Subject == "" || !identity.Role(tc.Role).Valid() {
		return Claims{}, ErrInvalidSignature
	}
	if err != nil {
		return Claims{}, ErrExpired
	}

	out := Claims{
		Subject: identity.Subject{ID: tc.Subject, Email: tc.Email, Role: identity.Role(tc.Role)},
		Class:   class,
		ID:      tc.ID,
	}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	return out, nil
}

// onlyExpired reports whether err is a claims-validation failure caused by
// expiry alone.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

func (c *Codec) key(class Class) []byte {
	if class == ClassRefresh {
		return c.refreshKey
	}
	return c.accessKey
}

func (c *Codec) ttl(class Class) time.Duration {
	if class == ClassRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}
