package identity

import (
	"context"
	"errors"
)

// FindPrincipalByEmail resolves email over both namespaces in LookupOrder and
// returns the first match, or ErrNotFound.
func FindPrincipalByEmail(ctx context.Context, st Store, email string) (Principal, error) {
	const op = "identity.FindPrincipalByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return nil, invalid(op, "email is required")
	}

	for _, kind := range LookupOrder {
		p, err := st.FindByEmail(ctx, kind, email)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, NotFoundError{Op: op, Resource: "principal"}
}

func validateCreate(op, email, hash string) error {
	if email == "" || !ValidEmail(email) {
		return invalid(op, "valid email is required")
	}
	if hash == "" {
		return invalid(op, "password hash is required")
	}
	return nil
}
