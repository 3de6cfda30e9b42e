package identity

import (
	"context"
	"time"
)

// CreateAccountInput describes a new account. PasswordHash is already hashed.
type CreateAccountInput struct {
	Email        string
	PasswordHash string
	Role         Role
	Profile      Profile
	Now          time.Time
}

// CreateInspectorInput describes a new inspector owned by OwnerID.
type CreateInspectorInput struct {
	OwnerID      string
	Email        string
	PasswordHash string
	Profile      Profile
	Now          time.Time
}

// ProfilePatch updates only the non-nil fields.
type ProfilePatch struct {
	FullName    *string
	PhoneNumber *string
	DOB         *string
	Gender      *string
	Nationality *string
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.FullName == nil && p.PhoneNumber == nil && p.DOB == nil && p.Gender == nil && p.Nationality == nil
}

func (p ProfilePatch) apply(dst *Profile) {
	if p.FullName != nil {
		dst.FullName = *p.FullName
	}
	if p.PhoneNumber != nil {
		dst.PhoneNumber = p.PhoneNumber
	}
	if p.DOB != nil {
		dst.DOB = p.DOB
	}
	if p.Gender != nil {
		dst.Gender = p.Gender
	}
	if p.Nationality != nil {
		dst.Nationality = p.Nationality
	}
}

// Store is the principal persistence boundary.
//
// Create operations must reject an email present in either namespace with
// ConflictError{Field: "email"}, atomically with the insert.
type Store interface {
	// FindByEmail looks up one namespace. Missing principals return ErrNotFound.
	FindByEmail(ctx context.Context, kind Kind, email string) (Principal, error)
	GetByID(ctx context.Context, id string) (Principal, error)

	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	// CreateInspector fails with NotFoundError{Resource: "owner"} when OwnerID
	// is not an account.
	CreateInspector(ctx context.Context, in CreateInspectorInput) (Inspector, error)
	ListInspectors(ctx context.Context, ownerID string) ([]Inspector, error)

	UpdatePasswordHash(ctx context.Context, id string, hash string, now time.Time) error
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch, now time.Time) (Principal, error)
}
