package identity

import "time"

// Kind names a principal namespace.
type Kind string

const (
	KindAccount   Kind = "account"
	KindInspector Kind = "inspector"
)

// LookupOrder is the fixed priority used when an email is resolved over both
// namespaces.
var LookupOrder = [...]Kind{KindAccount, KindInspector}

// Role is the authorization role carried in tokens.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleInspector Role = "inspector"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleInspector:
		return true
	}
	return false
}

// Kind returns the namespace a role belongs to.
func (r Role) Kind() Kind {
	if r == RoleInspector {
		return KindInspector
	}
	return KindAccount
}

// Subject is the self-describing identity attached to an authenticated request.
//
// Email is optional: sessions restored from a refresh token do not carry it.
// Code that needs the email must load the principal by ID.
type Subject struct {
	ID    string
	Email string
	Role  Role
}

// Kind returns the namespace of the subject.
func (s Subject) Kind() Kind { return s.Role.Kind() }

// Profile holds the descriptive fields shared by both principal kinds.
type Profile struct {
	FullName    string
	PhoneNumber *string
	DOB         *string // YYYY-MM-DD
	Gender      *string
	Nationality *string
}

// Credentials are the authentication fields shared by both principal kinds.
type Credentials struct {
	ID           string
	Email        string // normalized
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal is Account | Inspector. The unexported marker keeps the set closed.
type Principal interface {
	Kind() Kind
	Subject() Subject
	Creds() Credentials
	Details() Profile
	isPrincipal()
}

// Account is a principal that signed up directly. It never has an owner.
type Account struct {
	Credentials
	Role    Role // RoleUser or RoleAdmin
	Profile Profile
}

func (Account) Kind() Kind           { return KindAccount }
func (a Account) Creds() Credentials { return a.Credentials }
func (a Account) Details() Profile   { return a.Profile }
func (Account) isPrincipal()         {}
func (a Account) Subject() Subject {
	return Subject{ID: a.ID, Email: a.Email, Role: a.Role}
}

// Inspector is a principal provisioned by an account. OwnerID is never empty.
type Inspector struct {
	Credentials
	OwnerID string
	Profile Profile
}

func (Inspector) Kind() Kind           { return KindInspector }
func (i Inspector) Creds() Credentials { return i.Credentials }
func (i Inspector) Details() Profile   { return i.Profile }
func (Inspector) isPrincipal()         {}
func (i Inspector) Subject() Subject {
	return Subject{ID: i.ID, Email: i.Email, Role: RoleInspector}
}
