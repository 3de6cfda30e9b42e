package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrPasswordReused   = errors.New("new password must differ from the current one")
	ErrInvalidHash      = errors.New("invalid password hash")
)
