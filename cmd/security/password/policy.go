package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks password against the policy. Length counts runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// ValidateChange validates next as a replacement for current.
func (c Config) ValidateChange(current, next string) error {
	if current == next {
		return ErrPasswordReused
	}
	return c.Validate(next)
}

var trivialPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {},
	"123456": {}, "123456789": {}, "12345678": {},
	"qwerty": {}, "qwerty123": {}, "111111": {}, "11111111": {},
	"restroom": {}, "inspector": {},
}

// looksVeryWeak is a minimal check, not an entropy estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Count(s, string(first)) == utf8.RuneCountInString(s) {
		return true
	}

	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, trivial := trivialPasswords[strings.ToLower(s)]
	return trivial
}
