package token

import "errors"

var (
	ErrKeyMissing  = errors.New("ledger key missing")
	ErrKeyTooShort = errors.New("ledger key too short")
	ErrSealed      = errors.New("sealed token is malformed or was sealed under another key")
)
