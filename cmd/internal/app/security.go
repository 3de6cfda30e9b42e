package app

import (
	"errors"
	"fmt"

	"restroom/cmd/internal/auth/session"
	"restroom/cmd/security/token"
)

// security holds the secret-bearing configuration resolved at startup.
type security struct {
	session   session.Config
	protector *token.Protector
}

// ValidateSecurityConfig checks token secrets and the ledger key policy
// without starting anything. It fails on the first problem.
func ValidateSecurityConfig(cfg Config) error {
	_, err := loadSecurity(cfg)
	return err
}

func loadSecurity(cfg Config) (security, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return security{}, fmt.Errorf(
			"security policy: RESTROOM_ACCESS_TOKEN_SECRET and RESTROOM_REFRESH_TOKEN_SECRET must be set, distinct and at least %d bytes, and token TTLs valid: %w",
			session.MinSecretBytes, err)
	}

	prot, err := ledgerProtector(cfg)
	if err != nil {
		return security{}, err
	}
	return security{session: sessCfg, protector: prot}, nil
}

func ledgerProtector(cfg Config) (*token.Protector, error) {
	if cfg.RequireLedgerKey {
		if _, err := token.KeyFromEnv(token.MinKeyBytes); err != nil {
			switch {
			case errors.Is(err, token.ErrKeyMissing):
				return nil, errors.New("security policy: RESTROOM_REQUIRE_LEDGER_KEY=true but RESTROOM_LEDGER_KEY is missing")
			case errors.Is(err, token.ErrKeyTooShort):
				return nil, fmt.Errorf("security policy: RESTROOM_LEDGER_KEY is too short (min %d bytes)", token.MinKeyBytes)
			default:
				return nil, err
			}
		}
	}

	prot, err := token.ProtectorFromEnv()
	if err != nil {
		return nil, fmt.Errorf("security policy: %w", err)
	}
	if cfg.RequireLedgerKey && !prot.Keyed() {
		return nil, errors.New("security policy: ledger protector is not keyed")
	}
	return prot, nil
}
