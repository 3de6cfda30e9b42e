package session

import (
	"context"
	"time"

	"restroom/cmd/security/token"
)

// Entry is a ledger record binding one principal to its current refresh
// token value.
type Entry struct {
	PrincipalID string
	Value       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Live reports whether e is still valid at now.
func (e Entry) Live(now time.Time) bool { return now.Before(e.ExpiresAt) }

// Remaining returns the lifetime left at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Ledger records the refresh token currently issued to each principal.
//
// Implementations must:
//   - never return an entry whose ExpiresAt is not after now;
//   - make Put atomic: insert when no live entry exists, otherwise return the
//     live entry unchanged with created=false;
//   - treat Delete of a missing principal as success.
type Ledger interface {
	Get(ctx context.Context, principalID string, now time.Time) (Entry, error)
	GetByValue(ctx context.Context, value string, now time.Time) (Entry, error)
	Put(ctx context.Context, principalID, value string, ttl time.Duration, now time.Time) (entry Entry, created bool, err error)
	Delete(ctx context.Context, principalID string) error
	// PurgeExpired physically removes entries expired at now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// maxPutAttempts bounds the retry when a conflicting entry vanishes between
// the insert attempt and the read of the winner.
const maxPutAttempts = 3

func newEntry(principalID, value string, ttl time.Duration, now time.Time) Entry {
	now = now.UTC()
	return Entry{
		PrincipalID: principalID,
		Value:       value,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

func validPut(principalID, value string, ttl time.Duration) bool {
	return principalID != "" && value != "" && ttl > 0
}

// devProtector is the unkeyed Protector used when a persistent ledger is
// built without one. It holds no state and is safe to share.
var devProtector = &token.Protector{}

func protectorOrDev(prot *token.Protector) *token.Protector {
	if prot == nil {
		return devProtector
	}
	return prot
}
