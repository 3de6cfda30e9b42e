package identity

import (
	"time"

	"restroom/cmd/identity/ids"
)

// NewULID returns a new principal ID (26-char ULID).
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
