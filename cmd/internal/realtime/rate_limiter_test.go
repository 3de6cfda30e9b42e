package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, 3*time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(t0), "event %d", i)
	}
	assert.False(t, rl.Allow(t0))
	assert.False(t, rl.Allow(t0.Add(500*time.Millisecond)))
	assert.True(t, rl.Allow(t0.Add(time.Second)))
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < rateLimitEvents; i++ {
		assert.True(t, rl.Allow(t0))
	}
	assert.False(t, rl.Allow(t0))
}
