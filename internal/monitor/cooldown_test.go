package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithinCooldown(t *testing.T) {
	now := time.Now()
	assert.True(t, WithinCooldown(now.Add(-5*time.Second), now, 10*time.Second))
	assert.False(t, WithinCooldown(now.Add(-15*time.Second), now, 10*time.Second))
}

func TestCooldownAllow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldown(time.Minute)
	c.now = func() time.Time { return now }

	assert.True(t, c.Allow("a1"))
	assert.False(t, c.Allow("a1"))
	assert.True(t, c.Allow("a2"))

	now = now.Add(2 * time.Minute)
	c.Prune()
	assert.Zero(t, c.Len())
	assert.True(t, c.Allow("a1"))
}
