package monitor

import (
	"sync"
	"time"
)

func WithinCooldown(last, now time.Time, cooldown time.Duration) bool {
	return now.Sub(last) < cooldown
}

// Cooldown remembers when each key last fired and refuses to fire it again
// inside the window.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: map[string]time.Time{}, now: time.Now}
}

// Allow reports whether key may fire now and, if so, records the firing.
func (c *Cooldown) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.last[key]; ok && WithinCooldown(last, now, c.window) {
		return false
	}
	c.last[key] = now
	return true
}

// Prune drops keys whose window has passed.
func (c *Cooldown) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, last := range c.last {
		if !WithinCooldown(last, now, c.window) {
			delete(c.last, key)
		}
	}
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
