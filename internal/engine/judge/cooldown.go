package judge

import (
	"context"
	"sync"
	"time"
)

// Cooldown is the shared rate-limit state: after a 429 every caller waits
// until the cooldown elapses before sending again.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{now: time.Now}
}

// Trip extends the cooldown to at least d from now.
func (c *Cooldown) Trip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := c.now().Add(d); until.After(c.until) {
		c.until = until
	}
}

// Remaining is how long callers still have to wait.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := c.until.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

// Wait blocks until the cooldown has elapsed or ctx is done.
func (c *Cooldown) Wait(ctx context.Context) error {
	for {
		d := c.Remaining()
		if d <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
