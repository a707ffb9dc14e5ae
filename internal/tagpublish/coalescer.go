package tagpublish

import (
	"sync"
	"time"
)

// coalescer collapses repeated schedule() calls inside a fixed window into
// a single deferred run, so a burst of tag changes on the same group
// produces one publish instead of one per change (§4.7/§6).
type coalescer struct {
	window time.Duration

	mu      sync.Mutex
	pending func()
	timer   *time.Timer
}

func newCoalescer(window time.Duration) *coalescer {
	return &coalescer{window: window}
}

// schedule replaces any pending run with fn and (re)arms the window timer.
// Only the most recently scheduled fn fires when the window elapses.
func (c *coalescer) schedule(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = fn
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.fire)
}

func (c *coalescer) fire() {
	c.mu.Lock()
	fn := c.pending
	c.pending = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
