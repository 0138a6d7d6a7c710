// Package countdown implements the session clock of an assessment attempt.
package countdown

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// TickInterval is how often the remaining time is recomputed
const TickInterval = time.Second

// Countdown counts down to a fixed expiry time and invokes a callback once
// when it is reached. The remaining time never increases.
type Countdown struct {
	clk      clock.WithTicker
	expires  time.Time
	onExpire func()
	onTick   func(time.Duration)

	mu        sync.Mutex
	remaining time.Duration
	fired     bool
	started   bool
	stopped   bool
	ticker    clock.Ticker
	stop      chan struct{}
	done      chan struct{}
}

// New creates a countdown to expiresAt. onExpire may be nil.
func New(clk clock.WithTicker, expiresAt time.Time, onExpire func()) *Countdown {
	remaining := expiresAt.Sub(clk.Now())
	if remaining < 0 {
		remaining = 0
	}
	return &Countdown{
		clk:       clk,
		expires:   expiresAt,
		onExpire:  onExpire,
		remaining: remaining,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// OnTick registers a callback invoked with the remaining time after every
// recomputation. Must be called before Start.
func (c *Countdown) OnTick(fn func(time.Duration)) {
	c.onTick = fn
}

// Start begins ticking. A countdown whose expiry already passed fires
// right away without waiting for a tick.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ticker = c.clk.NewTicker(TickInterval)
	ticker := c.ticker
	c.mu.Unlock()

	go c.run(ticker)
}

func (c *Countdown) run(ticker clock.Ticker) {
	defer close(c.done)

	if c.tick() {
		return
	}
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C():
			if c.tick() {
				return
			}
		}
	}
}

// tick recomputes the remaining time and reports whether the countdown is finished
func (c *Countdown) tick() bool {
	c.mu.Lock()
	if c.fired || c.stopped {
		c.mu.Unlock()
		return true
	}

	remaining := c.expires.Sub(c.clk.Now())
	if remaining < 0 {
		remaining = 0
	}
	if remaining < c.remaining {
		c.remaining = remaining
	}
	remaining = c.remaining

	expired := remaining == 0
	if expired {
		c.fired = true
		c.stopTickerLocked()
	}
	onTick, onExpire := c.onTick, c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
	return expired
}

// Stop halts the countdown without firing. Safe to call repeatedly and
// from within the expiry callback.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	c.stopTickerLocked()
	close(c.stop)
}

func (c *Countdown) stopTickerLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// Remaining returns the last computed remaining time
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// RemainingSeconds returns the remaining time in whole seconds
func (c *Countdown) RemainingSeconds() int {
	return int(c.Remaining() / time.Second)
}

// Expired reports whether the expiry callback has fired
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Done is closed once the ticking goroutine exits
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

// ExpiresAt returns the fixed expiry time
func (c *Countdown) ExpiresAt() time.Time {
	return c.expires
}
