// Package windowtest provides fake clocks and window handles for tests.
package windowtest

import (
	"context"
	"sync"
	"time"

	"github.com/CedrosPay/checkout/internal/window"
)

// Clock is a manually driven window.Clock.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
	timers  []*Timer
}

// NewClock returns a fake clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) NewTicker(d time.Duration) window.Ticker {
	c.mu.Lock()
	t := &Ticker{d: d, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

func (c *Clock) NewTimer(d time.Duration) window.Timer {
	c.mu.Lock()
	t := &Timer{deadline: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// WaitForWatchers blocks until n tickers and timers in total have been created.
func (c *Clock) WaitForWatchers(ctx context.Context, n int) error {
	for {
		c.mu.Lock()
		created := len(c.tickers) + len(c.timers)
		c.mu.Unlock()
		if created >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Tick fires every running ticker once.
func (c *Clock) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		t.fire(c.now)
	}
}

// Advance moves time forward, firing expired timers and running tickers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		t.fireIfDue(c.now)
	}
	for _, t := range c.tickers {
		t.fire(c.now)
	}
}

// Tickers returns every ticker created so far.
func (c *Clock) Tickers() []*Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Ticker(nil), c.tickers...)
}

// Timers returns every timer created so far.
func (c *Clock) Timers() []*Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Timer(nil), c.timers...)
}

// Ticker is a fake window.Ticker.
type Ticker struct {
	mu      sync.Mutex
	d       time.Duration
	ch      chan time.Time
	stopped bool
}

func (t *Ticker) C() <-chan time.Time { return t.ch }

func (t *Ticker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (t *Ticker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Ticker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}

// Timer is a fake window.Timer.
type Timer struct {
	mu       sync.Mutex
	deadline time.Time
	ch       chan time.Time
	fired    bool
	stopped  bool
}

func (t *Timer) C() <-chan time.Time { return t.ch }

func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

// Stopped reports whether Stop was called.
func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Timer) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped || now.Before(t.deadline) {
		return
	}
	t.fired = true
	t.ch <- now
}

// Handle is a fake window.Handle.
type Handle struct {
	mu         sync.Mutex
	closed     bool
	closeCalls int
	CloseErr   error
}

func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeCalls++
	h.closed = true
	return h.CloseErr
}

// UserClose simulates the buyer closing the window.
func (h *Handle) UserClose() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// CloseCalls returns how many times Close was invoked.
func (h *Handle) CloseCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCalls
}

// Opener returns handles it creates and records requested names.
type Opener struct {
	mu      sync.Mutex
	Blocked bool
	Names   []string
	URLs    []string
	Handles []*Handle
}

func (o *Opener) Open(ctx context.Context, url, name string) (window.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Names = append(o.Names, name)
	o.URLs = append(o.URLs, url)
	if o.Blocked {
		return nil, nil
	}
	h := &Handle{}
	o.Handles = append(o.Handles, h)
	return h, nil
}

// Last returns the most recently opened handle.
func (o *Opener) Last() *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Handles) == 0 {
		return nil
	}
	return o.Handles[len(o.Handles)-1]
}
