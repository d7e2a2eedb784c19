//go:build !tinygo

// Package irq simulates a single-CPU interrupt controller for host builds.
//
// It models the AVR status register I-bit: a global enable flag that foreground
// code can save, clear and restore, plus a set of interrupt lines each backed by a
// peripheral flag. Handlers are dispatched only on the CPU goroutine at
// instruction boundaries (Service, Restore, Enable), never asynchronously, so the
// simulated CPU stays single-threaded while simulated hardware may run elsewhere.
package irq

import (
	"sync"
	"sync/atomic"
)

// State is the saved global interrupt enable state, like a copy of SREG.
type State bool

// Source is the peripheral side of an interrupt line.
type Source interface {
	// Pending reports whether the peripheral flag for this line is set
	Pending() bool

	// Enabled reports whether the peripheral's own interrupt mask bit is set
	Enabled() bool

	// Acknowledge clears the flag on handler entry, as hardware does
	Acknowledge()
}

// Handler is an interrupt service routine.
type Handler func()

type line struct {
	src     Source
	handler Handler
}

// Controller is a simulated interrupt controller.
type Controller struct {
	mu    sync.Mutex
	lines []line

	enabled  atomic.Bool
	depth    int32
	maxDepth int32
	serviced uint64
}

// NewController creates a controller with global interrupts enabled.
func NewController() *Controller {
	c := &Controller{}
	c.enabled.Store(true)
	return c
}

// Attach registers a handler for a source. Lines are serviced in attach order,
// which stands in for vector priority.
func (c *Controller) Attach(src Source, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].src == src {
			c.lines[i].handler = h
			return
		}
	}
	c.lines = append(c.lines, line{src: src, handler: h})
}

// Detach removes the handler for a source.
func (c *Controller) Detach(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].src == src {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// Enabled reports the global interrupt enable bit.
func (c *Controller) Enabled() bool {
	return c.enabled.Load()
}

// Disable clears the global enable bit and returns its previous value.
func (c *Controller) Disable() State {
	return State(c.enabled.Swap(false))
}

// Restore puts the global enable bit back to a saved state. Restoring an enabled
// state takes any interrupt that became pending meanwhile.
func (c *Controller) Restore(s State) {
	c.enabled.Store(bool(s))
	if s {
		c.Service()
	}
}

// Enable sets the global enable bit unconditionally, like the sei instruction.
func (c *Controller) Enable() {
	c.Restore(true)
}

// Service dispatches every pending, unmasked line while the global bit is set.
// The global bit is cleared for the duration of each handler and set again on
// return, so a handler only nests if it enables interrupts itself.
func (c *Controller) Service() {
	for c.enabled.Load() {
		h, ok := c.next()
		if !ok {
			return
		}
		c.enabled.Store(false)
		d := atomic.AddInt32(&c.depth, 1)
		for {
			m := atomic.LoadInt32(&c.maxDepth)
			if d <= m || atomic.CompareAndSwapInt32(&c.maxDepth, m, d) {
				break
			}
		}
		atomic.AddUint64(&c.serviced, 1)
		h()
		atomic.AddInt32(&c.depth, -1)
		c.enabled.Store(true)
	}
}

// next picks the first pending line and acknowledges it.
func (c *Controller) next() (Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l.handler != nil && l.src.Enabled() && l.src.Pending() {
			l.src.Acknowledge()
			return l.handler, true
		}
	}
	return nil, false
}

// InHandler reports whether a handler is currently executing.
func (c *Controller) InHandler() bool {
	return atomic.LoadInt32(&c.depth) > 0
}

// MaxDepth returns the deepest handler nesting seen. Anything above 1 means a
// handler was re-entered.
func (c *Controller) MaxDepth() int {
	return int(atomic.LoadInt32(&c.maxDepth))
}

// Serviced returns the number of handler invocations.
func (c *Controller) Serviced() uint64 {
	return atomic.LoadUint64(&c.serviced)
}

// Reset detaches every line and returns the controller to power-on state.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
	atomic.StoreInt32(&c.depth, 0)
	atomic.StoreInt32(&c.maxDepth, 0)
	atomic.StoreUint64(&c.serviced, 0)
	c.enabled.Store(true)
}

// Default is the controller behind the package-level functions; it plays the
// role of the one CPU in a host build.
var Default = NewController()

// Disable clears the global enable bit of the default controller.
func Disable() State { return Default.Disable() }

// Restore restores the global enable bit of the default controller.
func Restore(s State) { Default.Restore(s) }

// Enable sets the global enable bit of the default controller.
func Enable() { Default.Enable() }

// Service takes pending interrupts on the default controller.
func Service() { Default.Service() }

// Attach registers a handler on the default controller.
func Attach(src Source, h Handler) { Default.Attach(src, h) }

// Detach removes a handler from the default controller.
func Detach(src Source) { Default.Detach(src) }
