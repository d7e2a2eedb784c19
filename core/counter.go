package core

import (
	"sync/atomic"
	"time"
)

// Counter extends a narrow free-running hardware counter into a wide tick count.
//
// The overflow interrupt bumps a software overflow count every time the register
// wraps. Count combines the two inside a critical section and settles the case
// where the wrap has happened but its interrupt has not run yet.
type Counter struct {
	drv  TimerDriver
	geom Geometry

	// overflows is written from the overflow interrupt and from Count
	overflows atomic.Uint32

	saved   TimerConfig
	isSetup bool
}

// NewCounter creates a counter on top of a timer driver. Setup must be called
// before anything else.
func NewCounter(d TimerDriver) *Counter {
	if d == nil {
		panic("nil timer driver")
	}
	return &Counter{drv: d}
}

// Setup saves the current timer configuration, switches the timer to the fast
// free-running mode and enables the overflow interrupt.
func (c *Counter) Setup() {
	if c.isSetup {
		return
	}
	c.saved = c.drv.SaveConfig()
	c.drv.ConfigureFreeRunning()
	c.geom = c.drv.Geometry()
	if c.geom.WrapTicks == 0 || c.geom.TicksPerMicro == 0 {
		panic("timer driver reported an empty geometry")
	}
	c.drv.AttachOverflowHandler(c.HandleOverflow)
	c.isSetup = true
	c.drv.SetOverflowInterrupt(true)

	RecordEvent(EvtSetup, c.saved.Mode, c.saved.Clock)
}

// IsSetup reports whether Setup has run and Unsetup has not.
func (c *Counter) IsSetup() bool {
	return c.isSetup
}

// Geometry returns the wrap period and tick rate chosen by Setup.
func (c *Counter) Geometry() Geometry {
	c.mustSetup()
	return c.geom
}

// HandleOverflow is the overflow interrupt body. Keep it to the increment: it
// preempts the foreground once per wrap period.
func (c *Counter) HandleOverflow() {
	c.overflows.Add(1)
}

// Overflows returns the overflow count without touching the hardware.
func (c *Counter) Overflows() uint32 {
	return c.overflows.Load()
}

// Count returns the extended tick count.
//
// Interrupts are restored to the state they had on entry rather than enabled, so
// calling Count from an interrupt handler does not open the door to nested
// interrupts.
func (c *Counter) Count() uint64 {
	c.mustSetup()

	state := disableInterrupts()

	cnt := c.drv.Count()
	if c.drv.OverflowPending() {
		// The wrap may have landed between the two reads above, in which case cnt
		// still holds a value from just before it. Read again, account for the
		// wrap here and drop the flag so the interrupt does not count it twice.
		cnt = c.drv.Count()
		c.overflows.Add(1)
		c.drv.ClearOverflow()
		RecordEvent(EvtWrapCompensated, c.overflows.Load(), cnt)
	}
	total := uint64(c.overflows.Load())*uint64(c.geom.WrapTicks) + uint64(cnt)

	restoreInterrupts(state)
	return total
}

// Micros returns the extended count converted to microseconds. Count is cheaper
// and exact; use it for interval measurement.
func (c *Counter) Micros() float64 {
	return float64(c.Count()) / float64(c.geom.TicksPerMicro)
}

// Duration converts a number of ticks to a time.Duration.
func (c *Counter) Duration(ticks uint64) time.Duration {
	c.mustSetup()
	// ns = ticks * 1000 / TicksPerMicro, split to keep the product in range
	tpm := uint64(c.geom.TicksPerMicro)
	whole := ticks / tpm
	rem := ticks % tpm
	return time.Duration(whole)*time.Microsecond + time.Duration(rem*1000/tpm)
}

// Since returns the time elapsed since an earlier Count reading.
func (c *Counter) Since(start uint64) time.Duration {
	now := c.Count()
	if now < start {
		// a Reset happened in between
		return 0
	}
	return c.Duration(now - start)
}

// Reset zeroes the overflow count and the hardware counter and drops any pending
// overflow, so the interrupt cannot bump the fresh count right away.
func (c *Counter) Reset() {
	c.mustSetup()

	state := disableInterrupts()
	c.overflows.Store(0)
	c.drv.SetCount(0)
	c.drv.ClearOverflow()
	RecordEvent(EvtReset, 0, 0)
	restoreInterrupts(state)
}

// OverflowInterruptOff stops the overflow interrupt while the timer keeps
// running. Reading the count at least once per wrap period still loses nothing,
// since Count picks up the pending flag itself.
func (c *Counter) OverflowInterruptOff() {
	c.mustSetup()
	c.drv.SetOverflowInterrupt(false)
}

// OverflowInterruptOn re-enables the overflow interrupt.
func (c *Counter) OverflowInterruptOn() {
	c.mustSetup()
	c.drv.SetOverflowInterrupt(true)
}

// RevertToNormal turns the overflow interrupt off and restores the timer
// configuration saved by Setup.
func (c *Counter) RevertToNormal() {
	c.mustSetup()
	c.drv.SetOverflowInterrupt(false)
	c.drv.RestoreConfig(c.saved)
	c.isSetup = false

	RecordEvent(EvtUnsetup, c.saved.Mode, c.saved.Clock)
}

// Unsetup is the same as RevertToNormal.
func (c *Counter) Unsetup() {
	c.RevertToNormal()
}

func (c *Counter) mustSetup() {
	if !c.isSetup {
		panic("timer counter not set up")
	}
}

// HandleTimerOverflow is the overflow interrupt entry point for targets whose
// interrupt vectors must be bound to a top-level function.
func HandleTimerOverflow() {
	if timerCounter != nil {
		timerCounter.HandleOverflow()
	}
}

// GetCount returns the extended count of the installed counter.
func GetCount() uint64 {
	return MustCounter().Count()
}

// GetMicros returns the installed counter's time in microseconds.
func GetMicros() float64 {
	return MustCounter().Micros()
}
