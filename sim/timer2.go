//go:build !tinygo

// Package sim provides a host-side model of the ATmega328P Timer2 peripheral.
//
// The counter register and the overflow flag live in one atomic word, so a wrap
// updates both at the same instant the way the silicon does. Simulated time can
// advance from the CPU goroutine with Step, which takes the overflow interrupt
// right at the wrap, or from any goroutine with Tick, which only changes
// hardware state and leaves the interrupt pending for the CPU to take.
package sim

import (
	"context"
	"sync/atomic"
	"time"

	"t2count/core"
	"t2count/irq"
)

// Timer2 register bits used by the model, named after the datasheet.
const (
	WGM2AMask       = 0x03 // WGM21:WGM20 in TCCR2A
	CS2Mask         = 0x07 // CS22:CS20 clock select in TCCR2B
	WGM22           = 0x08 // in TCCR2B
	TOIE2           = 0x01 // in TIMSK2
	TOV2            = 0x01 // in TIFR2
	csDiv8          = 0x02
	cpuFrequencyMHz = 16
)

// Arduino core power-on configuration: phase-correct PWM, clk/64.
const (
	ArduinoTCCR2A = 0x01
	ArduinoTCCR2B = 0x04
)

const (
	wrapTicks = 256
	countMask = 0xFF
	flagBit   = 1 << 8
)

// Register names a register whose read can be hooked.
type Register uint8

const (
	RegTCNT2 Register = iota
	RegTIFR2
)

// ReadHook runs right after a register read, so tests can land a hardware
// event between two instructions of the code under test.
type ReadHook func(reg Register)

// Timer2 is a simulated 8-bit Timer2. It implements core.TimerDriver and
// irq.Source.
type Timer2 struct {
	ctrl *irq.Controller

	// state holds TCNT2 in bits 0-7 and TOV2 in bit 8
	state  atomic.Uint32
	tccr2a atomic.Uint32
	tccr2b atomic.Uint32
	timsk2 atomic.Uint32

	wraps atomic.Uint64
	hook  atomic.Pointer[ReadHook]
}

// NewTimer2 creates a timer in the Arduino power-on configuration whose
// interrupts are delivered through ctrl.
func NewTimer2(ctrl *irq.Controller) *Timer2 {
	t := &Timer2{ctrl: ctrl}
	t.tccr2a.Store(ArduinoTCCR2A)
	t.tccr2b.Store(ArduinoTCCR2B)
	return t
}

// SetReadHook installs a hook run after every TCNT2 or TIFR2 read. Pass nil to
// remove it.
func (t *Timer2) SetReadHook(h ReadHook) {
	if h == nil {
		t.hook.Store(nil)
		return
	}
	t.hook.Store(&h)
}

func (t *Timer2) afterRead(reg Register) {
	if h := t.hook.Load(); h != nil {
		(*h)(reg)
	}
}

// Running reports whether a clock source is selected.
func (t *Timer2) Running() bool {
	return t.tccr2b.Load()&CS2Mask != 0
}

// Wraps returns how many times the counter has wrapped since creation.
func (t *Timer2) Wraps() uint64 {
	return t.wraps.Load()
}

// Tick advances the counter by n ticks without taking interrupts. Safe from any
// goroutine. Several wraps while the flag is already set collapse into one, as
// on the real part.
func (t *Timer2) Tick(n uint32) {
	if n == 0 || !t.Running() {
		return
	}
	for {
		old := t.state.Load()
		cnt := old&countMask + n
		next := cnt % wrapTicks
		if cnt >= wrapTicks {
			next |= flagBit
		} else {
			next |= old & flagBit
		}
		if t.state.CompareAndSwap(old, next) {
			t.wraps.Add(uint64(cnt / wrapTicks))
			return
		}
	}
}

// Step advances the counter by n ticks on the CPU goroutine, stopping at every
// wrap to let the interrupt controller take the overflow interrupt.
func (t *Timer2) Step(n uint32) {
	for n > 0 {
		toWrap := wrapTicks - t.state.Load()&countMask
		chunk := n
		if chunk > toWrap {
			chunk = toWrap
		}
		t.Tick(chunk)
		n -= chunk
		if t.ctrl != nil {
			t.ctrl.Service()
		}
		if !t.Running() {
			return
		}
	}
}

// Run ticks the counter from a background goroutine every interval until ctx
// is done. ticksPerInterval ticks are added each time.
func (t *Timer2) Run(ctx context.Context, interval time.Duration, ticksPerInterval uint32) error {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.Tick(ticksPerInterval)
		}
	}
}

// Registers returns TCCR2A and TCCR2B.
func (t *Timer2) Registers() (tccr2a, tccr2b uint8) {
	return uint8(t.tccr2a.Load()), uint8(t.tccr2b.Load())
}

// Geometry derives the wrap period and tick rate from the clock select bits.
// Prescalers that do not divide the 16 MHz clock into whole ticks per
// microsecond report zero.
func (t *Timer2) Geometry() core.Geometry {
	div := prescaler(uint8(t.tccr2b.Load() & CS2Mask))
	g := core.Geometry{WrapTicks: wrapTicks}
	if div != 0 && cpuFrequencyMHz%div == 0 {
		g.TicksPerMicro = cpuFrequencyMHz / div
	}
	return g
}

// prescaler maps Timer2 clock select bits to the divider (datasheet table 18-9).
func prescaler(cs uint8) uint32 {
	switch cs {
	case 1:
		return 1
	case 2:
		return 8
	case 3:
		return 32
	case 4:
		return 64
	case 5:
		return 128
	case 6:
		return 256
	case 7:
		return 1024
	default:
		return 0
	}
}

// SaveConfig implements core.TimerDriver.
func (t *Timer2) SaveConfig() core.TimerConfig {
	return core.TimerConfig{Mode: t.tccr2a.Load(), Clock: t.tccr2b.Load()}
}

// RestoreConfig implements core.TimerDriver.
func (t *Timer2) RestoreConfig(cfg core.TimerConfig) {
	t.tccr2a.Store(cfg.Mode & 0xFF)
	t.tccr2b.Store(cfg.Clock & 0xFF)
}

// ConfigureFreeRunning selects clk/8 and normal mode (WGM22:0 = 0) so TCNT2
// only counts up.
func (t *Timer2) ConfigureFreeRunning() {
	t.tccr2b.Store(t.tccr2b.Load()&^CS2Mask | csDiv8)
	t.tccr2a.Store(t.tccr2a.Load() &^ WGM2AMask)
	t.tccr2b.Store(t.tccr2b.Load() &^ WGM22)
}

// Count reads TCNT2.
func (t *Timer2) Count() uint32 {
	v := t.state.Load() & countMask
	t.afterRead(RegTCNT2)
	return v
}

// SetCount writes TCNT2, leaving TOV2 alone.
func (t *Timer2) SetCount(v uint32) {
	for {
		old := t.state.Load()
		if t.state.CompareAndSwap(old, old&flagBit|v&countMask) {
			return
		}
	}
}

// OverflowPending reads TOV2 from TIFR2.
func (t *Timer2) OverflowPending() bool {
	v := t.state.Load()&flagBit != 0
	t.afterRead(RegTIFR2)
	return v
}

// ClearOverflow writes a one to TOV2, which clears it.
func (t *Timer2) ClearOverflow() {
	for {
		old := t.state.Load()
		if t.state.CompareAndSwap(old, old&^flagBit) {
			return
		}
	}
}

// SetOverflowInterrupt sets or clears TOIE2 in TIMSK2.
func (t *Timer2) SetOverflowInterrupt(enabled bool) {
	if enabled {
		t.timsk2.Store(t.timsk2.Load() | TOIE2)
	} else {
		t.timsk2.Store(t.timsk2.Load() &^ TOIE2)
	}
}

// AttachOverflowHandler binds h to the TIMER2_OVF vector.
func (t *Timer2) AttachOverflowHandler(h func()) {
	if t.ctrl != nil {
		t.ctrl.Attach(t, h)
	}
}

// Pending implements irq.Source.
func (t *Timer2) Pending() bool {
	return t.state.Load()&flagBit != 0
}

// Enabled implements irq.Source.
func (t *Timer2) Enabled() bool {
	return t.timsk2.Load()&TOIE2 != 0
}

// Acknowledge implements irq.Source; entering the vector clears TOV2.
func (t *Timer2) Acknowledge() {
	t.ClearOverflow()
}

var (
	_ core.TimerDriver = (*Timer2)(nil)
	_ irq.Source       = (*Timer2)(nil)
)
