//go:build avr && atmega328p

package main

import (
	"device/avr"
	"runtime/interrupt"

	"t2count/core"
)

// Timer2 register bits (datasheet section 18.11)
const (
	wgm2AMask  = 0x03 // WGM21:WGM20 in TCCR2A
	wgm22      = 0x08 // WGM22 in TCCR2B
	cs2Mask    = 0x07 // CS22:CS20 in TCCR2B
	cs2Div8    = 0x02
	toie2      = 0x01 // TOIE2 in TIMSK2
	tov2       = 0x01 // TOV2 in TIFR2
	timer2Wrap = 256
	ticksPerUs = 2 // 16 MHz / 8
)

// timer2Geometry is the free-running mode set by ConfigureFreeRunning
var timer2Geometry = core.Geometry{WrapTicks: timer2Wrap, TicksPerMicro: ticksPerUs}

// Timer2Driver drives the ATmega328P 8-bit Timer2 as core.TimerDriver
type Timer2Driver struct{}

// The vector is bound at compile time; the handler goes straight to the
// installed counter.
var timer2Overflow = interrupt.New(avr.IRQ_TIMER2_OVF, func(interrupt.Interrupt) {
	core.HandleTimerOverflow()
})

func NewTimer2Driver() *Timer2Driver {
	return &Timer2Driver{}
}

func (d *Timer2Driver) Geometry() core.Geometry {
	return timer2Geometry
}

func (d *Timer2Driver) SaveConfig() core.TimerConfig {
	return core.TimerConfig{
		Mode:  uint32(avr.TCCR2A.Get()),
		Clock: uint32(avr.TCCR2B.Get()),
	}
}

func (d *Timer2Driver) RestoreConfig(cfg core.TimerConfig) {
	avr.TCCR2B.Set(uint8(cfg.Clock))
	avr.TCCR2A.Set(uint8(cfg.Mode))
}

// ConfigureFreeRunning selects clk/8 and normal mode, so TCNT2 counts 0..255
// and sets TOV2 on every wrap
func (d *Timer2Driver) ConfigureFreeRunning() {
	avr.TCCR2B.Set(avr.TCCR2B.Get()&^cs2Mask | cs2Div8)
	avr.TCCR2A.ClearBits(wgm2AMask)
	avr.TCCR2B.ClearBits(wgm22)
}

func (d *Timer2Driver) Count() uint32 {
	return uint32(avr.TCNT2.Get())
}

func (d *Timer2Driver) SetCount(v uint32) {
	avr.TCNT2.Set(uint8(v))
}

func (d *Timer2Driver) OverflowPending() bool {
	return avr.TIFR2.HasBits(tov2)
}

// ClearOverflow writes a one to TOV2, which is how the flag is cleared
func (d *Timer2Driver) ClearOverflow() {
	avr.TIFR2.Set(tov2)
}

func (d *Timer2Driver) SetOverflowInterrupt(enabled bool) {
	if enabled {
		avr.TIMSK2.SetBits(toie2)
	} else {
		avr.TIMSK2.ClearBits(toie2)
	}
}

// AttachOverflowHandler enables the statically bound vector. The handler is
// always core.HandleTimerOverflow.
func (d *Timer2Driver) AttachOverflowHandler(func()) {
	timer2Overflow.Enable()
}
