//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"t2count/core"
)

// RP2040 PWM block memory map. Each slice has five registers 0x14 apart.
const (
	pwmBase     = 0x40050000
	pwmSliceLen = 0x14
	pwmCSR      = 0x00
	pwmDIV      = 0x04
	pwmCTR      = 0x08
	pwmTOP      = 0x10
	pwmINTR     = pwmBase + 0xA4 // raw interrupts, write 1 to clear
	pwmINTE     = pwmBase + 0xA8
)

const (
	csrEN        = 1 << 0
	csrPhCorrect = 1 << 1
	csrDivMode   = 0x3 << 4 // 0 = free-running from the fractional divider
)

// counterSlice is the PWM slice used as the counter. Its pins (GPIO14/15) are
// left as plain GPIO.
const counterSlice = 7

// 125 MHz clk_sys / 62.5 = 2 MHz, wrapping every 65536 ticks
const (
	divInt        = 62
	divFrac       = 8 // 8/16
	counterTop    = 0xFFFF
	counterWrap   = counterTop + 1
	ticksPerMicro = 2
)

var counterGeometry = core.Geometry{WrapTicks: counterWrap, TicksPerMicro: ticksPerMicro}

func sliceReg(offset uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(pwmBase + counterSlice*pwmSliceLen + offset)))
}

var (
	sliceCSR = sliceReg(pwmCSR)
	sliceDIV = sliceReg(pwmDIV)
	sliceCTR = sliceReg(pwmCTR)
	sliceTOP = sliceReg(pwmTOP)
	intrReg  = (*volatile.Register32)(unsafe.Pointer(uintptr(pwmINTR)))
	inteReg  = (*volatile.Register32)(unsafe.Pointer(uintptr(pwmINTE)))
)

// The wrap vector is shared by all slices; only the counter slice is enabled
// in INTE.
var pwmWrap = interrupt.New(rp.IRQ_PWM_IRQ_WRAP, func(interrupt.Interrupt) {
	core.HandleTimerOverflow()
})

// PWMCounterDriver runs one PWM slice as a free-running 16-bit counter
type PWMCounterDriver struct{}

func NewPWMCounterDriver() *PWMCounterDriver {
	return &PWMCounterDriver{}
}

func (d *PWMCounterDriver) Geometry() core.Geometry {
	return counterGeometry
}

// SaveConfig packs CSR and TOP into Mode and keeps DIV as Clock
func (d *PWMCounterDriver) SaveConfig() core.TimerConfig {
	return core.TimerConfig{
		Mode:  sliceCSR.Get()&0xFF | sliceTOP.Get()<<16,
		Clock: sliceDIV.Get(),
	}
}

func (d *PWMCounterDriver) RestoreConfig(cfg core.TimerConfig) {
	sliceCSR.ClearBits(csrEN)
	sliceDIV.Set(cfg.Clock)
	sliceTOP.Set(cfg.Mode >> 16)
	sliceCSR.Set(cfg.Mode & 0xFF)
}

func (d *PWMCounterDriver) ConfigureFreeRunning() {
	sliceCSR.ClearBits(csrEN)
	sliceDIV.Set(divInt<<4 | divFrac)
	sliceTOP.Set(counterTop)
	sliceCSR.ClearBits(csrDivMode | csrPhCorrect)
	sliceCSR.SetBits(csrEN)
}

func (d *PWMCounterDriver) Count() uint32 {
	return sliceCTR.Get() & counterTop
}

func (d *PWMCounterDriver) SetCount(v uint32) {
	sliceCTR.Set(v & counterTop)
}

func (d *PWMCounterDriver) OverflowPending() bool {
	return intrReg.HasBits(1 << counterSlice)
}

func (d *PWMCounterDriver) ClearOverflow() {
	intrReg.Set(1 << counterSlice)
}

func (d *PWMCounterDriver) SetOverflowInterrupt(enabled bool) {
	if enabled {
		inteReg.SetBits(1 << counterSlice)
	} else {
		inteReg.ClearBits(1 << counterSlice)
	}
}

// AttachOverflowHandler enables the statically bound wrap vector
func (d *PWMCounterDriver) AttachOverflowHandler(func()) {
	pwmWrap.Enable()
}
