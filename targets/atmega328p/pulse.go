//go:build avr && atmega328p

package main

import (
	"device/avr"
	"runtime/interrupt"

	"t2count/core"
)

// Pulse input on PD2 (INT0, Arduino pin 2)
const (
	pulsePinMask = 1 << 2
	isc00        = 0x01 // any logical change on INT0
	int0Enable   = 0x01
)

var pulseMeter *core.PulseMeter

var int0 = interrupt.New(avr.IRQ_INT0, func(interrupt.Interrupt) {
	if pulseMeter != nil && core.MustCounter().IsSetup() {
		pulseMeter.Edge(avr.PIND.HasBits(pulsePinMask))
	}
})

// initPulseInput measures the signal on PD2 with the counter
func initPulseInput(c *core.Counter) {
	pulseMeter = core.NewPulseMeter(c)
	core.SetPulseMeter(pulseMeter)

	avr.DDRD.ClearBits(pulsePinMask)
	avr.PORTD.SetBits(pulsePinMask) // pull-up, idle high for open-collector receivers
	avr.EICRA.Set(avr.EICRA.Get()&^0x03 | isc00)
	avr.EIFR.Set(int0Enable)
	avr.EIMSK.SetBits(int0Enable)
	int0.Enable()
}
