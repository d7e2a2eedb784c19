//go:build rp2040

package main

import (
	"machine"

	"t2count/core"
)

// pulsePin carries the measured signal
const pulsePin = machine.GP16

var pulseMeter *core.PulseMeter

func initPulseInput(c *core.Counter) {
	pulseMeter = core.NewPulseMeter(c)
	core.SetPulseMeter(pulseMeter)

	pulsePin.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	pulsePin.SetInterrupt(machine.PinRising|machine.PinFalling, func(p machine.Pin) {
		if c.IsSetup() {
			pulseMeter.Edge(p.Get())
		}
	})
}
