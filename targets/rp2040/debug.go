//go:build rp2040

package main

import (
	"machine"

	"t2count/core"
)

var debugUART *machine.UART

// InitDebugUART sends firmware debug lines out of UART0 (GP0 TX, GP1 RX) at
// 115200 baud, keeping USB free for the protocol
func InitDebugUART() {
	debugUART = machine.UART0
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})
	if err != nil {
		return
	}
	core.SetDebugWriter(debugPrintln)
	core.SetDebugEnabled(true)
	core.DebugPrintln("=== t2count RP2040 debug UART ===")
}

func debugPrintln(s string) {
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
