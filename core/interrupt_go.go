//go:build !tinygo

package core

import "t2count/irq"

// State is the saved global interrupt state on regular Go
type State = irq.State

// disableInterrupts masks interrupts on the simulated CPU and returns the previous state
func disableInterrupts() State {
	return irq.Disable()
}

// restoreInterrupts puts the simulated CPU back into a saved state
func restoreInterrupts(state State) {
	irq.Restore(state)
}
