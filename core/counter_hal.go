package core

// TimerConfig is the peripheral configuration captured before Setup so that
// Unsetup can put the timer back the way the platform had it.
// On AVR Timer2 these are TCCR2A and TCCR2B; other targets pick their own pair.
type TimerConfig struct {
	Mode  uint32
	Clock uint32
}

// Geometry describes the counting mode selected by ConfigureFreeRunning.
type Geometry struct {
	// WrapTicks is the number of ticks between overflows (256 for an 8-bit register)
	WrapTicks uint32

	// TicksPerMicro is the tick rate in ticks per microsecond
	TicksPerMicro uint32
}

// TicksPerSecond returns the counting frequency.
func (g Geometry) TicksPerSecond() uint32 {
	return g.TicksPerMicro * 1000000
}

// TimerDriver is the abstract free-running counter peripheral the core extends.
// Platform-specific implementations touch the actual registers.
type TimerDriver interface {
	// Geometry returns the wrap period and tick rate of the free-running mode
	Geometry() Geometry

	// SaveConfig reads the current mode and clock-source configuration
	SaveConfig() TimerConfig

	// RestoreConfig writes back a configuration captured by SaveConfig
	RestoreConfig(cfg TimerConfig)

	// ConfigureFreeRunning switches to count-up-only mode at the fast prescaler
	ConfigureFreeRunning()

	// Count reads the hardware counter register
	Count() uint32

	// SetCount writes the hardware counter register
	SetCount(v uint32)

	// OverflowPending reads the overflow flag
	OverflowPending() bool

	// ClearOverflow clears the overflow flag so the pending interrupt is dropped
	ClearOverflow()

	// SetOverflowInterrupt enables or disables delivery of the overflow interrupt
	SetOverflowInterrupt(enabled bool)

	// AttachOverflowHandler installs the routine run by the overflow interrupt
	AttachOverflowHandler(h func())
}

// Global singleton used by core code.
var timerCounter *Counter

// SetTimerDriver is called by target-specific code to register its counter
// peripheral. It replaces any previously installed counter.
func SetTimerDriver(d TimerDriver) *Counter {
	timerCounter = NewCounter(d)
	return timerCounter
}

// MustCounter returns the installed counter or panics if missing.
func MustCounter() *Counter {
	if timerCounter == nil {
		panic("timer driver not configured")
	}
	return timerCounter
}
