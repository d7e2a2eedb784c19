package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// CounterEvent captures a counter state change for post-mortem analysis
type CounterEvent struct {
	EventType uint8  // Event type code
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtSetup           = 1 // Setup ran; values are the saved config
	EvtUnsetup         = 2 // Saved config restored
	EvtReset           = 3 // Count zeroed
	EvtWrapCompensated = 4 // Count found the overflow flag set; overflows, register
	EvtPulse           = 5 // Pulse captured; width, period
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event capture ring buffer (non-blocking, for post-mortem)
	eventRing     [EventRingSize]CounterEvent
	eventRingHead uint8
	eventsEnabled bool = true
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// SetEventsEnabled turns event capture on or off
func SetEventsEnabled(enabled bool) {
	eventsEnabled = enabled
}

// RecordEvent captures a counter event in the ring buffer. Interrupt handlers
// record events too, so the slot and head update run masked.
func RecordEvent(eventType uint8, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)

	idx := eventRingHead
	eventRing[idx] = CounterEvent{
		EventType: eventType,
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the captured events, oldest first
func Events() []CounterEvent {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	out := make([]CounterEvent, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

func eventName(t uint8) string {
	switch t {
	case EvtSetup:
		return "SETUP"
	case EvtUnsetup:
		return "UNSETUP"
	case EvtReset:
		return "RESET"
	case EvtWrapCompensated:
		return "WRAP_COMP"
	case EvtPulse:
		return "PULSE"
	default:
		return "UNKNOWN"
	}
}

// DumpEvents outputs the event ring through the debug writer
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[COUNTER] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[COUNTER] " + eventName(evt.EventType) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[COUNTER] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range eventRing {
		eventRing[i] = CounterEvent{}
	}
	eventRingHead = 0
}
