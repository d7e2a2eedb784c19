package core

import (
	"errors"

	"t2count/protocol"
)

// ErrCounterNotSetup is returned by commands that need a set-up counter
var ErrCounterNotSetup = errors.New("counter not set up")

// ErrNoTimerDriver is returned by counter_setup before a target installed its driver
var ErrNoTimerDriver = errors.New("timer driver not configured")

// ErrNoPulseMeter is returned by get_pulse when the target has no pulse input
var ErrNoPulseMeter = errors.New("no pulse meter configured")

// Global transport for sending responses (set by main)
var globalTransport *protocol.Transport

// Pulse meter exposed through get_pulse (set by target code, optional)
var globalPulse *PulseMeter

// SetGlobalTransport sets the global transport for sending responses
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// SetPulseMeter exposes a pulse meter to the host
func SetPulseMeter(p *PulseMeter) {
	globalPulse = p
}

// InitCoreCommands registers the protocol command set.
// IMPORTANT: identify_response and identify must be IDs 0 and 1, the host's
// bootstrap dictionary hardcodes them.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")       // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_count", "", handleGetCount)
	RegisterCommand("counter_setup", "", handleCounterSetup)
	RegisterCommand("counter_unsetup", "", handleCounterUnsetup)
	RegisterCommand("counter_reset", "", handleCounterReset)
	RegisterCommand("counter_irq", "enable=%c", handleCounterIRQ)
	RegisterCommand("get_pulse", "", handleGetPulse)
	RegisterCommand("get_micros", "", handleGetMicros)
	RegisterCommand("debug_dump", "", handleDebugDump)

	// Response messages (MCU -> Host)
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("clock", "clock=%u")
	RegisterResponse("count", "high=%u low=%u")
	RegisterResponse("pulse", "width=%u period=%u valid=%c")
	RegisterResponse("micros", "high=%u low=%u")
	RegisterResponse("debug_output", "msg=%*s")
}

// RegisterCounterConstants publishes the counter geometry so the host can
// convert ticks without hardcoding the prescaler
func RegisterCounterConstants(mcu string, g Geometry) {
	RegisterConstant("MCU", mcu)
	RegisterConstant("CLOCK_FREQ", g.TicksPerSecond())
	RegisterConstant("TICKS_PER_US", g.TicksPerMicro)
	RegisterConstant("WRAP_TICKS", g.WrapTicks)
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func readyCounter() (*Counter, error) {
	if timerCounter == nil || !timerCounter.IsSetup() {
		return nil, ErrCounterNotSetup
	}
	return timerCounter, nil
}

// handleGetUptime returns the extended count as high/low words
func handleGetUptime(data *[]byte) error {
	if _, err := readyCounter(); err != nil {
		return err
	}
	uptime := GetUptime()

	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

// handleGetClock returns the low 32 bits of the extended count
func handleGetClock(data *[]byte) error {
	if _, err := readyCounter(); err != nil {
		return err
	}
	clock := GetTime()

	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

// handleGetCount returns the extended count
func handleGetCount(data *[]byte) error {
	c, err := readyCounter()
	if err != nil {
		return err
	}
	count := c.Count()

	SendResponse("count", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(count>>32))
		protocol.EncodeVLQUint(output, uint32(count))
	})
	return nil
}

func handleCounterSetup(data *[]byte) error {
	if timerCounter == nil {
		return ErrNoTimerDriver
	}
	timerCounter.Setup()
	return nil
}

func handleCounterUnsetup(data *[]byte) error {
	c, err := readyCounter()
	if err != nil {
		return err
	}
	c.Unsetup()
	return nil
}

func handleCounterReset(data *[]byte) error {
	c, err := readyCounter()
	if err != nil {
		return err
	}
	c.Reset()
	if globalPulse != nil {
		globalPulse.Reset()
	}
	return nil
}

// handleCounterIRQ toggles the overflow interrupt
// Format: counter_irq enable=%c
func handleCounterIRQ(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	c, err := readyCounter()
	if err != nil {
		return err
	}
	if enable != 0 {
		c.OverflowInterruptOn()
	} else {
		c.OverflowInterruptOff()
	}
	return nil
}

// handleGetPulse reports the last captured pulse
func handleGetPulse(data *[]byte) error {
	if globalPulse == nil {
		return ErrNoPulseMeter
	}
	width, period, valid := globalPulse.Read()

	SendResponse("pulse", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, width)
		protocol.EncodeVLQUint(output, period)
		if valid {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
	})
	return nil
}

// handleGetMicros returns the extended count in whole microseconds
func handleGetMicros(data *[]byte) error {
	c, err := readyCounter()
	if err != nil {
		return err
	}
	us := TimerToUS(c.Count())

	SendResponse("micros", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(us>>32))
		protocol.EncodeVLQUint(output, uint32(us))
	})
	return nil
}

// handleDebugDump writes the event ring through the debug writer
func handleDebugDump(data *[]byte) error {
	DumpEvents()
	return nil
}

// ProtocolDebugWriter is a DebugWriter for targets with a single serial
// link: each line goes to the host as a debug_output response.
func ProtocolDebugWriter(msg string) {
	if len(msg) > debugOutputMax {
		msg = msg[:debugOutputMax]
	}
	SendResponse("debug_output", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, msg)
	})
}

// debugOutputMax keeps a debug_output response inside one frame
const debugOutputMax = protocol.MessageLengthMax - protocol.MessageLengthMin - 4

// SendResponse sends a response message using the global transport
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		// all responses are registered in InitCoreCommands
		panic("Response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// RegisterPulsePin names the pulse input pin in the dictionary's pin
// enumeration. Call before BuildDictionary.
func RegisterPulsePin(name string) {
	RegisterEnumeration("pin", []string{name})
}
