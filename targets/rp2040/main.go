//go:build rp2040

// Firmware for the RP2040 that runs a PWM slice as a 16-bit counter, extends
// it with the wrap interrupt and serves it over USB CDC.
package main

import (
	"machine"
	"runtime"
	"time"

	"t2count/core"
	"t2count/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgerrors uint32

	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog left running across a reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	InitDebugUART()

	core.InitCoreCommands()
	core.RegisterCounterConstants("rp2040", counterGeometry)
	core.RegisterPulsePin("GP16")
	core.GetGlobalDictionary().SetBuildVersions(runtime.Version())
	core.GetGlobalDictionary().BuildDictionary()

	counter := core.SetTimerDriver(NewPWMCounterDriver())
	counter.Setup()
	initPulseInput(counter)

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	// Responses are queued first; the ACK flush pushes them out with it
	transport.SetFlushCallback(writeUSB)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[CMD] " + itoa(int(cmdID)) + ": " + err.Error())
	})
	core.SetGlobalTransport(transport)

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
					core.DumpEvents()
				}
			}()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)

				transport.Receive(inputBuf)

				if consumed := originalLen - inputBuf.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			writeUSB()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop moves bytes from USB into the input FIFO
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// First byte after a disconnect starts a fresh session
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// writeUSB writes pending output, dropping it after repeated failures
func writeUSB() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
		consecutiveWriteFailures = 0
	}
	outputBuffer.Reset()
}
