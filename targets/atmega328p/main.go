//go:build avr && atmega328p

// Firmware for an ATmega328P (Arduino Uno/Nano) that extends Timer2 into a
// wide tick counter and serves it over the UART.
package main

import (
	"machine"
	"runtime"
	"time"

	"t2count/core"
	"t2count/protocol"
)

const baudRate = 250000

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgErrors uint32
)

func main() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: baudRate})

	core.InitCoreCommands()
	core.RegisterCounterConstants("atmega328p", timer2Geometry)
	core.RegisterPulsePin("PD2")
	core.GetGlobalDictionary().SetBuildVersions(runtime.Version())
	core.GetGlobalDictionary().BuildDictionary()

	counter := core.SetTimerDriver(NewTimer2Driver())
	counter.Setup()
	initPulseInput(counter)

	inputBuffer = protocol.NewFifoBuffer(96)
	outputBuffer = protocol.NewScratchOutput()
	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	transport.SetFlushCallback(writeSerial)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgErrors++
	})
	core.SetGlobalTransport(transport)

	// The UART is the only serial port, so debug lines travel as
	// debug_output responses
	core.SetDebugWriter(core.ProtocolDebugWriter)
	core.SetDebugEnabled(true)

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgErrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
					core.DumpEvents()
					writeSerial()
				}
			}()

			for machine.Serial.Buffered() > 0 {
				b, err := machine.Serial.ReadByte()
				if err != nil {
					break
				}
				if inputBuffer.Write([]byte{b}) == 0 {
					msgErrors++
					break
				}
			}

			if inputBuffer.Available() > 0 {
				in := protocol.NewSliceInputBuffer(inputBuffer.Data())
				before := in.Available()
				transport.Receive(in)
				inputBuffer.Pop(before - in.Available())
			}
			writeSerial()
		}()

		time.Sleep(50 * time.Microsecond)
	}
}

func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// writeSerial pushes pending output to the UART
func writeSerial() {
	if outputBuffer.Len() == 0 {
		return
	}
	machine.Serial.Write(outputBuffer.Result())
	outputBuffer.Reset()
}
