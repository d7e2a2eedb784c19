// Package serial opens the link to a counter board.
package serial

import (
	"io"
	"time"
)

// Port is a byte stream to the board. Tests substitute an in-memory loopback.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config holds serial port settings
type Config struct {
	Device string // e.g. /dev/ttyACM0, /dev/ttyUSB0, COM3
	Baud   int    // ignored by USB CDC boards

	// ReadTimeout bounds each Read so the reader can notice shutdown; zero
	// blocks
	ReadTimeout time.Duration
}

// DefaultBaud matches the UART setup of the AVR firmware
const DefaultBaud = 250000

// DefaultConfig returns settings for device at the firmware's baud rate
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
