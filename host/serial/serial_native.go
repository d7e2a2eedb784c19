package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tarm/serial"
)

// NativePort is a Port on an OS serial device
type NativePort struct {
	port   *serial.Port
	cfg    Config
	closed atomic.Bool
}

// Open opens the device described by cfg
func Open(cfg *Config) (*NativePort, error) {
	if cfg == nil {
		return nil, errors.New("serial config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, errors.New("serial device not set")
	}

	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return &NativePort{port: p, cfg: *cfg}, nil
}

// Read returns io.EOF once the port is closed. A read timeout returns 0, nil.
func (p *NativePort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.EOF
	}
	n, err := p.port.Read(b)
	if err != nil && p.closed.Load() {
		return n, io.EOF
	}
	return n, err
}

func (p *NativePort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}

// Flush discards unread input
func (p *NativePort) Flush() error {
	if p.closed.Load() {
		return nil
	}
	return p.port.Flush()
}

// Device returns the path the port was opened on
func (p *NativePort) Device() string {
	return p.cfg.Device
}

var _ Port = (*NativePort)(nil)
