// Package mcu is the host-side client for the counter firmware.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"t2count/host/serial"
	"t2count/protocol"
)

// Client errors
var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrNoDictionary = errors.New("dictionary not loaded")
)

// identify is bootstrapped before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
)

// DefaultTimeout bounds each request/response exchange
const DefaultTimeout = time.Second

// Pulse is a get_pulse reading in ticks
type Pulse struct {
	Width  uint32
	Period uint32
	Valid  bool
}

// MCU is a connection to a counter board
type MCU struct {
	// Timeout applies to requests whose context has no deadline
	Timeout time.Duration

	mu        sync.Mutex // one request in flight
	transport *protocol.HostTransport
	dict      *Dictionary
	raw       []byte
}

// New returns an unconnected client
func New() *MCU {
	return &MCU{Timeout: DefaultTimeout}
}

// Connect opens the serial device and starts the transport
func (m *MCU) Connect(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.Attach(port)
	log.Debugf("connected to %s at %d baud", cfg.Device, cfg.Baud)
	return nil
}

// Attach runs the client over an already open stream
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = protocol.NewHostTransport(port)
}

// Close closes the transport and the port
func (m *MCU) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil {
		return nil
	}
	err := m.transport.Close()
	m.transport = nil
	return err
}

// IsConnected reports whether a transport is attached
func (m *MCU) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport != nil
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dict
}

// RawDictionary returns the dictionary bytes as sent by the board
func (m *MCU) RawDictionary() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

func (m *MCU) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || m.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.Timeout)
}

// exchange sends one message and, if respID is set, waits for that response
// and returns its arguments. Other responses are skipped.
func (m *MCU) exchange(ctx context.Context, cmdID uint16, args func(protocol.OutputBuffer), respID *uint16) ([]byte, error) {
	if m.transport == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	m.transport.DrainResponses()
	if err := m.transport.SendCommand(cmdID, args); err != nil {
		return nil, err
	}
	if respID == nil {
		return nil, nil
	}
	for {
		msg, err := m.transport.Receive(ctx)
		if err != nil {
			return nil, err
		}
		id, rest, err := msg.ID()
		if err != nil {
			return nil, fmt.Errorf("bad response: %w", err)
		}
		if id == *respID {
			return rest, nil
		}
		log.Debugf("skipping response %d while waiting for %d", id, *respID)
	}
}

// RetrieveDictionary reads the data dictionary in identify chunks
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	respID := uint16(identifyResponseID)
	for {
		offset := uint32(buf.Len())
		args, err := m.exchange(ctx, identifyID, func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, offset)
			protocol.EncodeVLQUint(o, identifyChunk)
		}, &respID)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", offset, err)
		}
		got, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return fmt.Errorf("identify response: %w", err)
		}
		if got != offset {
			return fmt.Errorf("identify offset mismatch: asked %d, got %d", offset, got)
		}
		chunk, err := protocol.DecodeVLQBytes(&args)
		if err != nil {
			return fmt.Errorf("identify response: %w", err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}
	m.raw = buf.Bytes()
	m.dict = dict
	log.Debugf("dictionary %s: %d bytes, %d commands", dict.Version, len(m.raw), len(dict.Commands))
	return nil
}

// Call sends a command by name. If response is not empty it waits for that
// response and returns its undecoded arguments.
func (m *MCU) Call(ctx context.Context, command string, args func(protocol.OutputBuffer), response string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport == nil {
		return nil, ErrNotConnected
	}
	if m.dict == nil {
		return nil, ErrNoDictionary
	}
	cmdID, ok := m.dict.CommandID(command)
	if !ok {
		return nil, fmt.Errorf("unknown command %q", command)
	}
	var respID *uint16
	if response != "" {
		id, ok := m.dict.ResponseID(response)
		if !ok {
			return nil, fmt.Errorf("unknown response %q", response)
		}
		respID = &id
	}
	out, err := m.exchange(ctx, cmdID, args, respID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return out, nil
}

func decodeUints(data []byte, n int) ([]uint32, error) {
	vals := make([]uint32, n)
	for i := range vals {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// GetCount reads the extended tick count
func (m *MCU) GetCount(ctx context.Context) (uint64, error) {
	args, err := m.Call(ctx, "get_count", nil, "count")
	if err != nil {
		return 0, err
	}
	v, err := decodeUints(args, 2)
	if err != nil {
		return 0, fmt.Errorf("count response: %w", err)
	}
	return uint64(v[0])<<32 | uint64(v[1]), nil
}

// GetClock reads the low 32 bits of the count
func (m *MCU) GetClock(ctx context.Context) (uint32, error) {
	args, err := m.Call(ctx, "get_clock", nil, "clock")
	if err != nil {
		return 0, err
	}
	v, err := decodeUints(args, 1)
	if err != nil {
		return 0, fmt.Errorf("clock response: %w", err)
	}
	return v[0], nil
}

// TicksPerMicro returns the tick rate published in the dictionary
func (m *MCU) TicksPerMicro() (uint32, error) {
	d := m.Dictionary()
	if d == nil {
		return 0, ErrNoDictionary
	}
	tpm, err := d.Uint("TICKS_PER_US")
	if err == nil && tpm == 0 {
		err = errors.New("TICKS_PER_US is zero")
	}
	return tpm, err
}

// GetMicros reads the count and converts it to microseconds
func (m *MCU) GetMicros(ctx context.Context) (float64, error) {
	tpm, err := m.TicksPerMicro()
	if err != nil {
		return 0, err
	}
	count, err := m.GetCount(ctx)
	if err != nil {
		return 0, err
	}
	return float64(count) / float64(tpm), nil
}

// Setup switches the board's timer to free-running counting
func (m *MCU) Setup(ctx context.Context) error {
	_, err := m.Call(ctx, "counter_setup", nil, "")
	return err
}

// Unsetup restores the board's original timer configuration
func (m *MCU) Unsetup(ctx context.Context) error {
	_, err := m.Call(ctx, "counter_unsetup", nil, "")
	return err
}

// Reset zeroes the count
func (m *MCU) Reset(ctx context.Context) error {
	_, err := m.Call(ctx, "counter_reset", nil, "")
	return err
}

// SetOverflowIRQ turns the overflow interrupt on or off
func (m *MCU) SetOverflowIRQ(ctx context.Context, enable bool) error {
	var v uint32
	if enable {
		v = 1
	}
	_, err := m.Call(ctx, "counter_irq", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, v)
	}, "")
	return err
}

// GetPulse reads the last captured pulse
func (m *MCU) GetPulse(ctx context.Context) (Pulse, error) {
	args, err := m.Call(ctx, "get_pulse", nil, "pulse")
	if err != nil {
		return Pulse{}, err
	}
	v, err := decodeUints(args, 3)
	if err != nil {
		return Pulse{}, fmt.Errorf("pulse response: %w", err)
	}
	return Pulse{Width: v[0], Period: v[1], Valid: v[2] != 0}, nil
}

// GetBoardMicros reads the count converted to whole microseconds by the board
func (m *MCU) GetBoardMicros(ctx context.Context) (uint64, error) {
	args, err := m.Call(ctx, "get_micros", nil, "micros")
	if err != nil {
		return 0, err
	}
	v, err := decodeUints(args, 2)
	if err != nil {
		return 0, fmt.Errorf("micros response: %w", err)
	}
	return uint64(v[0])<<32 | uint64(v[1]), nil
}

// DumpEvents asks the board to dump its counter event ring and returns the
// lines it sent back as debug_output responses
func (m *MCU) DumpEvents(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	dict, tr := m.dict, m.transport
	m.mu.Unlock()
	if tr == nil {
		return nil, ErrNotConnected
	}
	if dict == nil {
		return nil, ErrNoDictionary
	}
	outID, ok := dict.ResponseID("debug_output")
	if !ok {
		return nil, fmt.Errorf("unknown response %q", "debug_output")
	}

	var mu sync.Mutex
	var lines []string
	tr.SetResponseHandler(func(id uint16, data *[]byte) error {
		if id != outID {
			return nil
		}
		s, err := protocol.DecodeVLQString(data)
		if err != nil {
			return err
		}
		mu.Lock()
		lines = append(lines, s)
		mu.Unlock()
		return nil
	})
	defer tr.SetResponseHandler(nil)

	// debug_output frames precede the ACK, so they are all handled once
	// the call returns
	if _, err := m.Call(ctx, "debug_dump", nil, ""); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return lines, nil
}
