//go:build !tinygo

package sim

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"t2count/core"
	"t2count/irq"
	"t2count/protocol"
)

// FreeRunning is the geometry of Timer2 after ConfigureFreeRunning: 16 MHz / 8
var FreeRunning = core.Geometry{WrapTicks: wrapTicks, TicksPerMicro: cpuFrequencyMHz / 8}

// BoardMCU is the MCU name a simulated board reports in its dictionary
const BoardMCU = "atmega328p-sim"

// PulsePin is the pin the pulse input is wired to, as on the real board
const PulsePin = "PD2"

// debugWriter logs firmware debug lines and, like the AVR firmware, sends
// them to the host as debug_output responses
func debugWriter(msg string) {
	log.Debug(msg)
	core.ProtocolDebugWriter(msg)
}

// Board errors
var (
	ErrBoardClosed = errors.New("simulated board closed")
	ErrBoardHalted = errors.New("simulated board not running")
)

// BoardConfig controls how simulated time advances
type BoardConfig struct {
	// Interval is the wall time between steps. Zero leaves time to Advance.
	Interval time.Duration
	// TicksPerStep is how far the timer moves per Interval
	TicksPerStep uint32

	// PulseWidth and PulsePeriod describe a square wave, in ticks, fed to the
	// pulse meter through a pin-change interrupt. A zero period disables it.
	PulseWidth  uint32
	PulsePeriod uint32
}

// PulseInput is a pin-change interrupt line
type PulseInput struct {
	pending atomic.Bool
	level   atomic.Bool
}

func (p *PulseInput) Pending() bool { return p.pending.Load() }
func (p *PulseInput) Enabled() bool { return true }
func (p *PulseInput) Acknowledge()  { p.pending.Store(false) }

// Level returns the current pin level
func (p *PulseInput) Level() bool { return p.level.Load() }

type advanceReq struct {
	ticks uint32
	fn    func()
	done  chan struct{}
}

// Board runs the counter firmware on a simulated Timer2 and exposes its serial
// link as an io.ReadWriteCloser. Everything the firmware does happens on the
// goroutine running Run, which plays the CPU.
//
// The firmware keeps its state in package globals, so only one Board can be in
// use at a time.
type Board struct {
	cfg BoardConfig

	Timer   *Timer2
	Counter *core.Counter
	Pulse   *core.PulseMeter

	input    PulseInput
	elapsed  uint64
	nextEdge uint64

	tr      *protocol.Transport
	out     *protocol.ScratchOutput
	pending []byte

	writes   chan []byte
	advances chan advanceReq
	reads    chan []byte

	readMu  sync.Mutex
	readBuf []byte

	stop      chan struct{}
	closeOnce sync.Once
	halted    chan struct{} // closed when Run returns
	haltOnce  sync.Once
}

// NewBoard installs the simulated timer as the firmware's counter, registers
// the command set and sets the counter up, as the firmware does at boot.
func NewBoard(cfg BoardConfig) *Board {
	if cfg.PulsePeriod != 0 && (cfg.PulseWidth == 0 || cfg.PulseWidth >= cfg.PulsePeriod) {
		log.Warningf("pulse width %d does not fit period %d, pulse input disabled", cfg.PulseWidth, cfg.PulsePeriod)
		cfg.PulsePeriod = 0
	}

	irq.Default.Reset()
	core.ClearEvents()
	core.SetGlobalTransport(nil)
	core.SetDebugWriter(debugWriter)
	core.SetDebugEnabled(true)

	b := &Board{
		cfg:      cfg,
		Timer:    NewTimer2(irq.Default),
		out:      protocol.NewScratchOutput(),
		writes:   make(chan []byte, 16),
		advances: make(chan advanceReq),
		reads:    make(chan []byte, 64),
		stop:     make(chan struct{}),
		halted:   make(chan struct{}),
		nextEdge: uint64(cfg.PulsePeriod),
	}
	b.Counter = core.SetTimerDriver(b.Timer)
	b.Pulse = core.NewPulseMeter(b.Counter)
	core.SetPulseMeter(b.Pulse)

	core.InitCoreCommands()
	core.RegisterCounterConstants(BoardMCU, FreeRunning)
	core.RegisterPulsePin(PulsePin)
	core.GetGlobalDictionary().SetBuildVersions(runtime.Version())
	core.GetGlobalDictionary().BuildDictionary()

	b.tr = protocol.NewTransport(b.out, func(id uint16, data *[]byte) error {
		return core.DispatchCommand(id, data)
	})
	b.tr.SetErrorCallback(func(id uint16, err error) {
		log.Debugf("sim board: command %d: %v", id, err)
	})
	core.SetGlobalTransport(b.tr)

	irq.Default.Attach(&b.input, b.onEdge)
	b.Counter.Setup()
	return b
}

// onEdge is the pin-change interrupt handler
func (b *Board) onEdge() {
	if b.Counter.IsSetup() {
		b.Pulse.Edge(b.input.Level())
	}
}

// Run executes the simulated CPU until ctx is done or the board is closed.
func (b *Board) Run(ctx context.Context) error {
	defer b.haltOnce.Do(func() { close(b.halted) })

	var tick <-chan time.Time
	if b.cfg.Interval > 0 && b.cfg.TicksPerStep > 0 {
		t := time.NewTicker(b.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stop:
			return nil
		case data := <-b.writes:
			b.receive(data)
		case req := <-b.advances:
			b.advance(req.ticks)
			if req.fn != nil {
				req.fn()
			}
			close(req.done)
		case <-tick:
			b.advance(b.cfg.TicksPerStep)
		}
	}
}

func (b *Board) receive(data []byte) {
	b.pending = append(b.pending, data...)
	in := protocol.NewSliceInputBuffer(b.pending)
	b.tr.Receive(in)
	b.pending = append(b.pending[:0], in.Data()...)

	if b.out.Len() == 0 {
		return
	}
	reply := append([]byte(nil), b.out.Result()...)
	b.out.Reset()
	select {
	case b.reads <- reply:
	case <-b.stop:
	}
}

// advance moves the timer forward, taking interrupts as they come due
func (b *Board) advance(n uint32) {
	for n > 0 {
		chunk := n
		if b.cfg.PulsePeriod > 0 {
			if toEdge := b.nextEdge - b.elapsed; toEdge < uint64(chunk) {
				chunk = uint32(toEdge)
			}
		}
		b.Timer.Step(chunk)
		b.elapsed += uint64(chunk)
		n -= chunk

		if b.cfg.PulsePeriod > 0 && b.elapsed == b.nextEdge {
			high := !b.input.Level()
			b.input.level.Store(high)
			b.input.pending.Store(true)
			if high {
				b.nextEdge += uint64(b.cfg.PulseWidth)
			} else {
				b.nextEdge += uint64(b.cfg.PulsePeriod - b.cfg.PulseWidth)
			}
			irq.Service()
		}
	}
}

// Elapsed returns the ticks simulated since the board was created. Call it
// from Exec.
func (b *Board) Elapsed() uint64 {
	return b.elapsed
}

// Advance moves simulated time by ticks on the CPU goroutine and waits for it.
func (b *Board) Advance(ticks uint32) error {
	return b.Exec(ticks, nil)
}

// Exec advances time by ticks and then runs fn on the CPU goroutine.
func (b *Board) Exec(ticks uint32, fn func()) error {
	if b.closed() {
		return ErrBoardClosed
	}
	req := advanceReq{ticks: ticks, fn: fn, done: make(chan struct{})}
	select {
	case b.advances <- req:
	case <-b.stop:
		return ErrBoardClosed
	case <-b.halted:
		return ErrBoardHalted
	}
	<-req.done
	return nil
}

// Write feeds bytes to the firmware's serial input
func (b *Board) Write(p []byte) (int, error) {
	if b.closed() {
		return 0, io.ErrClosedPipe
	}
	select {
	case b.writes <- append([]byte(nil), p...):
		return len(p), nil
	case <-b.stop:
		return 0, io.ErrClosedPipe
	}
}

// Read returns bytes sent by the firmware
func (b *Board) Read(p []byte) (int, error) {
	b.readMu.Lock()
	defer b.readMu.Unlock()

	if len(b.readBuf) == 0 {
		select {
		case b.readBuf = <-b.reads:
		case <-b.stop:
			return 0, io.EOF
		}
	}
	n := copy(p, b.readBuf)
	b.readBuf = b.readBuf[n:]
	return n, nil
}

func (b *Board) closed() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// Close stops Run and unblocks readers and writers
func (b *Board) Close() error {
	b.closeOnce.Do(func() { close(b.stop) })
	return nil
}

var (
	_ io.ReadWriteCloser = (*Board)(nil)
	_ irq.Source         = (*PulseInput)(nil)
)
