//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Host transport errors
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrAckTimeout      = errors.New("ACK timeout")
	ErrNak             = errors.New("frame rejected by MCU")
)

// DefaultAckTimeout bounds the wait for an ACK in SendCommand
const DefaultAckTimeout = 2 * time.Second

// maxRetransmits is how many times a NAKed or unacknowledged frame is sent again
const maxRetransmits = 3

// ResponseHandler is called from the read goroutine for every response
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is a response frame received from the MCU
type Message struct {
	Sequence uint8
	Payload  []byte // message ID and arguments
}

// ID decodes the message ID at the start of the payload and returns it with
// the remaining arguments.
func (m *Message) ID() (uint16, []byte, error) {
	p := m.Payload
	id, err := DecodeVLQUint(&p)
	return uint16(id), p, err
}

// HostTransport is the host end of the link: it frames commands, waits for
// their ACK and queues incoming responses.
type HostTransport struct {
	port io.ReadWriteCloser

	seq     atomic.Uint32 // sequence of the next frame sent, 0x10-0x1F
	writeMu sync.Mutex

	in     *FifoBuffer
	synced bool // read goroutine only

	acks       chan uint8
	responses  chan *Message
	onResponse atomic.Pointer[ResponseHandler]
	dropped    atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port in a background goroutine.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		in:        NewFifoBuffer(512),
		synced:    true,
		acks:      make(chan uint8, 4),
		responses: make(chan *Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(MessageDest)
	go t.readLoop()
	return t
}

// SendCommand sends one message and waits for its ACK.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout is SendCommand with a custom ACK timeout. A NAK or a
// lost ACK triggers a retransmit of the same frame; the MCU ACKs a duplicate
// without running it again. An ACK naming some other sequence means the MCU
// expects that one, so the frame is renumbered and sent again.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()
	if len(payload)+MessageLengthMin > MessageLengthMax {
		return fmt.Errorf("message %d too long: %d bytes (max %d)", cmdID, len(payload)+MessageLengthMin, MessageLengthMax)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	seq := uint8(t.seq.Load())
	frame := AppendFrame(make([]byte, 0, MessageLengthMax), seq, payload)
	t.drainAcks()

	for attempt := 0; ; attempt++ {
		if _, err := t.port.Write(frame); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		err := t.waitForAck(seq, timeout)
		if err == nil {
			t.seq.Store(uint32(nextSeq(seq)))
			return nil
		}

		var oos *outOfSequenceError
		switch {
		case errors.As(err, &oos):
			log.Debugf("MCU expects seq 0x%02x, renumbering frame 0x%02x", oos.expected, seq)
			seq = oos.expected
			frame = AppendFrame(frame[:0], seq, payload)
		case errors.Is(err, ErrNak):
			log.Debugf("retransmitting seq 0x%02x after NAK", seq)
		case errors.Is(err, ErrAckTimeout):
			log.Debugf("retransmitting seq 0x%02x after ACK timeout", seq)
		default:
			return err
		}

		if attempt >= maxRetransmits {
			if errors.Is(err, ErrAckTimeout) {
				// The MCU may have run the frame; move on so a later command is
				// never mistaken for this one. A wrong guess shows up as an
				// out-of-sequence ACK and gets renumbered.
				t.seq.Store(uint32(nextSeq(seq)))
			}
			return err
		}
	}
}

// outOfSequenceError carries the sequence the MCU said it expects
type outOfSequenceError struct {
	expected uint8
}

func (e *outOfSequenceError) Error() string {
	return fmt.Sprintf("MCU expects sequence 0x%02x", e.expected)
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

// waitForAck waits for the ACK of the frame sent with seq. The MCU answers
// with the sequence it expects next, so anything else is a NAK.
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	want := nextSeq(seq)
	for {
		select {
		case got := <-t.acks:
			if got == want {
				return nil
			}
			if got == seq {
				return ErrNak
			}
			return &outOfSequenceError{expected: got}
		case <-timer.C:
			return fmt.Errorf("%w after %v", ErrAckTimeout, timeout)
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse waits up to timeout for the next response.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Receive(ctx)
}

// Receive waits for the next response until ctx is done.
func (t *HostTransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-t.responses:
		return m, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no response: %w", ctx.Err())
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// DrainResponses discards queued responses, so a following Receive only sees
// answers to commands sent after this call.
func (t *HostTransport) DrainResponses() {
	for {
		select {
		case <-t.responses:
		default:
			return
		}
	}
}

// SetResponseHandler installs a callback run for every response in addition to
// queueing it.
func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	if h == nil {
		t.onResponse.Store(nil)
		return
	}
	t.onResponse.Store(&h)
}

// Dropped returns how many bytes were discarded while resynchronizing.
func (t *HostTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// GetCurrentSequence returns the sequence of the next frame to be sent.
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(t.seq.Load())
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			for rest := buf[:n]; len(rest) > 0; {
				w := t.in.Write(rest)
				rest = rest[w:]
				t.processFrames()
				if w == 0 && t.in.Free() == 0 {
					// no complete frame in a full buffer: it is garbage
					t.dropped.Add(uint64(t.in.Available()))
					t.in.Reset()
				}
			}
		}
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				log.Debug("serial port closed")
				return
			}
			log.Debugf("serial read: %v", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) processFrames() {
	data := t.in.Data()

	for len(data) > 0 {
		if !t.synced {
			before := len(data)
			rest, ok := skipToSync(data)
			t.dropped.Add(uint64(before - len(rest)))
			data = rest
			t.synced = ok
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n, status := checkFrame(data, false)
		if status == frameNeedMore {
			break
		}
		if status == frameBad {
			log.Debugf("bad frame from MCU, resynchronizing")
			t.synced = false
			continue
		}

		seq := data[MessagePositionSeq]
		payload := append([]byte(nil), data[MessageHeaderSize:n-MessageTrailerSize]...)
		data = data[n:]
		t.deliver(&Message{Sequence: seq, Payload: payload})
	}

	if consumed := t.in.Available() - len(data); consumed > 0 {
		t.in.Pop(consumed)
	}
}

func (t *HostTransport) deliver(m *Message) {
	if len(m.Payload) == 0 {
		select {
		case t.acks <- m.Sequence:
		default:
			log.Debugf("dropping ACK 0x%02x, nobody waiting", m.Sequence)
		}
		return
	}

	if h := t.onResponse.Load(); h != nil {
		if id, args, err := m.ID(); err == nil {
			if err := (*h)(id, &args); err != nil {
				log.Debugf("response handler for message %d: %v", id, err)
			}
		}
	}

	select {
	case t.responses <- m:
	default:
		// queue full: keep the newest
		select {
		case <-t.responses:
		default:
		}
		t.responses <- m
	}
}

// Close stops the read goroutine and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Reset restarts the sequence at 0x10, which the MCU takes as a new session,
// and forgets anything queued.
func (t *HostTransport) Reset() {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.seq.Store(MessageDest)
	t.drainAcks()
	t.DrainResponses()
}
