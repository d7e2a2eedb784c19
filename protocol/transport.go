package protocol

import "sync/atomic"

// CommandHandler receives one decoded message ID and must consume its own
// arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link. It validates frames from the host,
// dispatches their messages in order and answers every frame with an ACK that
// carries the next expected sequence number.
type Transport struct {
	synced  atomic.Bool
	nextSeq atomic.Uint32 // next sequence expected from the host, 0x10-0x1F

	output  OutputBuffer
	handler CommandHandler

	lastCRC uint16 // CRC of the last dispatched frame

	onReset func()
	onFlush func()
	onError func(cmdID uint16, err error)
}

// NewTransport creates a transport writing frames to output.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{output: output, handler: handler}
	t.synced.Store(true)
	t.nextSeq.Store(MessageDest)
	return t
}

// Receive consumes every complete frame in input. Partial frames stay in the
// buffer for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synced.Load() {
			var ok bool
			data, ok = skipToSync(data)
			if ok {
				t.synced.Store(true)
				t.sendAck()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n, status := checkFrame(data, true)
		if status == frameNeedMore {
			break
		}
		if status == frameBad {
			t.synced.Store(false)
			continue
		}

		seq := data[MessagePositionSeq]
		payload := data[MessageHeaderSize : n-MessageTrailerSize]
		crc := uint16(data[n-MessageTrailerSize])<<8 | uint16(data[n-MessageTrailerSize+1])
		data = data[n:]

		expected := uint8(t.nextSeq.Load())
		duplicate := expected == nextSeq(MessageDest) && crc == t.lastCRC
		if seq == MessageDest && expected != MessageDest && !duplicate {
			// the host restarted its sequence: treat as a new session
			expected = MessageDest
			t.nextSeq.Store(MessageDest)
			if t.onReset != nil {
				t.onReset()
			}
		}
		if seq == expected {
			t.nextSeq.Store(uint32(nextSeq(seq)))
			t.lastCRC = crc
			t.dispatch(payload)
		}
		// a retransmit of the last frame is only ACKed again; a frame out of
		// sequence gets an ACK with the expected sequence, which the host reads
		// as a NAK
		t.sendAck()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// dispatch runs the handlers for each message in a frame. A handler error
// stops the rest of the frame but keeps the link in sync.
func (t *Transport) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.synced.Store(false)
		}
	}()

	for len(frame) > 0 {
		id, err := DecodeVLQUint(&frame)
		if err != nil {
			t.synced.Store(false)
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(id), &frame); err != nil {
			if t.onError != nil {
				t.onError(uint16(id), err)
			}
			return
		}
	}
}

func (t *Transport) sendAck() {
	seq := uint8(t.nextSeq.Load())
	var ack [MessageLengthMin]byte
	t.output.Output(AppendFrame(ack[:0], seq, nil))
	if t.onFlush != nil {
		t.onFlush()
	}
}

// EncodeFrame writes one frame whose payload is produced by body. Responses
// carry the current sequence, the same value as the ACK that follows them.
func (t *Transport) EncodeFrame(body func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSeq.Load())})
	body(t.output)

	n := len(t.output.DataSince(start)) + MessageTrailerSize
	t.output.Update(start+MessagePositionLen, uint8(n))

	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand writes a frame holding one message with its arguments.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state, for example after a USB reconnect.
func (t *Transport) Reset() {
	t.synced.Store(true)
	t.nextSeq.Store(MessageDest)
	if t.onReset != nil {
		t.onReset()
	}
}

// SetResetCallback sets a function run when the host restarts the session.
func (t *Transport) SetResetCallback(fn func()) { t.onReset = fn }

// SetFlushCallback sets a function run right after each ACK, so it can be
// pushed out ahead of the main loop's next flush.
func (t *Transport) SetFlushCallback(fn func()) { t.onFlush = fn }

// SetErrorCallback sets a function told about handler errors.
func (t *Transport) SetErrorCallback(fn func(cmdID uint16, err error)) { t.onError = fn }

// NextSequence returns the sequence the transport expects next.
func (t *Transport) NextSequence() uint8 { return uint8(t.nextSeq.Load()) }
