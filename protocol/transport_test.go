package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// hostFrame builds a frame the way the host sends it
func hostFrame(seq uint8, msgs ...uint32) []byte {
	out := NewScratchOutput()
	for _, m := range msgs {
		EncodeVLQUint(out, m)
	}
	return AppendFrame(nil, seq, out.Result())
}

type recorder struct {
	ids  []uint16
	args []uint32
}

// handle treats every message as carrying one argument
func (r *recorder) handle(id uint16, data *[]byte) error {
	v, err := DecodeVLQUint(data)
	if err != nil {
		return err
	}
	r.ids = append(r.ids, id)
	r.args = append(r.args, v)
	return nil
}

func acks(t *testing.T, out []byte) []uint8 {
	t.Helper()
	var seqs []uint8
	for len(out) > 0 {
		n, status := checkFrame(out, false)
		if status != frameOK {
			t.Fatalf("transport wrote a bad frame: % X", out)
		}
		if n == MessageLengthMin {
			seqs = append(seqs, out[MessagePositionSeq])
		}
		out = out[n:]
	}
	return seqs
}

func TestAppendFrameLayout(t *testing.T) {
	f := AppendFrame(nil, 0x13, []byte{0x01, 0x02})
	if len(f) != 7 || f[0] != 7 || f[1] != 0x13 || f[6] != MessageValueSync {
		t.Fatalf("bad frame % X", f)
	}
	if crc := CRC16(f[:4]); f[4] != uint8(crc>>8) || f[5] != uint8(crc) {
		t.Errorf("bad CRC in % X", f)
	}
}

func TestTransportDispatchesInOrder(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, rec.handle)

	in := append(hostFrame(0x10, 3, 100, 4, 200), hostFrame(0x11, 5, 300)...)
	tr.Receive(NewSliceInputBuffer(in))

	if len(rec.ids) != 3 || rec.ids[0] != 3 || rec.ids[2] != 5 || rec.args[1] != 200 {
		t.Errorf("dispatched %v %v", rec.ids, rec.args)
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{0x11, 0x12}) {
		t.Errorf("acks % X, want 11 12", got)
	}
}

func TestTransportKeepsPartialFrame(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, rec.handle)

	frame := hostFrame(0x10, 7, 1)
	in := &SliceInputBuffer{data: append([]byte(nil), frame[:4]...)}
	tr.Receive(in)
	if len(rec.ids) != 0 || in.Available() != 4 {
		t.Fatalf("partial frame consumed: %v, %d left", rec.ids, in.Available())
	}

	in.data = append(in.data, frame[4:]...)
	tr.Receive(in)
	if len(rec.ids) != 1 || in.Available() != 0 {
		t.Errorf("completed frame not handled: %v, %d left", rec.ids, in.Available())
	}
}

func TestTransportNaksOutOfSequence(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, rec.handle)

	tr.Receive(NewSliceInputBuffer(hostFrame(0x10, 1, 1)))
	out.Reset()

	// a frame with the wrong sequence is answered but not run
	tr.Receive(NewSliceInputBuffer(hostFrame(0x10|0x05, 1, 1)))
	if len(rec.ids) != 1 {
		t.Errorf("out of sequence frame dispatched")
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{0x11}) {
		t.Errorf("NAK % X, want 11", got)
	}
}

func TestTransportResyncsAfterCorruption(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, rec.handle)

	bad := hostFrame(0x10, 1, 1)
	bad[3] ^= 0xFF
	tr.Receive(NewSliceInputBuffer(append(bad, hostFrame(0x10, 2, 2)...)))

	if len(rec.ids) != 1 || rec.ids[0] != 2 {
		t.Errorf("dispatched %v, want only the good frame", rec.ids)
	}
	// NAK at resync, then the ACK of the good frame
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{0x10, 0x11}) {
		t.Errorf("acks % X, want 10 11", got)
	}
}

func TestTransportHostReset(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, rec.handle)
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(append(hostFrame(0x10, 1, 1), hostFrame(0x11, 1, 2)...)))
	tr.Receive(NewSliceInputBuffer(hostFrame(0x10, 1, 3)))

	if resets != 1 {
		t.Errorf("reset callback ran %d times", resets)
	}
	if len(rec.args) != 3 || rec.args[2] != 3 {
		t.Errorf("frame after reset not dispatched: %v", rec.args)
	}
	if tr.NextSequence() != 0x11 {
		t.Errorf("next sequence 0x%02x", tr.NextSequence())
	}
}

func TestTransportHandlerErrorStopsFrame(t *testing.T) {
	out := NewScratchOutput()
	boom := errors.New("boom")
	var seen []uint16
	tr := NewTransport(out, func(id uint16, data *[]byte) error {
		seen = append(seen, id)
		if id == 2 {
			return boom
		}
		return nil
	})
	var reported error
	tr.SetErrorCallback(func(id uint16, err error) { reported = err })

	tr.Receive(NewSliceInputBuffer(hostFrame(0x10, 1, 2, 3)))
	tr.Receive(NewSliceInputBuffer(hostFrame(0x11, 4)))

	if len(seen) != 3 || seen[2] != 4 {
		t.Errorf("handled %v, want [1 2 4]", seen)
	}
	if reported != boom {
		t.Errorf("error callback got %v", reported)
	}
}

func TestTransportSendCommand(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)
	tr.SendCommand(9, func(o OutputBuffer) {
		EncodeVLQUint(o, 1000)
	})

	data := out.Result()
	n, status := checkFrame(data, false)
	if status != frameOK || n != len(data) {
		t.Fatalf("bad response frame % X", data)
	}
	if data[MessagePositionSeq] != MessageDest {
		t.Errorf("response seq 0x%02x", data[MessagePositionSeq])
	}
	payload := data[MessageHeaderSize : n-MessageTrailerSize]
	id, _ := DecodeVLQUint(&payload)
	v, _ := DecodeVLQUint(&payload)
	if id != 9 || v != 1000 {
		t.Errorf("decoded id %d arg %d", id, v)
	}
}

func TestTransportRetransmittedFirstFrameRunsOnce(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, rec.handle)
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	first := hostFrame(0x10, 1, 7)
	tr.Receive(NewSliceInputBuffer(first))
	out.Reset()
	tr.Receive(NewSliceInputBuffer(first))

	if resets != 0 || len(rec.args) != 1 {
		t.Errorf("duplicate frame ran again: resets %d, args %v", resets, rec.args)
	}
	if got := acks(t, out.Result()); !bytes.Equal(got, []byte{0x11}) {
		t.Errorf("acks % X, want 11", got)
	}

	// a different frame with sequence 0 is still a new session
	tr.Receive(NewSliceInputBuffer(hostFrame(0x10, 1, 8)))
	if resets != 1 || len(rec.args) != 2 || rec.args[1] != 8 {
		t.Errorf("host restart not detected: resets %d, args %v", resets, rec.args)
	}
}
