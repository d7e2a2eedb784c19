package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})
	buf.Pop(2)
	if buf.Available() != 3 || buf.Data()[0] != 3 {
		t.Errorf("after Pop(2): %v", buf.Data())
	}
	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("over-pop left %d bytes", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	s := NewScratchOutput()
	s.Output([]byte{1, 2, 3})
	s.Output([]byte{4, 5})
	if s.CurPosition() != 5 {
		t.Fatalf("position %d, want 5", s.CurPosition())
	}

	s.Update(0, 99)
	s.Update(7, 1) // beyond the written data, ignored
	if !bytes.Equal(s.Result(), []byte{99, 2, 3, 4, 5}) {
		t.Errorf("result %v", s.Result())
	}
	if !bytes.Equal(s.DataSince(2), []byte{3, 4, 5}) {
		t.Errorf("DataSince(2) = %v", s.DataSince(2))
	}
	if s.DataSince(6) != nil {
		t.Error("DataSince past the end must be nil")
	}

	s.Reset()
	if s.Len() != 0 {
		t.Errorf("after reset, len %d", s.Len())
	}

	big := make([]byte, MessageMax+10)
	s.Output(big)
	if s.Len() != MessageMax {
		t.Errorf("overflowing write kept %d bytes, want %d", s.Len(), MessageMax)
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)
	if !fifo.IsEmpty() {
		t.Error("new FIFO should be empty")
	}

	if n := fifo.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("wrote %d, want 5", n)
	}
	out := make([]byte, 3)
	if n := fifo.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("read %d bytes: %v", n, out)
	}
	fifo.Pop(1)
	if fifo.Available() != 1 {
		t.Errorf("available %d, want 1", fifo.Available())
	}

	fifo.Reset()
	if n := fifo.Write(make([]byte, 12)); n != 9 {
		t.Errorf("size-10 FIFO took %d bytes, want 9", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("free %d, want 0", fifo.Free())
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(5)
	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Read(make([]byte, 2))
	if n := fifo.Write([]byte{5, 6}); n != 2 {
		t.Fatalf("wrote %d, want 2", n)
	}

	// Data must present the wrapped contents contiguously
	if !bytes.Equal(fifo.Data(), []byte{3, 4, 5, 6}) {
		t.Errorf("Data() = %v", fifo.Data())
	}
	fifo.Pop(3)
	if !bytes.Equal(fifo.Data(), []byte{6}) {
		t.Errorf("after Pop(3): %v", fifo.Data())
	}
}
