package protocol

import (
	"bytes"
	"testing"
)

func TestVLQKnownEncodings(t *testing.T) {
	testCases := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{-1, []byte{0x7F}},
		{-32, []byte{0x60}},
		{-33, []byte{0xFF, 0x5F}},
	}
	for _, tc := range testCases {
		if got := EncodeVLQ(tc.v); !bytes.Equal(got, tc.want) {
			t.Errorf("EncodeVLQ(%d) = % X, want % X", tc.v, got, tc.want)
		}
	}
}

func TestVLQEncodeDecodeInt(t *testing.T) {
	values := []int32{0, 1, -1, 127, -127, 128, -128, 4095, 12287, 12288, -4097,
		65535, -65535, 1000000, -1000000, 1<<26 - 1, 3<<26 - 1, 3 << 26, -(1 << 26) - 1,
		-2147483648, 2147483647}

	for _, want := range values {
		out := NewScratchOutput()
		EncodeVLQInt(out, want)
		data := out.Result()
		if len(data) > 5 {
			t.Errorf("%d encoded to %d bytes", want, len(data))
		}
		got, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("decode %d: %v", want, err)
			continue
		}
		if got != want {
			t.Errorf("VLQ mismatch: expected %d, got %d", want, got)
		}
		if len(data) != 0 {
			t.Errorf("%d: %d bytes left over", want, len(data))
		}
	}
}

func TestVLQEncodeDecodeUint(t *testing.T) {
	for _, want := range []uint32{0, 1, 255, 256, 65535, 1 << 31, 0xFFFFFFFF} {
		out := NewScratchOutput()
		EncodeVLQUint(out, want)
		data := out.Result()
		got, err := DecodeVLQUint(&data)
		if err != nil || got != want {
			t.Errorf("VLQ uint %d: got %d, err %v", want, got, err)
		}
	}
}

func TestVLQSequence(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQUint(out, 7)
	EncodeVLQBytes(out, []byte{0xFF, 0x00, 0x7E})
	EncodeVLQString(out, "count")
	EncodeVLQInt(out, -500)

	data := out.Result()
	if v, _ := DecodeVLQUint(&data); v != 7 {
		t.Errorf("first arg = %d", v)
	}
	if b, _ := DecodeVLQBytes(&data); !bytes.Equal(b, []byte{0xFF, 0x00, 0x7E}) {
		t.Errorf("bytes arg = % X", b)
	}
	if s, _ := DecodeVLQString(&data); s != "count" {
		t.Errorf("string arg = %q", s)
	}
	if v, _ := DecodeVLQInt(&data); v != -500 {
		t.Errorf("last arg = %d", v)
	}
	if len(data) != 0 {
		t.Errorf("%d bytes left over", len(data))
	}
}

func TestVLQTruncated(t *testing.T) {
	data := []byte{0x80}
	if _, err := DecodeVLQInt(&data); err != ErrBufferTooSmall {
		t.Errorf("expected ErrBufferTooSmall, got %v", err)
	}
	if len(data) != 1 {
		t.Error("failed decode must not consume input")
	}

	data = []byte{0x03, 'a'}
	if _, err := DecodeVLQBytes(&data); err != ErrBufferTooSmall {
		t.Errorf("short byte string: expected ErrBufferTooSmall, got %v", err)
	}
}

func TestVLQTooLong(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); err != ErrInvalidVLQ {
		t.Errorf("expected ErrInvalidVLQ, got %v", err)
	}
}
