package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqLimits are the ranges that still fit in 1, 2, 3 and 4 bytes. The range is
// skewed towards positive values so small negatives stay short.
var vlqLimits = [4]int32{1 << 5, 1 << 12, 1 << 19, 1 << 26}

// EncodeVLQInt writes v as a variable length quantity, most significant group
// first, 7 bits per byte.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	for i := len(vlqLimits) - 1; i >= 0; i-- {
		lim := vlqLimits[i]
		if v < -lim || v >= 3*lim {
			shift := uint(7 * (i + 1))
			buf[n] = byte((v>>shift)&0x7F) | 0x80
			n++
		}
	}
	buf[n] = byte(v & 0x7F)
	output.Output(buf[:n+1])
}

// EncodeVLQUint writes an unsigned value. Values above 2^31 travel as their
// two's complement and decode back with DecodeVLQUint.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt reads one VLQ from the front of *data and advances the slice.
func DecodeVLQInt(data *[]byte) (int32, error) {
	d := *data
	if len(d) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32(d[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	i := 1
	for c&0x80 != 0 {
		if i == 5 {
			return 0, ErrInvalidVLQ
		}
		if i >= len(d) {
			return 0, ErrBufferTooSmall
		}
		c = uint32(d[i])
		v = v<<7 | c&0x7F
		i++
	}
	*data = d[i:]
	return int32(v), nil
}

// DecodeVLQUint reads one unsigned VLQ.
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQ returns the encoding of v.
func EncodeVLQ(v int32) []byte {
	out := NewScratchOutput()
	EncodeVLQInt(out, v)
	return append([]byte(nil), out.Result()...)
}

// EncodeVLQBytes writes a length-prefixed byte string (%*s).
func EncodeVLQBytes(output OutputBuffer, b []byte) {
	EncodeVLQUint(output, uint32(len(b)))
	output.Output(b)
}

// DecodeVLQBytes reads a length-prefixed byte string. The result aliases *data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < n {
		return nil, ErrBufferTooSmall
	}
	b := (*data)[:n]
	*data = (*data)[n:]
	return b, nil
}

// EncodeVLQString writes a length-prefixed string.
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

// DecodeVLQString reads a length-prefixed string.
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	return string(b), err
}
