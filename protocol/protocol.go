// Package protocol implements the framed, CRC-checked message protocol spoken
// between the counter firmware and the host tools.
//
// Frames use the Klipper layout: a length byte, a sequence byte, a payload of
// VLQ-encoded message IDs and arguments, a CRC16 and a trailing sync byte.
package protocol

// Version is the wire protocol revision
const Version = "t2count-proto-1"

// Frame layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)

// MessageMax is the size of a scratch output buffer. It holds several frames so
// an ACK and the responses of one frame can be flushed together.
const MessageMax = 256

// nextSeq advances a sequence byte, keeping the destination bits.
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// frameStatus is the outcome of looking at the head of a receive buffer
type frameStatus uint8

const (
	frameOK frameStatus = iota
	frameNeedMore
	frameBad
)

// checkFrame validates the frame at the start of data and returns its length.
// requireDest makes a sequence byte without the destination bits invalid,
// which the firmware enforces on frames from the host.
func checkFrame(data []byte, requireDest bool) (int, frameStatus) {
	if len(data) < MessageLengthMin {
		return 0, frameNeedMore
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return 0, frameBad
	}
	if requireDest && data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, frameBad
	}
	if len(data) < n {
		return 0, frameNeedMore
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return 0, frameBad
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return 0, frameBad
	}
	return n, frameOK
}

// skipToSync drops everything up to and including the next sync byte. ok is
// false if there is none.
func skipToSync(data []byte) (rest []byte, ok bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// AppendFrame appends a complete frame carrying payload to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, uint8(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), MessageValueSync)
}
