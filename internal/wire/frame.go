// Package wire implements the binary framing envelope around an opaque
// payload (spec §3, §4.1):
//
//	magic(2) | payload_len(4, LE) | seq(2, LE) | command(1) | format(1) | payload(payload_len) | checksum(1) | trailer(2)
//
// FrameCodec does not interpret the payload; MessageCodec (package protocol)
// owns that layer.
package wire

import (
	"encoding/binary"

	"github.com/skywire-client/fileengine/internal/errors"
)

const (
	// Magic marks the start of a frame.
	Magic uint16 = 0xAA55
	// Trailer marks the end of a frame.
	Trailer uint16 = 0x55AA

	// HeaderLen is the number of bytes before the payload: magic(2) + len(4) + seq(2) + cmd(1) + format(1).
	HeaderLen = 2 + 4 + 2 + 1 + 1
	// FooterLen is the number of bytes after the payload: checksum(1) + trailer(2).
	FooterLen = 1 + 2
	// Overhead is the total framing overhead around a payload.
	Overhead = HeaderLen + FooterLen

	// MaxPayloadLen is the maximum allowed payload_len (4 MiB).
	MaxPayloadLen = 4 * 1024 * 1024
)

// Frame is a fully parsed wire frame.
type Frame struct {
	Command uint8
	Format  uint8
	Seq     uint16
	Payload []byte
}

// crcTable is the CRC-8 lookup table for polynomial 0x07, seed 0.
var crcTable = buildCRC8Table(0x07)

func buildCRC8Table(poly byte) [256]byte {
	var table [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// crc8 computes CRC-8 (poly 0x07, seed 0) over data.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}

// Encode serialises cmd/format/payload/seq into a framed byte slice.
// It refuses payloads larger than MaxPayloadLen.
func Encode(cmd, format uint8, payload []byte, seq uint16) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, errors.Protocol("FrameCodec.Encode", errors.ReasonLengthExceeded, nil)
	}

	buf := make([]byte, HeaderLen+len(payload)+FooterLen)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint16(buf[6:8], seq)
	buf[8] = cmd
	buf[9] = format
	copy(buf[HeaderLen:HeaderLen+len(payload)], payload)

	// checksum covers payload_len through the end of payload (spec §3).
	checksum := crc8(buf[2 : HeaderLen+len(payload)])
	buf[HeaderLen+len(payload)] = checksum
	binary.LittleEndian.PutUint16(buf[HeaderLen+len(payload)+1:], Trailer)

	return buf, nil
}

// ParseOutcome discriminates the result of TryParse.
type ParseOutcome int

const (
	// OutcomeFrame means a complete, valid frame was parsed.
	OutcomeFrame ParseOutcome = iota
	// OutcomeNeedMore means buf does not yet contain a complete frame.
	OutcomeNeedMore
	// OutcomeResync means magic was found at a non-zero offset; the caller
	// should drop ResyncSkip bytes from the front of buf and retry.
	OutcomeResync
)

// ParseResult is the result of TryParse.
type ParseResult struct {
	Outcome    ParseOutcome
	Frame      Frame
	// Consumed is the number of bytes consumed from buf when Outcome == OutcomeFrame.
	Consumed int
	// ResyncSkip is the number of leading bytes to discard when Outcome == OutcomeResync.
	ResyncSkip int
}

// TryParse scans buf for a frame. It never panics on short or garbled input.
func TryParse(buf []byte) (ParseResult, error) {
	if len(buf) < 2 {
		return ParseResult{Outcome: OutcomeNeedMore}, nil
	}

	pos := findMagic(buf)
	if pos < 0 {
		// No magic anywhere; keep the last byte in case it's a split magic.
		return ParseResult{Outcome: OutcomeNeedMore}, nil
	}
	if pos > 0 {
		return ParseResult{Outcome: OutcomeResync, ResyncSkip: pos}, nil
	}

	if len(buf) < HeaderLen {
		return ParseResult{Outcome: OutcomeNeedMore}, nil
	}

	payloadLen := binary.LittleEndian.Uint32(buf[2:6])
	if payloadLen > MaxPayloadLen {
		return ParseResult{}, errors.Protocol("FrameCodec.TryParse", errors.ReasonLengthExceeded, nil)
	}

	total := HeaderLen + int(payloadLen) + FooterLen
	if len(buf) < total {
		return ParseResult{Outcome: OutcomeNeedMore}, nil
	}

	seq := binary.LittleEndian.Uint16(buf[6:8])
	cmd := buf[8]
	format := buf[9]
	payload := buf[HeaderLen : HeaderLen+int(payloadLen)]

	gotChecksum := buf[HeaderLen+int(payloadLen)]
	wantChecksum := crc8(buf[2 : HeaderLen+int(payloadLen)])
	if gotChecksum != wantChecksum {
		return ParseResult{}, errors.Protocol("FrameCodec.TryParse", errors.ReasonBadChecksum, nil)
	}

	trailer := binary.LittleEndian.Uint16(buf[HeaderLen+int(payloadLen)+1 : total])
	if trailer != Trailer {
		return ParseResult{}, errors.Protocol("FrameCodec.TryParse", errors.ReasonBadTrailer, nil)
	}

	// Copy the payload out: buf may be a reused/rotating receive buffer.
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return ParseResult{
		Outcome: OutcomeFrame,
		Frame: Frame{
			Command: cmd,
			Format:  format,
			Seq:     seq,
			Payload: payloadCopy,
		},
		Consumed: total,
	}, nil
}

// findMagic returns the offset of the first occurrence of Magic in buf, or
// -1 if not found. Used by TryParse to resync after a corrupted frame.
func findMagic(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == byte(Magic&0xFF) && buf[i+1] == byte(Magic>>8) {
			return i
		}
	}
	return -1
}
