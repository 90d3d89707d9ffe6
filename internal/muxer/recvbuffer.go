package muxer

import "github.com/skywire-client/fileengine/internal/wire"

// overflowFactor is spec §4.7's receive-buffer overflow trigger:
// MAX_FRAME_BYTES × 1.5.
const overflowFactor = 1.5

// maxFrameBytes is the largest a single frame can legally be on the wire.
const maxFrameBytes = wire.Overhead + wire.MaxPayloadLen

// recvChunk is one inbound read, with an offset marking how much of it has
// already been consumed.
type recvChunk struct {
	data []byte
	off  int
}

// recvBuffer stores inbound bytes as a list of chunks with a running total
// length, per spec §4.7: "no eager concatenation... materialises a
// contiguous view only when needed and consumes bytes by trimming from the
// chunk list head."
type recvBuffer struct {
	chunks []recvChunk
	total  int
}

// Append adds newly read bytes to the tail of the buffer. data is retained,
// not copied — callers must not mutate it afterward.
func (b *recvBuffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	b.chunks = append(b.chunks, recvChunk{data: data})
	b.total += len(data)
}

// Len returns the number of unconsumed bytes currently buffered.
func (b *recvBuffer) Len() int {
	return b.total
}

// Contiguous materialises all buffered data into one contiguous slice,
// copying only when more than one chunk is involved.
func (b *recvBuffer) Contiguous() []byte {
	if len(b.chunks) == 0 {
		return nil
	}
	if len(b.chunks) == 1 {
		c := b.chunks[0]
		return c.data[c.off:]
	}
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c.data[c.off:]...)
	}
	return out
}

// Discard removes the first n unconsumed bytes from the buffer, trimming
// whole chunks from the head and adjusting the offset of a partially
// consumed chunk.
func (b *recvBuffer) Discard(n int) {
	for n > 0 && len(b.chunks) > 0 {
		c := &b.chunks[0]
		avail := len(c.data) - c.off
		if avail <= n {
			n -= avail
			b.total -= avail
			b.chunks = b.chunks[1:]
			continue
		}
		c.off += n
		b.total -= n
		n = 0
	}
}

// CompactOnOverflow implements spec §4.7's overflow handling: when the
// buffer exceeds MAX_FRAME_BYTES × 1.5, scan backward from the tail for the
// last magic occurrence and discard everything before it, preserving one
// potentially incomplete frame. Reports whether a compaction occurred.
func (b *recvBuffer) CompactOnOverflow() bool {
	limit := int(float64(maxFrameBytes) * overflowFactor)
	if b.total <= limit {
		return false
	}
	flat := b.Contiguous()
	pos := lastMagicIndex(flat)
	if pos <= 0 {
		if pos < 0 {
			// No magic at all in the whole buffer: nothing useful to keep.
			b.chunks = nil
			b.total = 0
			return true
		}
		return false
	}
	b.chunks = []recvChunk{{data: flat[pos:]}}
	b.total = len(flat) - pos
	return true
}

func lastMagicIndex(buf []byte) int {
	for i := len(buf) - 2; i >= 0; i-- {
		if buf[i] == byte(wire.Magic&0xFF) && buf[i+1] == byte(wire.Magic>>8) {
			return i
		}
	}
	return -1
}
