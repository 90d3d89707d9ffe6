package transfer

import (
	"sync"
)

// StreamConsumer receives file bytes strictly in order (spec §4.10's
// "separate streaming download" paragraph and spec §5's ordering
// guarantee: "bytes emitted to the consumer are strictly in file order
// regardless of network arrival order").
type StreamConsumer func(chunkIndex int, data []byte)

// StreamReassembler accepts chunks arriving in arbitrary order from
// concurrent download workers and pushes them to a StreamConsumer in
// strict index order: late-arriving chunks (index < expected) are
// discarded, duplicates are ignored, and chunks that arrive ahead of their
// turn are queued until it's their turn.
type StreamReassembler struct {
	mu       sync.Mutex
	expected int
	pending  map[int][]byte
	consume  StreamConsumer
}

// NewStreamReassembler constructs a reassembler starting at chunk index 0.
func NewStreamReassembler(consume StreamConsumer) *StreamReassembler {
	return &StreamReassembler{pending: make(map[int][]byte), consume: consume}
}

// Push delivers chunkIndex's data. It may invoke the consumer zero or more
// times: once immediately if chunkIndex is the next expected chunk (and
// again for any queued chunks that become ready as a result), or not at
// all if the chunk is late or a duplicate.
func (r *StreamReassembler) Push(chunkIndex int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if chunkIndex < r.expected {
		return // late arrival, already delivered
	}
	if chunkIndex == r.expected {
		r.consume(chunkIndex, data)
		r.expected++
		r.drainReadyLocked()
		return
	}
	if _, dup := r.pending[chunkIndex]; dup {
		return // duplicate, already queued
	}
	r.pending[chunkIndex] = data
}

func (r *StreamReassembler) drainReadyLocked() {
	for {
		data, ok := r.pending[r.expected]
		if !ok {
			return
		}
		delete(r.pending, r.expected)
		r.consume(r.expected, data)
		r.expected++
	}
}

// Expected returns the next chunk index the reassembler is waiting on.
func (r *StreamReassembler) Expected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected
}

// Pending returns the number of out-of-order chunks currently queued.
func (r *StreamReassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
