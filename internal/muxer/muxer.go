// Package muxer implements the request/response multiplexer of spec §4.7:
// sequence-numbered slots over a single framed byte stream, with
// out-of-order resolution, per-request timeouts, disconnect cancellation,
// and a bounded in-flight concurrency cap.
package muxer

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/wire"
)

// MaxConcurrentRequests bounds the number of in-flight slots (spec §4.7).
const MaxConcurrentRequests = 1000

// maxProbe bounds how many sequence numbers a Send call will try before
// giving up on an in-use slot and triggering emergency cleanup.
const maxProbe = 64

// Metrics is sampled for every completed request. Implementations typically
// forward these into the prometheus collectors in internal/metrics.
type Metrics struct {
	Command      uint8
	Success      bool
	EncodeMs     float64
	FrameMs      float64
	PayloadBytes int
	FrameBytes   int
	RoundTripMs  float64
}

// MetricsRecorder receives a completed request's Metrics.
type MetricsRecorder func(Metrics)

type slot struct {
	seq          uint16
	resolve      chan result
	deadline     time.Time
	timer        *time.Timer
	sentAt       time.Time
	payloadBytes int
	frameBytes   int
}

type result struct {
	frame wire.Frame
	err   error
}

// Multiplexer owns sequence allocation and the pending-slot table for one
// logical connection. It does not own the socket; Feed is called by
// whatever goroutine reads from the transport, and writes go through the
// Writer passed to New.
type Multiplexer struct {
	mu       sync.Mutex
	w        io.Writer
	nextSeq  uint16
	slots    map[uint16]*slot
	recv     recvBuffer
	onMetric MetricsRecorder
	log      *zap.Logger
	closed   bool
}

// New constructs a Multiplexer writing frames to w.
func New(w io.Writer, onMetric MetricsRecorder) *Multiplexer {
	return &Multiplexer{
		w:        w,
		slots:    make(map[uint16]*slot),
		onMetric: onMetric,
		log:      logging.GetLogger(),
	}
}

// Send frames cmd/format/payload, writes it to the transport in a single
// write, and waits for the matching response or ctx/timeout expiry.
func (m *Multiplexer) Send(ctx context.Context, cmd, format uint8, payload []byte, timeout time.Duration) (wire.Frame, error) {
	encodeStart := time.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return wire.Frame{}, errors.Disconnected("Multiplexer.Send")
	}
	seq, ok := m.allocateSeqLocked()
	if !ok {
		m.emergencyCleanupLocked()
		seq, ok = m.allocateSeqLocked()
		if !ok {
			m.mu.Unlock()
			return wire.Frame{}, errors.New("Multiplexer.Send", errors.KindBackpressure, errValue("sequence space exhausted"))
		}
	}
	if len(m.slots) >= MaxConcurrentRequests {
		m.mu.Unlock()
		return wire.Frame{}, errors.Backpressure("Multiplexer.Send")
	}

	framed, err := wire.Encode(cmd, format, payload, seq)
	encodeMs := float64(time.Since(encodeStart)) / float64(time.Millisecond)
	if err != nil {
		m.mu.Unlock()
		return wire.Frame{}, err
	}

	s := &slot{
		seq:          seq,
		resolve:      make(chan result, 1),
		deadline:     time.Now().Add(timeout),
		sentAt:       time.Now(),
		payloadBytes: len(payload),
		frameBytes:   len(framed),
	}
	s.timer = time.AfterFunc(timeout, func() { m.timeoutSlot(seq) })
	m.slots[seq] = s
	m.mu.Unlock()

	writeStart := time.Now()
	if _, err := m.w.Write(framed); err != nil {
		m.removeSlot(seq)
		return wire.Frame{}, errors.Transport("Multiplexer.Send", err)
	}
	frameMs := float64(time.Since(writeStart)) / float64(time.Millisecond)

	select {
	case <-ctx.Done():
		m.removeSlot(seq)
		if m.onMetric != nil {
			m.onMetric(Metrics{Command: cmd, Success: false, EncodeMs: encodeMs, FrameMs: frameMs,
				PayloadBytes: s.payloadBytes, FrameBytes: s.frameBytes,
				RoundTripMs: float64(time.Since(s.sentAt)) / float64(time.Millisecond)})
		}
		return wire.Frame{}, ctx.Err()
	case r := <-s.resolve:
		if m.onMetric != nil {
			m.onMetric(Metrics{
				Command:      cmd,
				Success:      r.err == nil,
				EncodeMs:     encodeMs,
				FrameMs:      frameMs,
				PayloadBytes: s.payloadBytes,
				FrameBytes:   s.frameBytes,
				RoundTripMs:  float64(time.Since(s.sentAt)) / float64(time.Millisecond),
			})
		}
		if r.err != nil {
			return wire.Frame{}, r.err
		}
		return r.frame, nil
	}
}

// allocateSeqLocked picks the next sequence number, probing forward over
// collisions up to maxProbe times. Caller holds m.mu.
func (m *Multiplexer) allocateSeqLocked() (uint16, bool) {
	for i := 0; i < maxProbe; i++ {
		seq := m.nextSeq
		m.nextSeq++
		if _, inUse := m.slots[seq]; !inUse {
			return seq, true
		}
	}
	return 0, false
}

// emergencyCleanupLocked forcibly reaps every slot whose deadline has passed, to
// recover sequence space when the probe is exhausted. Caller holds m.mu.
func (m *Multiplexer) emergencyCleanupLocked() {
	now := time.Now()
	for seq, s := range m.slots {
		if now.Sub(s.deadline) > 0 {
			if s.timer != nil {
				s.timer.Stop()
			}
			select {
			case s.resolve <- result{err: errors.Timeout("Multiplexer.emergencyCleanup")}:
			default:
			}
			delete(m.slots, seq)
		}
	}
}

func (m *Multiplexer) removeSlot(seq uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[seq]; ok {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(m.slots, seq)
	}
}

func (m *Multiplexer) timeoutSlot(seq uint16) {
	m.mu.Lock()
	s, ok := m.slots[seq]
	if ok {
		delete(m.slots, seq)
	}
	m.mu.Unlock()
	if ok {
		select {
		case s.resolve <- result{err: errors.Timeout("Multiplexer.Send")}:
		default:
		}
	}
}

// Feed appends newly read transport bytes and parses as many complete
// frames as are available, resolving their slots. It never blocks.
func (m *Multiplexer) Feed(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recv.Append(data)
	for {
		if m.recv.CompactOnOverflow() {
			m.log.Warn("receive buffer overflow, discarding leading garbage")
		}
		view := m.recv.Contiguous()
		if len(view) == 0 {
			return nil
		}
		res, err := wire.TryParse(view)
		if err != nil {
			// A malformed frame at the head: drop one byte and keep scanning
			// so a corrupt byte doesn't wedge the connection forever.
			m.recv.Discard(1)
			m.log.Warn("dropping malformed frame byte", zap.Error(err))
			continue
		}
		switch res.Outcome {
		case wire.OutcomeNeedMore:
			return nil
		case wire.OutcomeResync:
			m.recv.Discard(res.ResyncSkip)
			continue
		case wire.OutcomeFrame:
			m.recv.Discard(res.Consumed)
			m.dispatchLocked(res.Frame)
		}
	}
}

func (m *Multiplexer) dispatchLocked(f wire.Frame) {
	s, ok := m.slots[f.Seq]
	if !ok {
		m.log.Debug("dropping response for unknown sequence", zap.Uint16("seq", f.Seq))
		return
	}
	delete(m.slots, f.Seq)
	if s.timer != nil {
		s.timer.Stop()
	}
	select {
	case s.resolve <- result{frame: f}:
	default:
	}
}

// CancelAll rejects every live slot with Disconnected and marks the
// multiplexer closed; subsequent Send calls fail immediately.
func (m *Multiplexer) CancelAll() {
	m.mu.Lock()
	m.closed = true
	slots := m.slots
	m.slots = make(map[uint16]*slot)
	m.mu.Unlock()

	for _, s := range slots {
		if s.timer != nil {
			s.timer.Stop()
		}
		select {
		case s.resolve <- result{err: errors.Disconnected("Multiplexer")}:
		default:
		}
	}
}

// Reopen clears the closed flag so a reconnected transport can resume
// issuing requests through this multiplexer.
func (m *Multiplexer) Reopen(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
	m.w = w
}

// InFlight returns the number of currently pending slots.
func (m *Multiplexer) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

type errValue string

func (e errValue) Error() string { return string(e) }
