package muxer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/protocol"
	"github.com/skywire-client/fileengine/internal/wire"
)

// loopWriter captures frames written by the Multiplexer and can be replayed
// into Feed to simulate a peer echoing a response.
type loopWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *loopWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	w.frames = append(w.frames, cp)
	return len(p), nil
}

func (w *loopWriter) last() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames[len(w.frames)-1]
}

func TestSendFeedRoundTrip(t *testing.T) {
	w := &loopWriter{}
	m := New(w, nil)

	done := make(chan struct{})
	var respErr error
	var gotFrame wire.Frame
	go func() {
		defer close(done)
		f, err := m.Send(context.Background(), uint8(protocol.CmdPing), protocol.FormatProtobuf, []byte("ping-payload"), time.Second)
		gotFrame, respErr = f, err
	}()

	// Wait until the request frame has actually been written before echoing.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		n := len(w.frames)
		w.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	sentFrame := w.last()
	res, err := wire.TryParse(sentFrame)
	if err != nil || res.Outcome != wire.OutcomeFrame {
		t.Fatalf("failed to parse request frame we just sent: %v %+v", err, res)
	}
	reply, err := wire.Encode(uint8(protocol.CmdPong), protocol.FormatProtobuf, []byte("pong-payload"), res.Frame.Seq)
	if err != nil {
		t.Fatalf("wire.Encode: %v", err)
	}
	if err := m.Feed(reply); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	<-done
	if respErr != nil {
		t.Fatalf("Send returned error: %v", respErr)
	}
	if !bytes.Equal(gotFrame.Payload, []byte("pong-payload")) {
		t.Fatalf("unexpected response payload: %q", gotFrame.Payload)
	}
}

func TestSendTimesOut(t *testing.T) {
	w := &loopWriter{}
	m := New(w, nil)
	_, err := m.Send(context.Background(), uint8(protocol.CmdPing), protocol.FormatProtobuf, nil, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if kind, ok := errors.KindOf(err); !ok || kind != errors.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v (ok=%v)", kind, ok)
	}
}

func TestCancelAllRejectsInFlight(t *testing.T) {
	w := &loopWriter{}
	m := New(w, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), uint8(protocol.CmdPing), protocol.FormatProtobuf, nil, time.Second)
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && m.InFlight() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.CancelAll()

	select {
	case err := <-errCh:
		if kind, ok := errors.KindOf(err); !ok || kind != errors.KindDisconnected {
			t.Fatalf("expected KindDisconnected, got %v (ok=%v)", kind, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

// echoWriter immediately feeds a matching response back into the owning
// Multiplexer as each request frame is written, letting Send calls resolve
// synchronously without a separate reader goroutine.
type echoWriter struct {
	m *Multiplexer
}

func (w *echoWriter) Write(p []byte) (int, error) {
	res, err := wire.TryParse(p)
	if err != nil || res.Outcome != wire.OutcomeFrame {
		return 0, err
	}
	reply, err := wire.Encode(uint8(protocol.CmdPong), protocol.FormatProtobuf, nil, res.Frame.Seq)
	if err != nil {
		return 0, err
	}
	if err := w.m.Feed(reply); err != nil {
		return 0, err
	}
	return len(p), nil
}

// scenario: issuing 2^16 + 5 sequential requests, each resolved
// immediately, wraps the sequence counter at least once without ever
// colliding on a live seq or triggering emergency cleanup.
func TestScenarioSequenceWrapsWithoutCollisionOrEmergencyCleanup(t *testing.T) {
	m := New(nil, nil)
	m.w = &echoWriter{m: m}

	const n = 1<<16 + 5
	for i := 0; i < n; i++ {
		if _, err := m.Send(context.Background(), uint8(protocol.CmdPing), protocol.FormatProtobuf, nil, time.Second); err != nil {
			t.Fatalf("request %d: Send: %v", i, err)
		}
	}
	if inFlight := m.InFlight(); inFlight != 0 {
		t.Fatalf("expected no slots left in flight after all requests resolved, got %d", inFlight)
	}
}

func TestFeedOutOfOrderResponses(t *testing.T) {
	w := &loopWriter{}
	m := New(w, nil)

	type res struct {
		frame wire.Frame
		err   error
	}
	results := make(chan res, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			f, err := m.Send(context.Background(), uint8(protocol.CmdPing), protocol.FormatProtobuf,
				[]byte{byte(i)}, time.Second)
			results <- res{f, err}
		}(i)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		n := len(w.frames)
		w.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	w.mu.Lock()
	frames := append([][]byte(nil), w.frames...)
	w.mu.Unlock()

	// Reply to the second request first, to exercise out-of-order matching.
	for i := len(frames) - 1; i >= 0; i-- {
		parsed, err := wire.TryParse(frames[i])
		if err != nil || parsed.Outcome != wire.OutcomeFrame {
			t.Fatalf("failed to parse sent frame: %v", err)
		}
		reply, err := wire.Encode(uint8(protocol.CmdPong), protocol.FormatProtobuf, []byte{0xAA}, parsed.Frame.Seq)
		if err != nil {
			t.Fatalf("wire.Encode: %v", err)
		}
		if err := m.Feed(reply); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
}
