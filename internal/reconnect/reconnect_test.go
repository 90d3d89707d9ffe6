package reconnect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skywire-client/fileengine/internal/connstate"
)

func TestCalcBackoffGrowsAndCaps(t *testing.T) {
	s := &Supervisor{cfg: Config{InitialDelay: time.Second, BackoffBase: 2, MaxDelay: 10 * time.Second}.withDefaults()}
	d0 := s.calcBackoff(0)
	d3 := s.calcBackoff(3)
	d10 := s.calcBackoff(10)

	if d0 < 900*time.Millisecond || d0 > 1100*time.Millisecond {
		t.Fatalf("expected ~1s at attempt 0, got %v", d0)
	}
	if d3 <= d0 {
		t.Fatalf("expected backoff to grow with attempt, got d0=%v d3=%v", d0, d3)
	}
	if d10 > 11*time.Second {
		t.Fatalf("expected backoff capped near max_delay, got %v", d10)
	}
}

func TestSupervisorReconnectsOnDisconnect(t *testing.T) {
	m := connstate.New()
	var attempts int32
	connect := func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	}
	s := New(m, connect, Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, AutoReconnect: true})
	s.Attach(context.Background())
	defer s.Close()

	m.Transition(connstate.Connecting, "dial")
	m.Transition(connstate.Connected, "handshake")
	m.Transition(connstate.Disconnected, "transport closed")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&attempts) > 0 && m.Current() == connstate.Connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected reconnect to succeed, attempts=%d state=%v", atomic.LoadInt32(&attempts), m.Current())
}

func TestSupervisorExhaustsToError(t *testing.T) {
	m := connstate.New()
	connect := func(ctx context.Context) error { return errors.New("refused") }
	s := New(m, connect, Config{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 2, AutoReconnect: true})
	s.Attach(context.Background())
	defer s.Close()

	m.Transition(connstate.Connecting, "dial")
	m.Transition(connstate.Connected, "handshake")
	m.Transition(connstate.Disconnected, "transport closed")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Current() == connstate.Error {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected supervisor to exhaust attempts into Error, got %v", m.Current())
}
