// Package reconnect implements ReconnectSupervisor (spec §4.6): exponential
// backoff with jitter attached to the connection state machine, driving
// reconnection attempts through a caller-supplied ConnectionHandler.
//
// The backoff formula is grounded on the teacher pack's
// tonimelisma-onedrive-go internal/graph/client.go calcBackoff: base delay
// times backoffFactor^attempt, capped, with symmetric jitter.
package reconnect

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/connstate"
	"github.com/skywire-client/fileengine/internal/logging"
)

const (
	DefaultInitialDelay = 1 * time.Second
	DefaultBackoffBase  = 2.0
	DefaultMaxDelay     = 60 * time.Second
	DefaultMaxAttempts  = 10
	jitterFraction      = 0.10
)

// ConnectFunc attempts to (re-)establish the underlying transport
// connection. Supplied by the client composing this package with its
// transport.
type ConnectFunc func(ctx context.Context) error

// Config tunes the backoff curve. Zero values fall back to package
// defaults.
type Config struct {
	InitialDelay time.Duration
	BackoffBase  float64
	MaxDelay     time.Duration
	MaxAttempts  int
	AutoReconnect bool
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Supervisor attaches to a connstate.Machine and, while enabled, schedules
// reconnect attempts whenever the machine enters Disconnected from
// Connected.
type Supervisor struct {
	cfg     Config
	machine *connstate.Machine
	connect ConnectFunc
	log     *zap.Logger

	mu      sync.Mutex
	attempt int
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New constructs a Supervisor. It does not observe machine until Attach
// registers it on the Connected→Disconnected transition; from then on a
// drop schedules attempts immediately.
func New(machine *connstate.Machine, connect ConnectFunc, cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:     cfg.withDefaults(),
		machine: machine,
		connect: connect,
		log:     logging.GetLogger(),
	}
	s.sleepFunc = defaultSleep
	return s
}

// Attach wires the supervisor to its machine's transitions. Call once,
// after construction.
func (s *Supervisor) Attach(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	var previous connstate.State = s.machine.Current()
	s.machine.OnChange(func(t connstate.Transition) {
		if !s.cfg.AutoReconnect {
			previous = t.To
			return
		}
		if previous == connstate.Connected && t.To == connstate.Disconnected {
			s.scheduleNext()
		}
		if t.To == connstate.Connected {
			s.reset()
		}
		previous = t.To
	})
}

// Close stops any pending scheduled attempt.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Supervisor) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
}

func (s *Supervisor) scheduleNext() {
	s.mu.Lock()
	attempt := s.attempt
	s.mu.Unlock()

	if attempt >= s.cfg.MaxAttempts {
		s.log.Error("reconnect attempts exhausted", zap.Int("max_attempts", s.cfg.MaxAttempts))
		s.machine.Transition(connstate.Error, "reconnect exhausted")
		return
	}

	delay := s.calcBackoff(attempt)
	s.log.Info("scheduling reconnect attempt", zap.Int("attempt", attempt), zap.Duration("delay", delay))

	go func() {
		if err := s.sleepFunc(s.ctx, delay); err != nil {
			return
		}
		s.attemptConnect()
	}()
}

func (s *Supervisor) attemptConnect() {
	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	if !s.machine.Transition(connstate.Reconnecting, "attempting reconnect") {
		return
	}

	err := s.connect(s.ctx)
	if err == nil {
		s.log.Info("reconnect succeeded", zap.Int("attempt", attempt))
		s.reset()
		s.machine.Transition(connstate.Connected, "reconnected")
		return
	}

	s.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	s.machine.Transition(connstate.Disconnected, "reconnect attempt failed")
	s.scheduleNext()
}

// calcBackoff computes initial_delay × backoff^attempt with ±10% jitter,
// capped at max_delay.
func (s *Supervisor) calcBackoff(attempt int) time.Duration {
	backoff := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.BackoffBase, float64(attempt))
	if backoff > float64(s.cfg.MaxDelay) {
		backoff = float64(s.cfg.MaxDelay)
	}
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
