// Package retry implements RetryManager (spec §4.11): error classification,
// exponential backoff with jitter, and a longer cooldown class for
// rate-limited failures.
//
// Backoff math is grounded on tonimelisma-onedrive-go/internal/graph/client.go's
// calcBackoff/sleepFunc pattern (same as internal/reconnect); the
// rate-limited cooldown class is grounded on the teacher's
// internal/server/ratelimit.go use of golang.org/x/time/rate for
// throughput-based admission control, generalized here to a cooldown floor
// combined with a shared one-token rate.Limiter that spaces rate-limited
// retries across operations.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/metrics"
)

// Classification is the outcome of classifying an error for retry purposes.
type Classification int

const (
	Retryable Classification = iota
	NonRetryable
	RateLimited
)

// ClassifyFunc maps an error to a Classification. Callers supply their own
// rule table; Default below implements the Kind-based heuristic this
// engine ships with.
type ClassifyFunc func(err error) Classification

// Default classifies using this engine's Kind taxonomy: transport/timeout
// errors are retryable, backpressure is rate-limited, and any other Kind
// (schema, protocol, aborted, config) is non-retryable. An error that
// carries no Kind is treated as retryable.
func Default(err error) Classification {
	kind, ok := errors.KindOf(err)
	if !ok {
		return Retryable
	}
	switch kind {
	case errors.KindTimeout, errors.KindTransport, errors.KindDisconnected:
		return Retryable
	case errors.KindBackpressure:
		return RateLimited
	default:
		return NonRetryable
	}
}

const (
	DefaultInitialDelay      = 500 * time.Millisecond
	DefaultFactor            = 2.0
	DefaultMaxDelay          = 30 * time.Second
	jitterFraction           = 0.10
	DefaultRateLimitCooldown = 60 * time.Second
	maxRateLimitCooldownMul  = 3
)

// Config tunes the manager's backoff curve.
type Config struct {
	InitialDelay      time.Duration
	Factor            float64
	MaxDelay          time.Duration
	MaxAttempts       int
	RateLimitCooldown time.Duration
	Classify          ClassifyFunc
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Factor <= 0 {
		c.Factor = DefaultFactor
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if c.Classify == nil {
		c.Classify = Default
	}
	return c
}

// EventKind identifies a RetryManager lifecycle event.
type EventKind string

const (
	EventScheduled EventKind = "scheduled"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
)

// Event is emitted for each retry lifecycle transition.
type Event struct {
	Kind    EventKind
	OpID    string
	Attempt int
	Delay   time.Duration
	Err     error
}

// Stats aggregates outcomes across all operations this manager has run.
type Stats struct {
	Scheduled int64
	Succeeded int64
	Failed    int64
}

// Manager runs operations with retry, tracking per-op cancellation and
// aggregate statistics.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	cancelled map[string]bool
	stats     Stats
	listeners []func(Event)

	rateLimiter *rate.Limiter
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		log:       logging.GetLogger(),
		cancelled: make(map[string]bool),
		// One token per cooldown period, burst 1: every caller hitting a
		// RateLimited error reserves against the same shared clock, so
		// concurrent retrying operations don't all wake up and hammer the
		// server at once.
		rateLimiter: rate.NewLimiter(rate.Every(cfg.RateLimitCooldown), 1),
	}
}

// OnEvent registers a listener invoked on every scheduled/succeeded/failed
// event.
func (m *Manager) OnEvent(f func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, f)
}

// Stats returns a snapshot of aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Cancel marks opID as cancelled; a subsequent ExecuteWithRetry observing
// the cancellation at a retry boundary will stop immediately with Aborted.
func (m *Manager) Cancel(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[opID] = true
}

func (m *Manager) isCancelled(opID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[opID]
}

// Op is the operation ExecuteWithRetry runs; it is retried according to
// this manager's policy until it succeeds, a non-retryable error occurs,
// or attempts are exhausted.
type Op func(ctx context.Context) error

// ExecuteWithRetry runs op, retrying per this manager's policy. opID
// supports Cancel and appears on emitted Events.
func (m *Manager) ExecuteWithRetry(ctx context.Context, op Op, opID string) error {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		if m.isCancelled(opID) {
			return errors.Aborted("RetryManager.ExecuteWithRetry")
		}
		err := op(ctx)
		if err == nil {
			m.recordStat(func(s *Stats) { s.Succeeded++ })
			m.emit(Event{Kind: EventSucceeded, OpID: opID, Attempt: attempt})
			return nil
		}
		lastErr = err

		class := m.cfg.Classify(err)
		if class == NonRetryable {
			m.recordStat(func(s *Stats) { s.Failed++ })
			m.emit(Event{Kind: EventFailed, OpID: opID, Attempt: attempt, Err: err})
			metrics.RecordError(kindLabel(err), "transfer")
			return err
		}

		delay := m.delayFor(class, attempt)
		m.recordStat(func(s *Stats) { s.Scheduled++ })
		m.emit(Event{Kind: EventScheduled, OpID: opID, Attempt: attempt, Delay: delay, Err: err})
		metrics.RecordRetry("transfer", classLabel(class))
		m.log.Debug("retrying operation", zap.String("op_id", opID), zap.Int("attempt", attempt), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	m.recordStat(func(s *Stats) { s.Failed++ })
	m.emit(Event{Kind: EventFailed, OpID: opID, Attempt: m.cfg.MaxAttempts, Err: lastErr})
	metrics.RecordError(kindLabel(lastErr), "transfer")
	return lastErr
}

func (m *Manager) delayFor(class Classification, attempt int) time.Duration {
	if class == RateLimited {
		mul := 1 << attempt
		if mul > maxRateLimitCooldownMul {
			mul = maxRateLimitCooldownMul
		}
		reservation := m.rateLimiter.ReserveN(time.Now(), 1)
		shared := reservation.Delay()
		floor := m.cfg.RateLimitCooldown * time.Duration(mul)
		if shared > floor {
			return shared
		}
		return floor
	}
	backoff := float64(m.cfg.InitialDelay) * math.Pow(m.cfg.Factor, float64(attempt))
	if backoff > float64(m.cfg.MaxDelay) {
		backoff = float64(m.cfg.MaxDelay)
	}
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func (m *Manager) recordStat(f func(*Stats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(&m.stats)
}

func (m *Manager) emit(e Event) {
	m.mu.Lock()
	listeners := append([]func(Event){}, m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(e)
	}
}

func classLabel(c Classification) string {
	if c == RateLimited {
		return "rate_limited"
	}
	return "network"
}

func kindLabel(err error) string {
	kind, ok := errors.KindOf(err)
	if !ok {
		return "unknown"
	}
	switch kind {
	case errors.KindTimeout:
		return "timeout"
	case errors.KindTransport:
		return "network"
	case errors.KindDisconnected:
		return "disconnected"
	case errors.KindBackpressure:
		return "rate_limited"
	default:
		return "protocol"
	}
}
