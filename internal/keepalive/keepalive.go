// Package keepalive implements the client-side liveness probe described in
// spec §4.5: idle-suppressed PING ticks, consecutive-failure counting, and a
// connection-lost escalation into the connection state machine.
package keepalive

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/connstate"
	"github.com/skywire-client/fileengine/internal/logging"
)

const (
	DefaultPingInterval   = 45 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultMaxPingFailure = 3
)

// Pinger sends a single PING and waits for its PONG, honoring ctx's
// deadline. Supplied by the caller so KeepAlive stays transport-agnostic;
// the muxer's Send(CmdPing, ...) implements this in practice.
type Pinger func(ctx context.Context) error

// Config tunes KeepAlive's timers. Zero values are replaced by the package
// defaults.
type Config struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	MaxPingFailure int
	AutoReconnect  bool
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.MaxPingFailure <= 0 {
		c.MaxPingFailure = DefaultMaxPingFailure
	}
	return c
}

// KeepAlive runs a liveness-probe loop while the attached state machine is
// Connected; it suppresses a ping tick entirely when recent traffic already
// proves the connection is alive.
type KeepAlive struct {
	cfg     Config
	machine *connstate.Machine
	ping    Pinger
	log     *zap.Logger

	lastActivity atomic.Int64 // unix nanos
	failures     atomic.Int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	onLostCB []func()
}

// New constructs a KeepAlive attached to machine, using ping to probe the
// transport.
func New(machine *connstate.Machine, ping Pinger, cfg Config) *KeepAlive {
	k := &KeepAlive{
		cfg:     cfg.withDefaults(),
		machine: machine,
		ping:    ping,
		log:     logging.GetLogger(),
	}
	k.lastActivity.Store(time.Now().UnixNano())
	return k
}

// OnLost registers a callback invoked when max_ping_failures is reached.
func (k *KeepAlive) OnLost(f func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onLostCB = append(k.onLostCB, f)
}

// RecordActivity bumps last_activity; source is for logging only (e.g.
// "inbound-frame", "send", "explicit").
func (k *KeepAlive) RecordActivity(source string) {
	k.lastActivity.Store(time.Now().UnixNano())
	k.failures.Store(0)
}

// Start begins the ticking loop in a background goroutine. It is a no-op
// if already running.
func (k *KeepAlive) Start(ctx context.Context) {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.running = true
	k.mu.Unlock()

	go k.loop(loopCtx)
}

// Stop ends the ticking loop.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
	}
	k.running = false
}

func (k *KeepAlive) loop(ctx context.Context) {
	ticker := time.NewTicker(k.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if k.machine.Current() != connstate.Connected {
				continue
			}
			k.tick(ctx)
		}
	}
}

// tick fires one probe cycle, applying idle suppression.
func (k *KeepAlive) tick(ctx context.Context) {
	idleFor := time.Since(time.Unix(0, k.lastActivity.Load()))
	if idleFor < k.cfg.PingInterval {
		// Idle suppression: recent traffic already proves liveness.
		k.failures.Store(0)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, k.cfg.PingTimeout)
	err := k.ping(probeCtx)
	cancel()

	if err == nil {
		k.RecordActivity("ping")
		return
	}

	n := k.failures.Add(1)
	k.log.Warn("keepalive ping failed", zap.Int32("consecutive_failures", n), zap.Error(err))
	if int(n) >= k.cfg.MaxPingFailure {
		k.onConnectionLost()
	}
}

func (k *KeepAlive) onConnectionLost() {
	k.log.Error("keepalive exhausted max_ping_failures, connection considered lost")
	k.mu.Lock()
	callbacks := append([]func(){}, k.onLostCB...)
	k.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
	if !k.cfg.AutoReconnect {
		k.machine.Transition(connstate.Disconnected, "keepalive")
	}
}

// ConfigureSocket enables TCP keepalive and disables Nagle's algorithm on
// conn, per spec §4.5's transport-level requirement.
func ConfigureSocket(conn *net.TCPConn, keepAlivePeriod time.Duration) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	if keepAlivePeriod > 0 {
		if err := conn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}
	return conn.SetNoDelay(true)
}
