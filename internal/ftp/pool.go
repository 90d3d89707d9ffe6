package ftp

import (
	"context"
	"net"
	"net/textproto"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/logging"
)

const (
	DefaultMaxPoolSize  = 8
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultDialTimeout  = 10 * time.Second
	healthCheckInterval = time.Minute
)

// Dialer opens a new control connection. Tests substitute a fake dialer;
// production uses net.DialTimeout.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

func defaultDialer(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// pooledConn is one control connection held by the pool.
type pooledConn struct {
	addr       string
	conn       net.Conn
	text       *textproto.Conn
	caps       Capabilities
	lastUsed   time.Time
	lastHealth time.Time
}

// Pool is a bounded, idle-evicting, health-checked pool of FTP control
// connections keyed by server address (spec §4.13).
type Pool struct {
	dialer     Dialer
	maxSize    int
	idleTTL    time.Duration
	log        *zap.Logger
	login      func(*textproto.Conn) (Capabilities, error)

	mu    sync.Mutex
	conns map[string][]*pooledConn
	size  int
}

// NewPool constructs a Pool. login performs the USER/PASS/FEAT handshake
// for a freshly dialed connection and returns its probed capabilities.
func NewPool(dialer Dialer, maxSize int, idleTTL time.Duration, login func(*textproto.Conn) (Capabilities, error)) *Pool {
	if dialer == nil {
		dialer = defaultDialer
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxPoolSize
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTimeout
	}
	return &Pool{
		dialer:  dialer,
		maxSize: maxSize,
		idleTTL: idleTTL,
		log:     logging.GetLogger(),
		login:   login,
		conns:   make(map[string][]*pooledConn),
	}
}

// Acquire returns a healthy pooled connection for addr, dialing and
// logging in a new one if none is idle or the pool has headroom.
func (p *Pool) Acquire(ctx context.Context, addr string) (*pooledConn, error) {
	p.mu.Lock()
	if bucket := p.conns[addr]; len(bucket) > 0 {
		pc := bucket[len(bucket)-1]
		p.conns[addr] = bucket[:len(bucket)-1]
		p.mu.Unlock()
		if p.healthy(pc) {
			return pc, nil
		}
		p.closeConn(pc)
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		return p.Acquire(ctx, addr)
	}
	if p.size >= p.maxSize {
		p.mu.Unlock()
		return nil, errors.Transport("ftp.Pool.Acquire", errValue("connection pool exhausted"))
	}
	p.size++
	p.mu.Unlock()

	conn, err := p.dialer(ctx, addr)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		return nil, errors.Transport("ftp.Pool.Acquire", err)
	}
	text := textproto.NewConn(conn)
	caps, err := p.login(text)
	if err != nil {
		_ = text.Close()
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		return nil, errors.Transport("ftp.Pool.Acquire", err)
	}
	return &pooledConn{addr: addr, conn: conn, text: text, caps: caps, lastUsed: time.Now(), lastHealth: time.Now()}, nil
}

// Release returns pc to its address's idle bucket for reuse; it never
// closes pc (idle connections are closed by EvictIdle or a failed health
// check in Acquire).
func (p *Pool) Release(pc *pooledConn) {
	pc.lastUsed = time.Now()
	p.mu.Lock()
	p.conns[pc.addr] = append(p.conns[pc.addr], pc)
	p.mu.Unlock()
}

// Discard closes pc and frees its pool slot, used when a caller observes
// pc to be broken rather than merely idle.
func (p *Pool) Discard(pc *pooledConn) {
	p.closeConn(pc)
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
}

func (p *Pool) healthy(pc *pooledConn) bool {
	if time.Since(pc.lastUsed) > p.idleTTL {
		return false
	}
	if time.Since(pc.lastHealth) < healthCheckInterval {
		return true
	}
	if _, _, err := pc.text.Cmd("NOOP"); err != nil {
		return false
	}
	code, _, err := pc.text.ReadResponse(200)
	if err != nil || code != 200 {
		return false
	}
	pc.lastHealth = time.Now()
	return true
}

func (p *Pool) closeConn(pc *pooledConn) {
	_ = pc.text.Close()
}

// EvictIdle closes and frees every connection across all addresses that
// has exceeded idleTTL; intended to run on a periodic timer.
func (p *Pool) EvictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for addr, bucket := range p.conns {
		kept := bucket[:0]
		for _, pc := range bucket {
			if now.Sub(pc.lastUsed) > p.idleTTL {
				p.closeConn(pc)
				p.size--
				continue
			}
			kept = append(kept, pc)
		}
		p.conns[addr] = kept
	}
}

// Size returns the pool's current connection count across all addresses.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
