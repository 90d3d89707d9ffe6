// Package client composes the engine's wire-level and transfer-level
// packages into the single entry point an embedding host drives: dial,
// authenticate the connection lifecycle, and issue upload/download/list/
// file-management operations with automatic reconnection, keepalive, and
// progress reporting already wired in.
package client

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skywire-client/fileengine/internal/chunkstrategy"
	"github.com/skywire-client/fileengine/internal/concurrency"
	"github.com/skywire-client/fileengine/internal/connstate"
	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/keepalive"
	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/metrics"
	"github.com/skywire-client/fileengine/internal/muxer"
	"github.com/skywire-client/fileengine/internal/progress"
	"github.com/skywire-client/fileengine/internal/protocol"
	"github.com/skywire-client/fileengine/internal/reconnect"
	"github.com/skywire-client/fileengine/internal/retry"
	"github.com/skywire-client/fileengine/internal/transfer"
	"github.com/skywire-client/fileengine/internal/uploadstore"
)

// DialFunc opens the underlying transport connection. Defaults to a plain
// TCP dial; tests substitute a fake.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// Config tunes the composed Client. Zero values fall back to each
// sub-package's own defaults.
type Config struct {
	Addr               string
	Dial               DialFunc
	CompressionEnabled bool
	PersistUploads     bool
	UploadStoreDir     string
	StartChunkSize     int64
	ConcurrencyMax     int
	AdmissionRate      rate.Limit
	KeepAlive          keepalive.Config
	Reconnect          reconnect.Config
}

func (c Config) withDefaults() Config {
	if c.Dial == nil {
		c.Dial = defaultDial
	}
	if c.StartChunkSize <= 0 {
		c.StartChunkSize = chunkstrategy.MinChunkSize * 4
	}
	if c.ConcurrencyMax <= 0 {
		c.ConcurrencyMax = concurrency.DefaultMaxRunning
	}
	return c
}

// Client is the embedding host's handle onto one remote file-engine peer.
type Client struct {
	cfg      Config
	log      *zap.Logger
	machine  *connstate.Machine
	mux      *muxer.Multiplexer
	keep     *keepalive.KeepAlive
	super    *reconnect.Supervisor
	strategy *chunkstrategy.Strategy
	store    *uploadstore.Store
	codec    *protocol.CompressionCodec
	engine   *transfer.Engine
	retryMgr *retry.Manager
	concMgr  *concurrency.Manager
	bus      *progress.Bus

	mu         sync.Mutex
	conn       net.Conn
	readCtx    context.Context
	cancel     context.CancelFunc
	serverInfo *protocol.ServerInfo
}

// New constructs a Client. It does not dial; call Connect to establish the
// transport and begin the keepalive/reconnect lifecycle.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	var store *uploadstore.Store
	if cfg.PersistUploads {
		s, err := uploadstore.New(cfg.UploadStoreDir)
		if err != nil {
			return nil, err
		}
		store = s
	}

	c := &Client{
		cfg:      cfg,
		log:      logging.GetLogger(),
		machine:  connstate.New(),
		strategy: chunkstrategy.New(cfg.StartChunkSize),
		store:    store,
		codec:    protocol.NewCompressionCodec(),
		retryMgr: retry.New(retry.Config{}),
		concMgr:  concurrency.New(cfg.ConcurrencyMax, cfg.AdmissionRate),
		bus:      progress.NewBus(),
	}
	c.mux = muxer.New(io.Discard, func(m muxer.Metrics) {
		metrics.RecordRequest(protocol.Command(m.Command).String(), m.RoundTripMs/1000, m.Success)
	})
	c.engine = transfer.New(c.mux, c.codec, c.strategy, c.store, protocol.EncodeHint{CompressionEnabled: cfg.CompressionEnabled})
	c.keep = keepalive.New(c.machine, c.ping, cfg.KeepAlive)
	c.super = reconnect.New(c.machine, c.dialAndRun, cfg.Reconnect)
	c.keep.OnLost(func() { c.machine.Transition(connstate.Disconnected, "keepalive lost") })
	return c, nil
}

// Connect dials the transport, attaches the reconnect supervisor, and
// starts the keepalive loop. ctx governs the lifetime of both background
// loops; cancelling it tears the connection down.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.readCtx = ctx
	c.cancel = cancel
	c.mu.Unlock()

	c.super.Attach(ctx)
	if err := c.dialAndRun(ctx); err != nil {
		cancel()
		return err
	}
	c.keep.Start(ctx)
	return nil
}

// Close tears down the connection and stops all background loops.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	c.keep.Stop()
	c.super.Close()
	c.mux.CancelAll()
	c.concMgr.Close()
	if c.store != nil {
		c.store.Close()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Progress exposes the websocket progress bus so the embedding host can
// mount Bus.ServeHTTP on its own mux.
func (c *Client) Progress() *progress.Bus {
	return c.bus
}

// Submit schedules t on the Client's ConcurrencyManager, e.g. for running
// several independent uploads/downloads under a shared priority and
// parallelism cap rather than spawning them unmanaged.
func (c *Client) Submit(t *concurrency.Task) {
	c.concMgr.Submit(t)
}

// dialAndRun is the reconnect.ConnectFunc: it dials a fresh socket, rewires
// the multiplexer onto it, and starts a read loop that feeds frames back
// into the multiplexer until the connection drops.
func (c *Client) dialAndRun(ctx context.Context) error {
	c.machine.Transition(connstate.Connecting, "dial")
	conn, err := c.cfg.Dial(ctx, c.cfg.Addr)
	if err != nil {
		c.machine.Transition(connstate.Error, err.Error())
		return errors.Transport("Client.dialAndRun", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.mux.Reopen(conn)
	go c.readLoop(ctx, conn)

	if err := c.negotiateConnect(ctx); err != nil {
		c.machine.Transition(connstate.Error, err.Error())
		return err
	}
	c.machine.Transition(connstate.Connected, "dial succeeded")
	return nil
}

// negotiateConnect issues the CONNECT handshake (spec §4): it advertises the
// wire formats this engine can produce, lets the server pick one, and
// validates that choice against what was actually offered. Runs on every
// dial, including reconnects, since each fresh socket renegotiates from
// scratch. The decoded ServerInfo is stashed for ServerInfo().
func (c *Client) negotiateConnect(ctx context.Context) error {
	req := &protocol.Request{
		Operation:        protocol.OpConnect,
		SupportedFormats: protocol.SupportedFormats,
		PreferredFormat:  protocol.SupportedFormats[0],
	}
	formatByte, payload, err := protocol.SmartEncode(c.codec, req, protocol.EncodeHint{CompressionEnabled: c.cfg.CompressionEnabled})
	if err != nil {
		return errors.New("Client.negotiateConnect", errors.KindProtocol, err)
	}
	frame, err := c.mux.Send(ctx, uint8(protocol.CmdConnect), formatByte, payload, keepalive.DefaultPingTimeout)
	if err != nil {
		return err
	}
	resp, err := protocol.AutoDecodeResponse(c.codec, frame.Payload, frame.Format)
	if err != nil {
		return errors.New("Client.negotiateConnect", errors.KindProtocol, err)
	}
	if err := protocol.NegotiateFormat(resp.SelectedFormat); err != nil {
		return errors.New("Client.negotiateConnect", errors.KindProtocol, err)
	}

	c.mu.Lock()
	c.serverInfo = resp.ServerInfo
	c.mu.Unlock()
	return nil
}

// ServerInfo returns the ServerInfo decoded from the most recent CONNECT
// handshake, or nil if no connection has completed one yet.
func (c *Client) ServerInfo() *protocol.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := conn.Read(buf)
		if n > 0 {
			c.keep.RecordActivity("inbound-frame")
			if feedErr := c.mux.Feed(buf[:n]); feedErr != nil {
				c.log.Warn("multiplexer feed error", zap.Error(feedErr))
			}
		}
		if err != nil {
			c.machine.Transition(connstate.Disconnected, "read error: "+err.Error())
			return
		}
	}
}

// ping implements keepalive.Pinger over the multiplexer.
func (c *Client) ping(ctx context.Context) error {
	_, err := c.mux.Send(ctx, uint8(protocol.CmdPing), 0, nil, keepalive.DefaultPingTimeout)
	return err
}

// UploadSmall sends data as a single whole-file frame (spec §4.10's
// small-file path).
func (c *Client) UploadSmall(ctx context.Context, path, name string, data []byte, timeout time.Duration) error {
	c.keep.RecordActivity("send")
	return c.engine.UploadSmall(ctx, path, name, data, timeout)
}

// UploadChunked drives a concurrent chunked upload, publishing progress to
// the Client's bus unless opts.Progress is already set.
func (c *Client) UploadChunked(ctx context.Context, opts transfer.UploadChunkedOptions) error {
	if opts.Progress == nil {
		opts.Progress = c.bus.Sink()
	}
	c.keep.RecordActivity("send")
	return c.engine.UploadChunked(ctx, opts)
}

// DownloadChunked drives a concurrent chunked download, publishing progress
// to the Client's bus unless opts.Progress is already set.
func (c *Client) DownloadChunked(ctx context.Context, opts transfer.DownloadChunkedOptions) (*transfer.DownloadStartInfo, error) {
	if opts.Progress == nil {
		opts.Progress = c.bus.Sink()
	}
	c.keep.RecordActivity("send")
	return c.engine.DownloadChunked(ctx, opts)
}

// State reports the connection's current lifecycle state.
func (c *Client) State() connstate.State {
	return c.machine.Current()
}
