// Package transfer implements TransferEngine (spec §4.10): whole-file and
// chunked upload/download built on the Multiplexer, CompressionCodec,
// AdaptiveChunkStrategy, and ResumableUploadStore.
//
// The chunk-worker pool, per-chunk retry-with-backoff, and progress
// throttling are grounded on the teacher's internal/client/uploader.go
// UploadSession.Upload (jobs/results channel pool, atomic uploaded-byte
// counter, 200ms progress ticker) and receiver.go Receive (streamed SHA-256
// checksum via io.TeeReader), adapted from HTTP chunked POST/GET to the
// UPLOAD_REQ/UPLOAD_DATA/UPLOAD_END and DOWNLOAD_REQ{start,chunk,finish,abort}
// framed protocol.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/chunkstrategy"
	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/logging"
	"github.com/skywire-client/fileengine/internal/protocol"
	"github.com/skywire-client/fileengine/internal/uploadstore"
	"github.com/skywire-client/fileengine/internal/wire"
)

// Sender is the Multiplexer surface the engine depends on; satisfied by
// *internal/muxer.Multiplexer in production and by a fake in tests.
type Sender interface {
	Send(ctx context.Context, cmd, format uint8, payload []byte, timeout time.Duration) (wire.Frame, error)
}

// ProgressEvent reports transfer progress, throttled per spec §4.10 step 6
// to at most one event per 200ms plus a guaranteed final event.
type ProgressEvent struct {
	TransferID string
	BytesDone  int64
	TotalBytes int64
	Percent    float64
	Final      bool
}

// ProgressFunc receives throttled progress events.
type ProgressFunc func(ProgressEvent)

// Engine composes the wire-level primitives into the upload/download
// operations of spec §4.10.
type Engine struct {
	sender   Sender
	codec    *protocol.CompressionCodec
	strategy *chunkstrategy.Strategy
	store    *uploadstore.Store
	hint     protocol.EncodeHint
	log      *zap.Logger
}

// New constructs an Engine. store may be nil, in which case every chunked
// upload behaves as if persist=false (ephemeral sessions only).
func New(sender Sender, codec *protocol.CompressionCodec, strategy *chunkstrategy.Strategy, store *uploadstore.Store, hint protocol.EncodeHint) *Engine {
	return &Engine{
		sender:   sender,
		codec:    codec,
		strategy: strategy,
		store:    store,
		hint:     hint,
		log:      logging.GetLogger(),
	}
}

const wholeFileSafetyMargin = 64 * 1024

// frameSafePayloadLimit is the largest encoded payload this engine will
// send as a single frame rather than switching to chunked transfer; it
// leaves headroom below the wire's hard cap for framing/compression
// expansion.
const frameSafePayloadLimit = wire.MaxPayloadLen - wholeFileSafetyMargin

// sizeClassChunkCap returns the size-class chunk-size ceiling from spec
// §4.10 step 1's table. In the smallest-file case the cap is
// adaptiveRecommendation itself, limited to 64 KiB, rather than a fixed value.
func sizeClassChunkCap(fileSize, adaptiveRecommendation int64) int64 {
	switch {
	case fileSize >= 200*1024*1024:
		return 512 * 1024
	case fileSize >= 50*1024*1024:
		return 256 * 1024
	case fileSize >= 10*1024*1024:
		return 192 * 1024
	case fileSize >= 1*1024*1024:
		return 160 * 1024
	case fileSize >= 128*1024:
		return 128 * 1024
	default:
		if adaptiveRecommendation < 64*1024 {
			return adaptiveRecommendation
		}
		return 64 * 1024
	}
}

// chooseChunkSize implements spec §4.10 step 1: min(adaptive, size-class
// cap), clamped to [MIN_CHUNK, MAX_CHUNK] and 1 KiB-aligned.
func (e *Engine) chooseChunkSize(fileSize int64) int64 {
	adaptive := e.strategy.GetOptimalChunkSize()
	classCap := sizeClassChunkCap(fileSize, adaptive)
	chosen := adaptive
	if classCap < chosen {
		chosen = classCap
	}
	return chunkstrategy.Clamp(chosen)
}

// workerCount implements spec §4.10 step 5/step 2's K = min(6, recommended
// concurrency, pending_count), with the "at least 2 for files > 32 MiB"
// floor applied by callers that know fileSize.
func workerCount(recommended, pending int) int {
	k := 6
	if recommended < k {
		k = recommended
	}
	if pending < k {
		k = pending
	}
	if k < 1 {
		k = 1
	}
	return k
}

func chunkTimeout(chunkSize int64) time.Duration {
	if chunkSize > 512*1024 {
		return 120 * time.Second
	}
	return 60 * time.Second
}

func truncatedHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// progressThrottle enforces spec §4.10's "at most one event per 200ms plus
// one final event" rule.
type progressThrottle struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

func newProgressThrottle() *progressThrottle {
	return &progressThrottle{interval: 200 * time.Millisecond}
}

func (p *progressThrottle) allow(final bool) bool {
	if final {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return false
	}
	p.last = now
	return true
}

func (e *Engine) emit(cb ProgressFunc, th *progressThrottle, transferID string, done, total int64, final bool) {
	if cb == nil {
		return
	}
	if !th.allow(final) {
		return
	}
	pct := float64(0)
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	cb(ProgressEvent{TransferID: transferID, BytesDone: done, TotalBytes: total, Percent: pct, Final: final})
}

// sendRequest encodes req, sends it as cmd, and decodes+validates the
// response.
func (e *Engine) sendRequest(ctx context.Context, cmd uint8, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	return e.sendRequestWithHint(ctx, cmd, req, e.hint, timeout)
}

// sendRequestForFile is sendRequest with compression gated on name's
// extension: binary formats that are already compressed (images, archives,
// media) aren't worth the adaptive codec's cycles, so compression is
// skipped for them regardless of the engine-wide hint.
func (e *Engine) sendRequestForFile(ctx context.Context, cmd uint8, req *protocol.Request, name string, timeout time.Duration) (*protocol.Response, error) {
	hint := e.hint
	if hint.CompressionEnabled && !protocol.IsCompressibleName(name) {
		hint.CompressionEnabled = false
	}
	return e.sendRequestWithHint(ctx, cmd, req, hint, timeout)
}

func (e *Engine) sendRequestWithHint(ctx context.Context, cmd uint8, req *protocol.Request, hint protocol.EncodeHint, timeout time.Duration) (*protocol.Response, error) {
	format, payload, err := protocol.SmartEncode(e.codec, req, hint)
	if err != nil {
		return nil, err
	}
	frame, err := e.sender.Send(ctx, cmd, format, payload, timeout)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.AutoDecodeResponse(e.codec, frame.Payload, frame.Format)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, errors.Transfer("Engine.sendRequest", 0, errValue(resp.Message))
	}
	return resp, nil
}

type errValue string

func (e errValue) Error() string { return string(e) }
