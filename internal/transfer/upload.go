package transfer

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skywire-client/fileengine/internal/chunkstrategy"
	"github.com/skywire-client/fileengine/internal/errors"
	"github.com/skywire-client/fileengine/internal/metrics"
	"github.com/skywire-client/fileengine/internal/protocol"
)

// fileExt returns the lowercased extension (without the dot) used as the
// "file_ext" metrics label, or "none" for an extension-less name.
func fileExt(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return "none"
	}
	return ext
}

const maxChunkAttempts = 3
const chunkRetryBaseDelay = 500 * time.Millisecond

// UploadSmall performs spec §4.10's whole-file upload path: one
// UPLOAD_FILE request carrying the full payload, awaiting a single
// response. Callers should route here when EncodeRequest's resulting
// payload will safely fit in a single frame.
func (e *Engine) UploadSmall(ctx context.Context, path, name string, data []byte, timeout time.Duration) error {
	metrics.ActiveUploads.Inc()
	metrics.ActiveTransfers.Inc()
	defer metrics.ActiveUploads.Dec()
	defer metrics.ActiveTransfers.Dec()
	start := time.Now()

	req := &protocol.Request{
		Operation: protocol.OpUpload,
		Path:      path,
		Name:      name,
		Data:      data,
		FileSize:  int64(len(data)),
		Checksum:  truncatedHash(data),
	}
	_, err := e.sendRequestForFile(ctx, uint8(protocol.CmdUploadFile), req, name, timeout)
	metrics.RecordUpload(fileExt(name), time.Since(start), int64(len(data)), err == nil)
	return err
}

// FitsWholeFile reports whether data is small enough to upload via
// UploadSmall rather than UploadChunked, per spec §4.10's "safely below
// the frame limit" criterion.
func FitsWholeFile(dataLen int) bool {
	return dataLen <= frameSafePayloadLimit
}

// UploadChunkedOptions configures a chunked upload.
type UploadChunkedOptions struct {
	Path     string
	Name     string
	Target   string
	Data     []byte
	Persist  bool
	Progress ProgressFunc
}

// UploadChunked implements spec §4.10's chunked upload protocol:
// session create/resume, UPLOAD_REQ, K parallel chunk workers with
// per-chunk retry, throttled progress, and UPLOAD_END.
func (e *Engine) UploadChunked(ctx context.Context, opts UploadChunkedOptions) (err error) {
	metrics.ActiveUploads.Inc()
	metrics.ActiveTransfers.Inc()
	start := time.Now()
	defer func() {
		metrics.ActiveUploads.Dec()
		metrics.ActiveTransfers.Dec()
		metrics.RecordUpload(fileExt(opts.Name), time.Since(start), int64(len(opts.Data)), err == nil)
	}()

	fileSize := int64(len(opts.Data))
	chunkSize := e.chooseChunkSize(fileSize)
	totalChunks := int(math.Ceil(float64(fileSize) / float64(chunkSize)))
	if totalChunks == 0 {
		totalChunks = 1
	}

	sessionID, sessErr := e.createOrResumeSession(opts, chunkSize, totalChunks)
	if sessErr != nil {
		return sessErr
	}

	reqOpts := protocol.WithSessionID(nil, sessionID)
	startReq := &protocol.Request{
		Operation:   protocol.OpUpload,
		Path:        opts.Path,
		Name:        opts.Name,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		TotalChunks: int64(totalChunks),
		Options:     reqOpts,
	}
	if _, err := e.sendRequest(ctx, uint8(protocol.CmdUploadReq), startReq, 30*time.Second); err != nil {
		return err
	}

	// spec §4.10 step 4: the pending set is currently always [0,
	// total_chunks) — server-side resume is treated as unsupported on a
	// cold start (§4.9's "current-system constraint").
	pending := totalChunks

	rec := e.strategy.GetRecommendation()
	k := workerCount(rec.Concurrency, pending)
	if fileSize > 32*1024*1024 && k < 2 {
		k = 2
	}

	var cursor atomic.Int64
	var uploadedBytes atomic.Int64
	th := newProgressThrottle()
	transferID := sessionID

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, k)
	var wg sync.WaitGroup
	for w := 0; w < k; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= totalChunks {
					return
				}
				select {
				case <-ctx.Done():
					errCh <- errors.Aborted("Engine.UploadChunked")
					return
				default:
				}
				n, err := e.uploadOneChunk(ctx, opts, sessionID, idx, chunkSize, fileSize, totalChunks)
				if err != nil {
					errCh <- err
					cancel()
					return
				}
				done := uploadedBytes.Add(int64(n))
				if e.store != nil {
					_ = e.store.MarkChunkUploaded(sessionID, idx)
				}
				e.emit(opts.Progress, th, transferID, done, fileSize, false)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if err, ok := <-errCh; ok && err != nil {
		return err
	}

	e.emit(opts.Progress, th, transferID, uploadedBytes.Load(), fileSize, true)

	endTimeout := 30 * time.Second
	if fileSize > 100*1024*1024 {
		endTimeout = 120 * time.Second
	}
	endReq := &protocol.Request{
		Operation:   protocol.OpUpload,
		TotalChunks: int64(totalChunks),
		FileSize:    fileSize,
		Options:     reqOpts,
	}
	if _, err := e.sendRequest(ctx, uint8(protocol.CmdUploadEnd), endReq, endTimeout); err != nil {
		// Leave the session in place for a future resume, per spec §4.10
		// step 7.
		return err
	}
	if e.store != nil {
		_ = e.store.Complete(sessionID)
	}
	return nil
}

func (e *Engine) createOrResumeSession(opts UploadChunkedOptions, chunkSize int64, totalChunks int) (string, error) {
	if e.store == nil {
		return truncatedHash(opts.Data) + "_" + opts.Name, nil
	}
	rec, err := e.store.CreateOrResume(opts.Name, opts.Target, opts.Data, chunkSize, opts.Persist)
	if err != nil {
		return "", err
	}
	e.store.SetTotalChunks(rec.SessionID, totalChunks)
	return rec.SessionID, nil
}

func (e *Engine) uploadOneChunk(ctx context.Context, opts UploadChunkedOptions, sessionID string, idx int, chunkSize, fileSize int64, totalChunks int) (int, error) {
	start := int64(idx) * chunkSize
	end := start + chunkSize
	if end > fileSize {
		end = fileSize
	}
	data := opts.Data[start:end]
	timeout := chunkTimeout(chunkSize)

	var lastErr error
	for attempt := 0; attempt < maxChunkAttempts; attempt++ {
		if attempt > 0 {
			delay := chunkRetryBaseDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return 0, errors.Aborted("Engine.uploadOneChunk")
			case <-time.After(delay):
			}
		}
		req := &protocol.Request{
			Operation:   protocol.OpUpload,
			Data:        data,
			IsChunk:     true,
			ChunkIndex:  int64(idx),
			TotalChunks: int64(totalChunks),
			ChunkHash:   truncatedHash(data),
			Options:     protocol.WithSessionID(nil, sessionID),
		}
		sampleStart := time.Now()
		_, err := e.sendRequestForFile(ctx, uint8(protocol.CmdUploadData), req, opts.Name, timeout)
		duration := time.Since(sampleStart)
		durationMs := duration.Milliseconds()
		e.strategy.RecordSample(chunkstrategy.Sample{
			Success:    err == nil,
			DurationMs: durationMs,
			Bytes:      int64(len(data)),
			Retries:    attempt,
		})
		metrics.RecordChunkDuration(duration.Seconds())
		if err == nil {
			metrics.RecordChunkSuccess()
			return len(data), nil
		}
		if attempt > 0 {
			metrics.RecordChunkRetry()
		}
		lastErr = err
		e.log.Warn("chunk upload attempt failed", zap.String("session_id", sessionID), zap.Int("chunk_index", idx), zap.Int("attempt", attempt), zap.Error(err))
	}
	metrics.RecordChunkError()
	return 0, errors.Transfer("Engine.uploadOneChunk", idx, lastErr)
}
