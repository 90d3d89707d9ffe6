// Package metrics provides Prometheus metrics for monitoring the file
// transfer engine.
//
// The metrics package is organized into logical modules:
//
//   - upload.go: Upload performance and throughput metrics
//   - download.go: Download performance and throughput metrics
//   - chunks.go: Per-chunk upload attempt metrics for chunked transfers
//   - session.go: Transfer session lifecycle, retries, and error tracking
//   - cache.go: Resumable upload session store hit/miss and checksum metrics
//   - websocket.go: Real-time progress streaming metrics
//   - http.go: Multiplexer request latency and admission-pacing metrics
//
// Usage Examples:
//
// Recording an upload:
//
//	start := time.Now()
//	metrics.ActiveUploads.Inc()
//	defer metrics.ActiveUploads.Dec()
//	// ... perform upload ...
//	metrics.RecordUpload("pdf", time.Since(start), size, err == nil)
//
// Recording a resumed session:
//
//	if resumed {
//	    metrics.RecordCacheHit()
//	} else {
//	    metrics.RecordCacheMiss()
//	}
//
// Recording a WebSocket message:
//
//	metrics.WebSocketConnected()
//	defer metrics.WebSocketDisconnected()
//	metrics.RecordProgressMessage()
//
// All metrics are automatically registered with Prometheus; an embedding
// host exposes them however it sees fit (e.g. mounting
// promhttp.Handler on its own mux).
package metrics
