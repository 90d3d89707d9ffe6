package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resumable Session Store Metrics
//
// These metrics track ResumableUploadStore.CreateOrResume's resume-vs-fresh
// outcome and the chunk-hash/whole-file checksum verifications performed
// around upload/download. Use these to monitor resume effectiveness and
// data integrity.

var (
	// CacheHits counts CreateOrResume calls that matched and resumed an
	// existing compatible session.
	// Use this to monitor resume effectiveness.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileengine_cache_hits_total",
			Help: "Total number of resumed upload sessions",
		},
	)

	// CacheMisses counts CreateOrResume calls that started a fresh session
	// (no compatible prior record, or none was found).
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileengine_cache_misses_total",
			Help: "Total number of fresh (non-resumed) upload sessions",
		},
	)

	// CacheSize tracks the total bytes across all currently persisted
	// upload session records.
	// Use this to monitor ResumableUploadStore's on-disk footprint.
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileengine_cache_size_bytes",
			Help: "Total bytes across persisted upload session records",
		},
	)

	// ChecksumVerifications tracks file integrity checks.
	// Labels: status (match, mismatch)
	// Use this to monitor data integrity and identify corruption issues.
	ChecksumVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileengine_checksum_verifications_total",
			Help: "Total number of checksum verifications",
		},
		[]string{"status"},
	)
)

// Helper functions for resumable session store metrics

// RecordCacheHit records a resumed upload session.
func RecordCacheHit() {
	CacheHits.Inc()
}

// RecordCacheMiss records a fresh (non-resumed) upload session.
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordChecksumMatch records a successful checksum verification.
func RecordChecksumMatch() {
	ChecksumVerifications.WithLabelValues("match").Inc()
}

// RecordChecksumMismatch records a failed checksum verification.
func RecordChecksumMismatch() {
	ChecksumVerifications.WithLabelValues("mismatch").Inc()
}

// SetCacheSize updates the persisted-session-bytes gauge.
func SetCacheSize(bytes int64) {
	CacheSize.Set(float64(bytes))
}
