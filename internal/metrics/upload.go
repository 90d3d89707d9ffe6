package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload Metrics
//
// These metrics track TransferEngine uploads (whole-file and chunked).
// Use these metrics to monitor upload performance, success rates, and
// identify bottlenecks in the upload pipeline.

var (
	// UploadDuration tracks the time taken to complete file uploads.
	// Labels: file_ext (e.g., "txt", "pdf", "zip")
	// Use this to identify slow uploads by file type.
	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_upload_duration_seconds",
			Help:    "Upload duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to 51.2s
		},
		[]string{"file_ext"},
	)

	// UploadSize tracks the size of uploaded files in bytes.
	// Labels: file_ext
	// Use this to understand upload size distribution.
	UploadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_upload_size_bytes",
			Help:    "Upload size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 20), // 1KiB to 512MiB
		},
		[]string{"file_ext"},
	)

	// UploadThroughput tracks upload speed in Mbps.
	// Labels: file_ext
	// Use this to monitor network performance and identify bandwidth issues.
	UploadThroughput = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_upload_throughput_mbps",
			Help:    "Upload throughput in Mbps",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1 Mbps to ~16Gbps
		},
		[]string{"file_ext"},
	)

	// UploadsTotal counts successful and failed uploads.
	// Labels: file_ext, status (success, error)
	// Use this to track upload success rate and identify problematic file types.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileengine_uploads_total",
			Help: "Total number of uploads",
		},
		[]string{"file_ext", "status"},
	)

	// ActiveUploads tracks the number of uploads currently in progress.
	// Use this to monitor concurrent upload load this engine is driving.
	ActiveUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileengine_active_uploads",
			Help: "Number of active uploads",
		},
	)
)

// RecordUpload records the outcome, duration and size of one completed
// upload. success is false when the upload returned an error.
func RecordUpload(ext string, duration time.Duration, sizeBytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	UploadsTotal.WithLabelValues(ext, status).Inc()
	if !success {
		return
	}
	UploadDuration.WithLabelValues(ext).Observe(duration.Seconds())
	UploadSize.WithLabelValues(ext).Observe(float64(sizeBytes))
	if duration > 0 {
		mbps := float64(sizeBytes) * 8 / 1e6 / duration.Seconds()
		UploadThroughput.WithLabelValues(ext).Observe(mbps)
	}
}
