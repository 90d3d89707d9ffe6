package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Download Metrics
//
// These metrics track TransferEngine downloads (chunked, reassembled
// either to a ChunkSink or a MemorySink). Use these metrics to monitor
// download performance, success rates, and network bottlenecks.

var (
	// DownloadDuration tracks the time taken to complete file downloads.
	// Labels: file_ext (e.g., "txt", "pdf", "zip")
	// Use this to identify slow downloads by file type.
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to 51.2s
		},
		[]string{"file_ext"},
	)

	// DownloadSize tracks the size of downloaded files in bytes.
	// Labels: file_ext
	// Use this to understand download size distribution.
	DownloadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_download_size_bytes",
			Help:    "Download size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 20), // 1KiB to 512MiB
		},
		[]string{"file_ext"},
	)

	// DownloadThroughput tracks download speed in Mbps.
	// Labels: file_ext
	// Use this to monitor network performance and identify bandwidth issues.
	DownloadThroughput = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_download_throughput_mbps",
			Help:    "Download throughput in Mbps",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1 Mbps to ~16Gbps
		},
		[]string{"file_ext"},
	)

	// DownloadsTotal counts successful and failed downloads.
	// Labels: file_ext, status (success, error)
	// Use this to track download success rate and identify problematic file types.
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileengine_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"file_ext", "status"},
	)

	// ActiveDownloads tracks the number of downloads currently in progress.
	// Use this to monitor concurrent download load this engine is driving.
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileengine_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// ActiveTransfers tracks total active uploads and downloads combined.
	// Use this to monitor overall engine load.
	ActiveTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileengine_active_transfers",
			Help: "Number of active transfers (uploads + downloads)",
		},
	)
)

// RecordDownload records the outcome, duration and size of one completed
// download. success is false when the download returned an error.
func RecordDownload(ext string, duration time.Duration, sizeBytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	DownloadsTotal.WithLabelValues(ext, status).Inc()
	if !success {
		return
	}
	DownloadDuration.WithLabelValues(ext).Observe(duration.Seconds())
	DownloadSize.WithLabelValues(ext).Observe(float64(sizeBytes))
	if duration > 0 {
		mbps := float64(sizeBytes) * 8 / 1e6 / duration.Seconds()
		DownloadThroughput.WithLabelValues(ext).Observe(mbps)
	}
}
