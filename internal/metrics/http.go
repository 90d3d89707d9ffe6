package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request Metrics
//
// These metrics track Multiplexer.Send round trips and ConcurrencyManager
// admission pacing. Use these to monitor per-command wire latency and
// identify when the admission rate limiter is throttling task dispatch.

var (
	// RequestDuration tracks Multiplexer.Send round-trip time.
	// Labels: command (the protocol.Command name), status (success, error)
	// Use this to identify slow commands and tune per-command timeouts.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileengine_request_duration_seconds",
			Help:    "Multiplexer request round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command", "status"},
	)

	// RequestsTotal counts Multiplexer.Send calls by command and status.
	// Labels: command, status
	// Use this to track request volume and identify error patterns.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileengine_requests_total",
			Help: "Total number of requests sent through the multiplexer",
		},
		[]string{"command", "status"},
	)

	// RateLimitedRequests counts ConcurrencyManager dispatch cycles that
	// were paced by the admission rate limiter.
	// Labels: reason (currently always "admission")
	// Use this to identify when the configured admission rate is the
	// limiting factor on throughput.
	RateLimitedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileengine_rate_limited_requests_total",
			Help: "Total number of task dispatches delayed by admission pacing",
		},
		[]string{"reason"},
	)
)

// Helper functions for request metrics

// RecordRequest records one Multiplexer.Send round trip.
func RecordRequest(command string, durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	RequestsTotal.WithLabelValues(command, status).Inc()
	RequestDuration.WithLabelValues(command, status).Observe(durationSeconds)
}

// RecordRateLimit records one admission-paced task dispatch.
func RecordRateLimit(reason string) {
	RateLimitedRequests.WithLabelValues(reason).Inc()
}
