// Package chunkstrategy implements AdaptiveChunkStrategy (spec §4.8): a
// ring buffer of recent transfer outcomes that derives throughput, error
// rate, a network-quality label, and size/concurrency/timeout
// recommendations.
//
// Grounded on the teacher's internal/client/uploader.go throughput
// calculation (bytes transferred over elapsed time) and generalized into a
// rolling-window classifier; throughput here is kept in bytes per second.
package chunkstrategy

import (
	"sync"
	"time"

	"github.com/skywire-client/fileengine/internal/wire"
)

// Quality is a coarse network-quality label.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityModerate  Quality = "moderate"
	QualityPoor      Quality = "poor"
	QualityVeryPoor  Quality = "very_poor"
)

const (
	// DefaultWindowSize is the ring buffer's default sample capacity.
	DefaultWindowSize = 10

	// MinChunkSize is MIN_CHUNK: below this, per-chunk overhead dominates.
	MinChunkSize = 16 * 1024

	chunkAlignment = 1024 // 1 KiB alignment

	maxStepFraction = 0.20 // adjustments are bounded to ±20%

	targetErrorRate       = 0.03
	targetThroughputGrowBy = 1.5
)

// throughput classification thresholds, bytes/sec.
const (
	excellentThroughput = 10 * 1024 * 1024
	goodThroughput      = 5 * 1024 * 1024
	moderateThroughput  = 1 * 1024 * 1024
	poorThroughput      = 512 * 1024

	excellentErrRate = 0.01
	goodErrRate      = 0.03
	moderateErrRate  = 0.05
	poorErrRate      = 0.10
)

// MaxChunkSize is MAX_CHUNK, derived from the frame's maximum payload size
// minus framing overhead (spec §4.9: "MAX_CHUNK is derived from the 4 MiB
// frame limit minus encoding overhead").
const MaxChunkSize = wire.MaxPayloadLen - wire.Overhead

// Sample is one observed chunk transfer outcome.
type Sample struct {
	Success    bool
	DurationMs int64
	Bytes      int64
	Retries    int
}

// Recommendation bundles the derived chunk_size/concurrency/timeout trio.
type Recommendation struct {
	ChunkSize   int64
	Concurrency int
	Timeout     time.Duration
	Quality     Quality
}

// Strategy maintains the ring buffer and current chunk size; it is safe
// for concurrent use by multiple transfer workers.
type Strategy struct {
	mu         sync.Mutex
	window     []Sample
	windowSize int
	chunkSize  int64

	lastAdjust time.Time
}

// New constructs a Strategy starting at a chunk size of startSize (clamped
// to [MinChunkSize, MaxChunkSize] and 1 KiB-aligned).
func New(startSize int64) *Strategy {
	return &Strategy{
		windowSize: DefaultWindowSize,
		chunkSize:  clampAlign(startSize),
	}
}

// RecordSample appends s to the ring buffer, evicting the oldest entry
// once the window is full.
func (s *Strategy) RecordSample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, sample)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}
}

// Throughput returns the average bytes/sec over the current window.
func (s *Strategy) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throughputLocked()
}

func (s *Strategy) throughputLocked() float64 {
	var totalBytes int64
	var totalMs int64
	for _, sample := range s.window {
		if !sample.Success {
			continue
		}
		totalBytes += sample.Bytes
		totalMs += sample.DurationMs
	}
	if totalMs == 0 {
		return 0
	}
	return float64(totalBytes) / (float64(totalMs) / 1000.0)
}

// ErrorRate returns failed/total over the current window.
func (s *Strategy) ErrorRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorRateLocked()
}

func (s *Strategy) errorRateLocked() float64 {
	if len(s.window) == 0 {
		return 0
	}
	var failed int
	for _, sample := range s.window {
		if !sample.Success {
			failed++
		}
	}
	return float64(failed) / float64(len(s.window))
}

// NetworkQuality classifies the current window per spec §4.8's thresholds.
func (s *Strategy) NetworkQuality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return classify(s.throughputLocked(), s.errorRateLocked())
}

func classify(throughput, errRate float64) Quality {
	switch {
	case throughput >= excellentThroughput && errRate < excellentErrRate:
		return QualityExcellent
	case throughput >= goodThroughput && errRate < goodErrRate:
		return QualityGood
	case throughput >= moderateThroughput && errRate < moderateErrRate:
		return QualityModerate
	case throughput >= poorThroughput && errRate < poorErrRate:
		return QualityPoor
	default:
		return QualityVeryPoor
	}
}

// qualityBaseSize maps a quality label to a starting chunk size before
// clamping/alignment.
func qualityBaseSize(q Quality) int64 {
	switch q {
	case QualityExcellent:
		return 512 * 1024
	case QualityGood:
		return 256 * 1024
	case QualityModerate:
		return 128 * 1024
	case QualityPoor:
		return 64 * 1024
	default:
		return MinChunkSize
	}
}

func qualityConcurrency(q Quality) int {
	switch q {
	case QualityExcellent:
		return 6
	case QualityGood:
		return 4
	case QualityModerate:
		return 3
	case QualityPoor:
		return 2
	default:
		return 1
	}
}

func qualityTimeout(q Quality) time.Duration {
	switch q {
	case QualityExcellent, QualityGood:
		return 30 * time.Second
	case QualityModerate:
		return 60 * time.Second
	case QualityPoor:
		return 90 * time.Second
	default:
		return 120 * time.Second
	}
}

// GetOptimalChunkSize returns a quality-indexed chunk size, clamped and
// aligned to 1 KiB.
func (s *Strategy) GetOptimalChunkSize() int64 {
	q := s.NetworkQuality()
	return clampAlign(qualityBaseSize(q))
}

// GetRecommendation returns chunk size, worker concurrency, and per-request
// timeout derived from the current window's quality label.
func (s *Strategy) GetRecommendation() Recommendation {
	q := s.NetworkQuality()
	return Recommendation{
		ChunkSize:   clampAlign(qualityBaseSize(q)),
		Concurrency: qualityConcurrency(q),
		Timeout:     qualityTimeout(q),
		Quality:     q,
	}
}

// CurrentChunkSize returns the strategy's live, possibly auto-adjusted
// chunk size (distinct from GetOptimalChunkSize, which derives a fresh
// value purely from the current quality label).
func (s *Strategy) CurrentChunkSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkSize
}

// MaybeAdjust applies the bounded-step auto-adjustment described in spec
// §4.8: shrink when error rate exceeds target, grow when throughput
// exceeds target×1.5, each step bounded to ±20%. Returns the (possibly
// unchanged) chunk size.
func (s *Strategy) MaybeAdjust(targetThroughput float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	errRate := s.errorRateLocked()
	throughput := s.throughputLocked()

	switch {
	case errRate > targetErrorRate:
		s.chunkSize = clampAlign(int64(float64(s.chunkSize) * (1 - maxStepFraction)))
	case throughput > targetThroughput*targetThroughputGrowBy:
		s.chunkSize = clampAlign(int64(float64(s.chunkSize) * (1 + maxStepFraction)))
	}
	s.lastAdjust = time.Now()
	return s.chunkSize
}

// Clamp clamps size to [MinChunkSize, MaxChunkSize] and aligns it to 1 KiB,
// the same rule GetOptimalChunkSize applies internally. Exported so callers
// choosing a chunk size from other inputs (e.g. the transfer engine's
// size-class cap table) share one alignment rule.
func Clamp(size int64) int64 {
	return clampAlign(size)
}

func clampAlign(size int64) int64 {
	if size < MinChunkSize {
		size = MinChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	// Align down to the nearest 1 KiB, but never below MinChunkSize.
	aligned := (size / chunkAlignment) * chunkAlignment
	if aligned < MinChunkSize {
		aligned = MinChunkSize
	}
	return aligned
}
