package protocol

// CompressionCodec implements spec §4.3: gzip/deflate/brotli (plus zstd as a
// fourth "auto" candidate) with an adaptive size threshold and a scored
// algorithm selector. Grounded on the teacher's internal/server/cache.go
// (which gzip-compresses cacheable responses) generalized to a pluggable,
// stats-driven codec across the pack's three ecosystem compression libraries.

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/skywire-client/fileengine/internal/errors"
)

const (
	minThreshold     = 512
	initialThreshold = 1024
	maxThreshold     = 4096

	// thresholdSampleWindow bounds how many recent attempts inform the
	// threshold's halve/double decision.
	thresholdSampleWindow = 32
	// algoSampleWindow bounds how many recent per-algorithm samples inform
	// the "auto" scorer.
	algoSampleWindow = 16

	smallPayload  = 8 * 1024
	mediumPayload = 256 * 1024
)

// Algorithm and its wire values (Algorithm{Unspecified,Gzip,Deflate,Brotli})
// are declared in commands.go. CompressionCodec
// additionally recognizes AlgoZstd internally for the "auto" scorer only —
// zstd never appears on the wire since the format byte has no bit pattern for
// it (spec §3.2's bit layout reserves only gzip/deflate/brotli); it exists
// purely to widen the pool the scorer samples from before falling back to one
// of the three wire-representable algorithms.
const algoZstd Algorithm = 100

type sample struct {
	success  bool
	duration time.Duration
	origSize int
	outSize  int
}

// CompressionCodec compresses/decompresses payloads and adapts its own
// threshold and algorithm choice from a rolling history of attempts.
type CompressionCodec struct {
	mu sync.Mutex

	threshold int

	thresholdSamples []sample
	algoSamples      map[Algorithm][]sample

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCompressionCodec constructs a codec with the spec's default 1 KiB
// starting threshold.
func NewCompressionCodec() *CompressionCodec {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec, _ := zstd.NewReader(nil)
	return &CompressionCodec{
		threshold:   initialThreshold,
		algoSamples: make(map[Algorithm][]sample),
		zstdEncoder: enc,
		zstdDecoder: dec,
	}
}

// Threshold returns the codec's current adaptive minimum-size-to-compress
// value, in bytes.
func (c *CompressionCodec) Threshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// ShouldAttempt reports whether a payload of size n is large enough to be
// worth compressing, per the current adaptive threshold.
func (c *CompressionCodec) ShouldAttempt(n int) bool {
	return n > c.Threshold()
}

// PickAlgorithm selects an algorithm for a payload of size n, either from
// the scored history (when enough samples exist) or the size-based
// heuristic (small: deflate; medium: gzip; large: brotli).
func (c *CompressionCodec) PickAlgorithm(n int) Algorithm {
	c.mu.Lock()
	best, ok := c.bestScoredAlgorithmLocked()
	c.mu.Unlock()
	if ok {
		return best
	}
	switch {
	case n < smallPayload:
		return AlgoDeflate
	case n < mediumPayload:
		return AlgoGzip
	default:
		return AlgoBrotli
	}
}

func (c *CompressionCodec) bestScoredAlgorithmLocked() (Algorithm, bool) {
	type scored struct {
		algo  Algorithm
		score float64
	}
	var candidates []scored
	for _, algo := range []Algorithm{AlgoGzip, AlgoDeflate, AlgoBrotli, algoZstd} {
		samples := c.algoSamples[algo]
		if len(samples) == 0 {
			continue
		}
		score, ok := scoreSamples(samples)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{algo, score})
	}
	if len(candidates) == 0 {
		return AlgoUnspecified, false
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.score > best.score {
			best = cand
		}
	}
	if best.algo == algoZstd {
		// zstd cannot be represented on the wire; fall back to brotli, the
		// next-best general-purpose ratio/throughput tradeoff.
		return AlgoBrotli, true
	}
	return best.algo, true
}

// scoreSamples computes a (ratio × throughput) score from successful
// samples only; a history with no successes yields ok=false so the caller
// falls back to the size heuristic.
func scoreSamples(samples []sample) (float64, bool) {
	var totalScore float64
	var n int
	for _, s := range samples {
		if !s.success || s.outSize <= 0 || s.duration <= 0 {
			continue
		}
		ratio := float64(s.origSize) / float64(s.outSize)
		throughputMBs := (float64(s.origSize) / (1024 * 1024)) / s.duration.Seconds()
		totalScore += ratio * throughputMBs
		n++
	}
	if n == 0 {
		return 0, false
	}
	return totalScore / float64(n), true
}

// Compress compresses b with algo, recording the attempt for future
// PickAlgorithm/threshold decisions.
func (c *CompressionCodec) Compress(algo Algorithm, b []byte) ([]byte, error) {
	start := time.Now()
	out, err := c.compress(algo, b)
	dur := time.Since(start)
	c.recordSample(algo, sample{
		success:  err == nil,
		duration: dur,
		origSize: len(b),
		outSize:  len(out),
	})
	if err != nil {
		return nil, errors.New("CompressionCodec.Compress", errors.KindTransfer, err)
	}
	return out, nil
}

func (c *CompressionCodec) compress(algo Algorithm, b []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch algo {
	case AlgoGzip:
		w := kzip.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case AlgoDeflate:
		w, err := kflate.NewWriter(&buf, kflate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case AlgoBrotli:
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case algoZstd:
		c.mu.Lock()
		enc := c.zstdEncoder
		c.mu.Unlock()
		buf.Write(enc.EncodeAll(b, nil))
	default:
		return nil, errValue("unknown compression algorithm")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. algo may be AlgoUnspecified, in which case
// the algorithm is detected from magic bytes (gzip: 1F 8B; deflate: no
// reliable magic, so it is the fallback when gzip's signature doesn't
// match and the brotli stream fails to parse).
func (c *CompressionCodec) Decompress(algo Algorithm, b []byte) ([]byte, error) {
	sniffed := algo == AlgoUnspecified
	if sniffed {
		algo = sniffAlgorithm(b)
	}
	out, err := c.decompress(algo, b)
	if err != nil && sniffed && algo == AlgoBrotli {
		out, err = c.decompress(AlgoDeflate, b)
	}
	if err != nil {
		return nil, errors.New("CompressionCodec.Decompress", errors.KindTransfer, err)
	}
	return out, nil
}

func (c *CompressionCodec) decompress(algo Algorithm, b []byte) ([]byte, error) {
	switch algo {
	case AlgoGzip:
		r, err := kzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgoDeflate:
		r := kflate.NewReader(bytes.NewReader(b))
		defer r.Close()
		return io.ReadAll(r)
	case AlgoBrotli:
		r := brotli.NewReader(bytes.NewReader(b))
		return io.ReadAll(r)
	case algoZstd:
		c.mu.Lock()
		dec := c.zstdDecoder
		c.mu.Unlock()
		return dec.DecodeAll(b, nil)
	default:
		return nil, errValue("unknown compression algorithm")
	}
}

// sniffAlgorithm identifies a compressed stream's algorithm from its magic
// bytes per spec §4.3: gzip is 1F 8B; zlib/deflate streams start with a
// 0x78 CMF byte; anything else is assumed brotli, which has no fixed magic.
func sniffAlgorithm(b []byte) Algorithm {
	if len(b) >= 2 && b[0] == 0x1F && b[1] == 0x8B {
		return AlgoGzip
	}
	if len(b) >= 1 && b[0] == 0x78 {
		return AlgoDeflate
	}
	return AlgoBrotli
}

// recordSample appends to both the per-algorithm and global threshold
// histories, trimming each to its sample window, then re-evaluates the
// adaptive threshold.
func (c *CompressionCodec) recordSample(algo Algorithm, s sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.algoSamples[algo] = appendBounded(c.algoSamples[algo], s, algoSampleWindow)
	c.thresholdSamples = appendBounded(c.thresholdSamples, s, thresholdSampleWindow)
	c.adjustThresholdLocked()
}

func appendBounded(samples []sample, s sample, max int) []sample {
	samples = append(samples, s)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

// adjustThresholdLocked implements spec §4.3's threshold adaptation: a
// high success rate and low average encode time shrinks the threshold
// (more payloads become eligible for compression); a degraded success
// rate or slow encodes grows it back. Requires a full window before acting,
// so single outliers can't swing the threshold.
func (c *CompressionCodec) adjustThresholdLocked() {
	if len(c.thresholdSamples) < thresholdSampleWindow {
		return
	}
	var successes int
	var totalDur time.Duration
	for _, s := range c.thresholdSamples {
		if s.success {
			successes++
		}
		totalDur += s.duration
	}
	successRate := float64(successes) / float64(len(c.thresholdSamples))
	avgDur := totalDur / time.Duration(len(c.thresholdSamples))

	const goodSuccessRate = 0.95
	const fastEncode = 5 * time.Millisecond
	const badSuccessRate = 0.8
	const slowEncode = 20 * time.Millisecond

	switch {
	case successRate >= goodSuccessRate && avgDur <= fastEncode:
		c.threshold = max(c.threshold/2, minThreshold)
	case successRate < badSuccessRate || avgDur > slowEncode:
		c.threshold = min(c.threshold*2, maxThreshold)
	}
}
