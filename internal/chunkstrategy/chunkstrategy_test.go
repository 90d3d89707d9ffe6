package chunkstrategy

import "testing"

func fillExcellent(s *Strategy) {
	for i := 0; i < DefaultWindowSize; i++ {
		s.RecordSample(Sample{Success: true, DurationMs: 100, Bytes: 2 * 1024 * 1024}) // 20 MiB/s
	}
}

func fillVeryPoor(s *Strategy) {
	for i := 0; i < DefaultWindowSize; i++ {
		s.RecordSample(Sample{Success: false, DurationMs: 500, Bytes: 1024})
	}
}

func TestNetworkQualityClassification(t *testing.T) {
	s := New(MinChunkSize)
	fillExcellent(s)
	if q := s.NetworkQuality(); q != QualityExcellent {
		t.Fatalf("expected excellent, got %v (throughput=%v errRate=%v)", q, s.Throughput(), s.ErrorRate())
	}

	s2 := New(MinChunkSize)
	fillVeryPoor(s2)
	if q := s2.NetworkQuality(); q != QualityVeryPoor {
		t.Fatalf("expected very_poor, got %v", q)
	}
}

func TestGetOptimalChunkSizeClampedAndAligned(t *testing.T) {
	s := New(MinChunkSize)
	fillExcellent(s)
	size := s.GetOptimalChunkSize()
	if size < MinChunkSize || size > MaxChunkSize {
		t.Fatalf("expected size within [%d, %d], got %d", MinChunkSize, MaxChunkSize, size)
	}
	if size%1024 != 0 {
		t.Fatalf("expected 1 KiB alignment, got %d", size)
	}
}

func TestGetRecommendationConcurrencyBounds(t *testing.T) {
	s := New(MinChunkSize)
	fillExcellent(s)
	rec := s.GetRecommendation()
	if rec.Concurrency < 1 || rec.Concurrency > 6 {
		t.Fatalf("expected concurrency in [1,6], got %d", rec.Concurrency)
	}
	if rec.Quality != QualityExcellent {
		t.Fatalf("expected excellent quality recommendation, got %v", rec.Quality)
	}
}

func TestMaybeAdjustShrinksOnHighErrorRate(t *testing.T) {
	s := New(256 * 1024)
	for i := 0; i < DefaultWindowSize; i++ {
		s.RecordSample(Sample{Success: false, DurationMs: 100, Bytes: 1024})
	}
	before := s.CurrentChunkSize()
	after := s.MaybeAdjust(1024 * 1024)
	if after >= before {
		t.Fatalf("expected chunk size to shrink on high error rate: before=%d after=%d", before, after)
	}
	if float64(before-after) > float64(before)*maxStepFraction+1 {
		t.Fatalf("expected bounded ±20%% step, before=%d after=%d", before, after)
	}
}

func TestMaybeAdjustGrowsOnHighThroughput(t *testing.T) {
	s := New(256 * 1024)
	for i := 0; i < DefaultWindowSize; i++ {
		s.RecordSample(Sample{Success: true, DurationMs: 100, Bytes: 2 * 1024 * 1024})
	}
	before := s.CurrentChunkSize()
	after := s.MaybeAdjust(1024) // tiny target so observed throughput exceeds target*1.5
	if after <= before {
		t.Fatalf("expected chunk size to grow on high throughput: before=%d after=%d", before, after)
	}
}

func TestClampAlignRespectsBounds(t *testing.T) {
	if got := clampAlign(1); got != MinChunkSize {
		t.Fatalf("expected clamp up to MinChunkSize, got %d", got)
	}
	if got := clampAlign(MaxChunkSize * 10); got > MaxChunkSize {
		t.Fatalf("expected clamp down to MaxChunkSize, got %d", got)
	}
}
