package metrics

import (
	"testing"
	"time"

	"gatewaycore/internal/model"
)

func TestRingBufferAppendAndSwapPreservesOrder(t *testing.T) {
	r := NewRingBuffer(4)
	for i := 0; i < 3; i++ {
		r.Append(model.CompactMetric{Value: float64(i)})
	}

	samples := r.Swap()
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s.Value != float64(i) {
			t.Fatalf("expected chronological order, sample %d has value %v", i, s.Value)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected buffer empty after swap, got len %d", r.Len())
	}
}

func TestRingBufferOverwritesOldestWhenFull(t *testing.T) {
	r := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		r.Append(model.CompactMetric{Value: float64(i)})
	}

	samples := r.Swap()
	if len(samples) != 3 {
		t.Fatalf("expected capacity-bounded 3 samples, got %d", len(samples))
	}
	// values 0,1 were overwritten; 2,3,4 remain, in chronological order
	want := []float64{2, 3, 4}
	for i, s := range samples {
		if s.Value != want[i] {
			t.Fatalf("expected %v at position %d, got %v", want[i], i, s.Value)
		}
	}
	if r.Dropped() != 2 {
		t.Fatalf("expected 2 dropped samples recorded, got %d", r.Dropped())
	}
}

func TestAdaptiveSamplerCriticalAlwaysSamples(t *testing.T) {
	s := NewAdaptiveSampler(0.03, 0.01, 0.15, time.Nanosecond)
	if !s.ShouldSample(true, func() float64 { return 0.999 }) {
		t.Fatalf("expected critical events to always be sampled regardless of rng")
	}
}

func TestAdaptiveSamplerNonCriticalRespectsRate(t *testing.T) {
	s := NewAdaptiveSampler(0.5, 0.01, 0.15, time.Nanosecond)
	if !s.ShouldSample(false, func() float64 { return 0.1 }) {
		t.Fatalf("expected rng below rate to sample")
	}
	if s.ShouldSample(false, func() float64 { return 0.9 }) {
		t.Fatalf("expected rng above rate to not sample")
	}
}

func TestAdaptiveSamplerScalesDownOnHighFill(t *testing.T) {
	s := NewAdaptiveSampler(0.1, 0.01, 0.15, time.Nanosecond)
	s.Adapt(90, 100) // fillRatio 0.9 > 0.8
	if got := s.Rate(); got >= 0.1 {
		t.Fatalf("expected rate to scale down on high fill ratio, got %v", got)
	}
}

func TestAdaptiveSamplerScalesUpOnLowFill(t *testing.T) {
	s := NewAdaptiveSampler(0.05, 0.01, 0.15, time.Nanosecond)
	s.Adapt(10, 100) // fillRatio 0.1 < 0.3
	if got := s.Rate(); got <= 0.05 {
		t.Fatalf("expected rate to scale up on low fill ratio, got %v", got)
	}
}

func TestAdaptiveSamplerRespectsBounds(t *testing.T) {
	s := NewAdaptiveSampler(0.011, 0.01, 0.15, time.Nanosecond)
	for i := 0; i < 10; i++ {
		time.Sleep(time.Microsecond)
		s.Adapt(95, 100)
	}
	if got := s.Rate(); got < 0.01 {
		t.Fatalf("expected rate floor at minRate 0.01, got %v", got)
	}
}
