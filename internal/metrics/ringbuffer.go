// Package metrics implements the adaptive-sampling metrics pipeline (C4-C6):
// a mutex-guarded ring buffer of compact samples, an adaptive sampler that
// adjusts the retention rate to load, and a production aggregator that
// bridges both into Prometheus and process-level system gauges.
package metrics

import (
	"sync"
	"time"

	"gatewaycore/internal/model"
)

// RingBuffer is a fixed-capacity circular buffer of CompactMetric samples.
// The teacher's pkg/websocket ring buffer is lock-free and stores opaque
// []byte slots behind atomic head/tail counters with unsafe.Pointer slots;
// this implementation instead stores typed CompactMetric values under a
// single mutex (§5: "single mutex around append and swap"), since the
// specification explicitly rejects the lock-free design in favor of
// straightforward overwrite-oldest semantics that a plain append+swap
// makes trivial to reason about.
type RingBuffer struct {
	mu       sync.Mutex
	capacity int
	buf      []model.CompactMetric
	next     int
	full     bool
	dropped  int64
}

// NewRingBuffer constructs a RingBuffer with the given capacity (default 2000).
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &RingBuffer{capacity: capacity, buf: make([]model.CompactMetric, capacity)}
}

// Append writes sample into the next slot, overwriting the oldest entry once
// the buffer has wrapped (§4.4).
func (r *RingBuffer) Append(sample model.CompactMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.dropped++
	}
	r.buf[r.next] = sample
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Swap atomically returns a copy of the buffer's contents in chronological
// order and resets it to empty, used by the periodic flush (§4.4: "swap the
// buffer under the lock, then drain it outside the lock").
func (r *RingBuffer) Swap() []model.CompactMetric {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.CompactMetric
	if r.full {
		out = make([]model.CompactMetric, r.capacity)
		copy(out, r.buf[r.next:])
		copy(out[r.capacity-r.next:], r.buf[:r.next])
	} else {
		out = make([]model.CompactMetric, r.next)
		copy(out, r.buf[:r.next])
	}

	r.buf = make([]model.CompactMetric, r.capacity)
	r.next = 0
	r.full = false
	return out
}

// Len reports the number of samples currently buffered.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return r.capacity
	}
	return r.next
}

// Dropped reports how many samples have been overwritten before a flush
// drained them, for capacity-pressure diagnostics.
func (r *RingBuffer) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// AdaptiveSampler decides whether to retain a given observation, adjusting
// its retention rate between min/max bounds in response to ring-buffer fill
// pressure (§4.4: "every 5s, compute fillRatio = bufferSize/capacity" and
// scale currentRate multiplicatively toward min or max).
type AdaptiveSampler struct {
	mu         sync.Mutex
	state      model.SamplingState
	adaptEvery time.Duration
	lastAdapt  time.Time
}

// NewAdaptiveSampler constructs a sampler starting at initialRate, bounded
// by [minRate, maxRate], re-evaluating its rate once per adaptEvery (default
// 5s per §4.4).
func NewAdaptiveSampler(initialRate, minRate, maxRate float64, adaptEvery time.Duration) *AdaptiveSampler {
	if adaptEvery <= 0 {
		adaptEvery = 5 * time.Second
	}
	return &AdaptiveSampler{
		state: model.SamplingState{
			CurrentRate: initialRate,
			MinRate:     minRate,
			MaxRate:     maxRate,
		},
		adaptEvery: adaptEvery,
		lastAdapt:  time.Now(),
	}
}

// ShouldSample reports whether the caller should retain this observation.
// Critical events (failures, state transitions) always pass regardless of
// rate, per §4.4's MetricsWrapper contract. rngFn must return a value in
// [0, 1); production callers pass a shared math/rand source, tests pass a
// deterministic stub.
func (s *AdaptiveSampler) ShouldSample(isCritical bool, rngFn func() float64) bool {
	if isCritical {
		return true
	}
	s.mu.Lock()
	rate := s.state.CurrentRate
	s.mu.Unlock()
	return rngFn() < rate
}

// Adapt recomputes the sampling rate from the ring buffer's current fill
// ratio, no more often than once per adaptEvery window (§4.4: fillRatio >
// 0.8 scales the rate down by 0.7x toward minRate; fillRatio < 0.3 scales it
// up by 1.2x toward maxRate).
func (s *AdaptiveSampler) Adapt(bufferSize, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastAdapt) < s.adaptEvery {
		return
	}
	s.lastAdapt = now
	s.state.LastAdjustment = now

	if capacity <= 0 {
		return
	}
	fillRatio := float64(bufferSize) / float64(capacity)

	switch {
	case fillRatio > 0.8:
		s.state.CurrentRate = s.state.CurrentRate * 0.7
	case fillRatio < 0.3:
		s.state.CurrentRate = s.state.CurrentRate * 1.2
	}

	if s.state.CurrentRate < s.state.MinRate {
		s.state.CurrentRate = s.state.MinRate
	}
	if s.state.CurrentRate > s.state.MaxRate {
		s.state.CurrentRate = s.state.MaxRate
	}
}

// Rate returns the sampler's current retention rate.
func (s *AdaptiveSampler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentRate
}

// State returns a snapshot of the sampler's internal state, for stats endpoints.
func (s *AdaptiveSampler) State() model.SamplingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
