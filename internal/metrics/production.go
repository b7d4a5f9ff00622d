package metrics

import (
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/model"
)

// ProductionMetrics owns the ring buffer, the adaptive sampler, and the
// single background flush worker that drains them (§4.4: "ProductionMetrics
// owns the ring buffer and the flush worker; the flush worker is the sole
// consumer"). It also folds in session tracking (active sessions, session
// events by kind), adapted from the original daemon's SessionTracker, which
// the implementation notes describe as split out of a monitoring god-object
// -- here it stays a field of ProductionMetrics rather than becoming a
// second standalone component, since nothing else needs to own it.
type ProductionMetrics struct {
	ring    *RingBuffer
	sampler *AdaptiveSampler
	logger  zerolog.Logger

	flushInterval time.Duration

	mu                 sync.Mutex
	metricsAdded       int64
	metricsDropped     int64
	flushCount         int64
	totalFlushDuration time.Duration

	aggregates map[model.MetricType]*aggregate

	sessionMu     sync.Mutex
	activeSession map[string]struct{}
	sessionEvents map[string]int64

	ctx    chan struct{}
	wg     sync.WaitGroup
	closed int32
}

type aggregate struct {
	count float64
	sum   float64
}

// NewProductionMetrics constructs a ProductionMetrics with the given buffer
// capacity, sampling bounds, and flush cadence (defaults per §4.4: capacity
// 2000, sampleRate 0.03, minRate 0.01, maxRate 0.15, flushInterval 2s).
func NewProductionMetrics(capacity int, sampleRate, minRate, maxRate float64, flushInterval time.Duration, logger zerolog.Logger) *ProductionMetrics {
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &ProductionMetrics{
		ring:          NewRingBuffer(capacity),
		sampler:       NewAdaptiveSampler(sampleRate, minRate, maxRate, 5*time.Second),
		logger:        logger,
		flushInterval: flushInterval,
		aggregates:    make(map[model.MetricType]*aggregate),
		activeSession: make(map[string]struct{}),
		sessionEvents: make(map[string]int64),
		ctx:           make(chan struct{}),
	}
}

// Record is the hot-path entry point: draw a sampling decision, and on a
// hit, append a CompactMetric to the ring buffer (§4.4 Hot path).
func (m *ProductionMetrics) Record(metricType model.MetricType, value float64, clientID string, isCritical bool) {
	if !m.sampler.ShouldSample(isCritical, rand.Float64) {
		return
	}

	m.ring.Append(model.CompactMetric{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Type:      metricType,
		Value:     value,
		ClientID:  clientID,
	})
	atomic.AddInt64(&m.metricsAdded, 1)
}

// StartFlushWorker launches the single background flush goroutine.
func (m *ProductionMetrics) StartFlushWorker() {
	m.wg.Add(1)
	go m.flushLoop()
}

func (m *ProductionMetrics) flushLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.flushOnce()
		case <-m.ctx:
			m.flushOnce()
			return
		}
	}
}

// flushOnce swaps the ring buffer under its own lock, then aggregates
// outside any lock held by the ring buffer, applying the unbiased estimator
// correction of 1/currentRate to each sampled value (§4.4).
func (m *ProductionMetrics) flushOnce() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("metrics flush worker panic recovered")
		}
	}()

	start := time.Now()
	samples := m.ring.Swap()
	rate := m.sampler.Rate()
	if rate <= 0 {
		rate = 1
	}

	m.mu.Lock()
	for _, s := range samples {
		agg, ok := m.aggregates[s.Type]
		if !ok {
			agg = &aggregate{}
			m.aggregates[s.Type] = agg
		}
		agg.count += 1 / rate
		agg.sum += s.Value / rate
	}
	m.flushCount++
	m.totalFlushDuration += time.Since(start)
	m.mu.Unlock()

	m.sampler.Adapt(len(samples), m.ring.capacity)
}

// Stop cancels the flush loop, running one final flush so the last window's
// samples are not lost.
func (m *ProductionMetrics) Stop() {
	if atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		close(m.ctx)
	}
	m.wg.Wait()
}

// MetaMetrics are always produced, never sampled (§4.4).
type MetaMetrics struct {
	BufferSize         int     `json:"bufferSize"`
	Capacity           int     `json:"capacity"`
	FillRatio          float64 `json:"fillRatio"`
	MetricsAdded       int64   `json:"metricsAdded"`
	MetricsDropped     int64   `json:"metricsDropped"`
	DropRate           float64 `json:"dropRate"`
	FlushCount         int64   `json:"flushCount"`
	AvgFlushDurationMs float64 `json:"avgFlushDurationMs"`
	CurrentSampleRate  float64 `json:"currentSampleRate"`
	ActiveSessions     int     `json:"activeSessions"`
}

// Meta returns the always-on meta-metrics snapshot.
func (m *ProductionMetrics) Meta() MetaMetrics {
	bufSize := m.ring.Len()
	dropped := m.ring.Dropped()

	m.mu.Lock()
	flushCount := m.flushCount
	var avgFlushMs float64
	if flushCount > 0 {
		avgFlushMs = float64(m.totalFlushDuration.Milliseconds()) / float64(flushCount)
	}
	added := atomic.LoadInt64(&m.metricsAdded)
	m.mu.Unlock()

	var dropRate float64
	if added+dropped > 0 {
		dropRate = float64(dropped) / float64(added+dropped)
	}

	return MetaMetrics{
		BufferSize:         bufSize,
		Capacity:           m.ring.capacity,
		FillRatio:          float64(bufSize) / float64(m.ring.capacity),
		MetricsAdded:       added,
		MetricsDropped:     dropped,
		DropRate:           dropRate,
		FlushCount:         flushCount,
		AvgFlushDurationMs: avgFlushMs,
		CurrentSampleRate:  m.sampler.Rate(),
		ActiveSessions:     m.ActiveSessionCount(),
	}
}

// AggregateSnapshot returns the unbiased count/sum estimate for one metric
// type as flushed so far.
func (m *ProductionMetrics) AggregateSnapshot(t model.MetricType) (count, sum float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggregates[t]
	if !ok {
		return 0, 0
	}
	return agg.count, agg.sum
}

// TrackSessionStart records a session as active, adapted from the original
// daemon's SessionTracker.
func (m *ProductionMetrics) TrackSessionStart(sessionID string) {
	m.sessionMu.Lock()
	m.activeSession[sessionID] = struct{}{}
	m.sessionMu.Unlock()
}

// TrackSessionEnd marks a session as no longer active.
func (m *ProductionMetrics) TrackSessionEnd(sessionID string) {
	m.sessionMu.Lock()
	delete(m.activeSession, sessionID)
	m.sessionMu.Unlock()
}

// TrackSessionEvent increments a named counter (e.g. "reconnect", "timeout").
func (m *ProductionMetrics) TrackSessionEvent(kind string) {
	m.sessionMu.Lock()
	m.sessionEvents[kind]++
	m.sessionMu.Unlock()
}

// ActiveSessionCount returns the number of sessions currently tracked as active.
func (m *ProductionMetrics) ActiveSessionCount() int {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	return len(m.activeSession)
}

// SessionEventCounts returns a snapshot of event counts by kind.
func (m *ProductionMetrics) SessionEventCounts() map[string]int64 {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	out := make(map[string]int64, len(m.sessionEvents))
	for k, v := range m.sessionEvents {
		out[k] = v
	}
	return out
}
