package metrics

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/model"
)

func TestRecordAndFlushAggregates(t *testing.T) {
	m := NewProductionMetrics(100, 1.0, 0.01, 0.15, time.Hour, zerolog.Nop())

	m.Record(model.MetricMessageLatency, 1.0, "c1", false)
	m.Record(model.MetricMessageLatency, 2.0, "c1", false)
	m.flushOnce()

	count, sum := m.AggregateSnapshot(model.MetricMessageLatency)
	if count != 2 {
		t.Fatalf("expected count 2 at sample rate 1.0, got %v", count)
	}
	if sum != 3.0 {
		t.Fatalf("expected sum 3.0, got %v", sum)
	}
}

func TestMetaReflectsBufferState(t *testing.T) {
	m := NewProductionMetrics(10, 1.0, 0.01, 0.15, time.Hour, zerolog.Nop())
	m.Record(model.MetricMessageLatency, 1.0, "c1", false)

	meta := m.Meta()
	if meta.BufferSize != 1 {
		t.Fatalf("expected bufferSize 1, got %d", meta.BufferSize)
	}
	if meta.Capacity != 10 {
		t.Fatalf("expected capacity 10, got %d", meta.Capacity)
	}
}

func TestSessionTrackingLifecycle(t *testing.T) {
	m := NewProductionMetrics(10, 1.0, 0.01, 0.15, time.Hour, zerolog.Nop())
	m.TrackSessionStart("s1")
	m.TrackSessionStart("s2")
	if m.ActiveSessionCount() != 2 {
		t.Fatalf("expected 2 active sessions, got %d", m.ActiveSessionCount())
	}
	m.TrackSessionEnd("s1")
	if m.ActiveSessionCount() != 1 {
		t.Fatalf("expected 1 active session after end, got %d", m.ActiveSessionCount())
	}
	m.TrackSessionEvent("reconnect")
	m.TrackSessionEvent("reconnect")
	counts := m.SessionEventCounts()
	if counts["reconnect"] != 2 {
		t.Fatalf("expected 2 reconnect events, got %d", counts["reconnect"])
	}
}

func TestStartAndStopFlushWorker(t *testing.T) {
	m := NewProductionMetrics(10, 1.0, 0.01, 0.15, 5*time.Millisecond, zerolog.Nop())
	m.StartFlushWorker()
	m.Record(model.MetricMessageLatency, 1.0, "c1", false)
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	count, _ := m.AggregateSnapshot(model.MetricMessageLatency)
	if count == 0 {
		t.Fatalf("expected at least one flush cycle to have aggregated the recorded sample")
	}
}
