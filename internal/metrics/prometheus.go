package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// messageLatencySeconds is recorded directly by Wrapper.MessageSent, bypassing
// ProductionMetrics' sampled ring buffer entirely (§9: "latency is recorded
// unsampled, directly into Prometheus histograms"). It is package-level
// rather than a PrometheusBridge field since Wrapper, not the bridge, is the
// one on the hot send path and constructing it once at package init avoids
// a duplicate-registration panic if more than one Wrapper/PrometheusBridge
// pair is built in the same process (as the test suite does).
var messageLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "gateway_message_latency_seconds",
	Help:    "Unsampled per-message WebSocket send latency.",
	Buckets: prometheus.DefBuckets,
})

// PrometheusBridge exports ProductionMetrics' meta-metrics and the legacy
// Wrapper counters as Prometheus collectors, grounded on the teacher's
// internal/metrics/metrics.go promauto pattern -- one gauge/counter per
// observable, refreshed on demand rather than on every Record call, since
// the ring buffer and its flush worker are the source of truth and
// Prometheus here only mirrors their already-aggregated state.
type PrometheusBridge struct {
	prod *ProductionMetrics
	wrap *Wrapper

	bufferSize        prometheus.Gauge
	bufferCapacity    prometheus.Gauge
	fillRatio         prometheus.Gauge
	metricsAdded      prometheus.Counter
	metricsDropped    prometheus.Counter
	flushCount        prometheus.Counter
	avgFlushDuration  prometheus.Gauge
	currentSampleRate prometheus.Gauge
	activeSessions    prometheus.Gauge

	connections    prometheus.Gauge
	messagesSent   prometheus.Counter
	messagesQueued prometheus.Counter
	messagesFailed prometheus.Counter
	retryAttempts  prometheus.Counter
	retrySuccesses prometheus.Counter
	retryFailures  prometheus.Counter
	breakerOpens   prometheus.Counter
	breakerCloses  prometheus.Counter

	lastAdded   int64
	lastDropped int64
	lastFlushes int64
	lastSent    int64
	lastQueued  int64
	lastFailed  int64
	lastRAtt    int64
	lastRSucc   int64
	lastRFail   int64
	lastBOpen   int64
	lastBClose  int64
}

// NewPrometheusBridge registers gateway metric collectors against the
// default Prometheus registry, bound to prod and wrap.
func NewPrometheusBridge(prod *ProductionMetrics, wrap *Wrapper) *PrometheusBridge {
	return &PrometheusBridge{
		prod: prod,
		wrap: wrap,

		bufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_metrics_buffer_size", Help: "Current sampled-metric ring buffer occupancy.",
		}),
		bufferCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_metrics_buffer_capacity", Help: "Sampled-metric ring buffer capacity.",
		}),
		fillRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_metrics_fill_ratio", Help: "Ring buffer fill ratio used to drive adaptive sampling.",
		}),
		metricsAdded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_metrics_added_total", Help: "Total sampled metrics appended to the ring buffer.",
		}),
		metricsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_metrics_dropped_total", Help: "Total sampled metrics overwritten before being flushed.",
		}),
		flushCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_metrics_flush_total", Help: "Total ring-buffer flush cycles completed.",
		}),
		avgFlushDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_metrics_avg_flush_duration_ms", Help: "Average flush cycle duration in milliseconds.",
		}),
		currentSampleRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_metrics_sample_rate", Help: "Current adaptive sampling rate.",
		}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_sessions", Help: "Number of active continuation/provider sessions.",
		}),
		connections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active", Help: "Number of currently active WebSocket connections.",
		}),
		messagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_sent_total", Help: "Total messages sent to clients.",
		}),
		messagesQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_queued_total", Help: "Total messages queued for retry delivery.",
		}),
		messagesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_failed_total", Help: "Total messages that failed delivery.",
		}),
		retryAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retry_attempts_total", Help: "Total retry attempts made by the background task manager.",
		}),
		retrySuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retry_successes_total", Help: "Total retries that succeeded.",
		}),
		retryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retry_failures_total", Help: "Total retries that failed.",
		}),
		breakerOpens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_opens_total", Help: "Total circuit breaker open transitions.",
		}),
		breakerCloses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_closes_total", Help: "Total circuit breaker close transitions.",
		}),
	}
}

// Refresh pulls the latest snapshots from ProductionMetrics and Wrapper and
// updates the registered collectors. Counters advance by delta since the
// last refresh, since Prometheus counters are monotonic but the underlying
// snapshots are absolute values.
func (b *PrometheusBridge) Refresh() {
	meta := b.prod.Meta()
	b.bufferSize.Set(float64(meta.BufferSize))
	b.bufferCapacity.Set(float64(meta.Capacity))
	b.fillRatio.Set(meta.FillRatio)
	b.avgFlushDuration.Set(meta.AvgFlushDurationMs)
	b.currentSampleRate.Set(meta.CurrentSampleRate)
	b.activeSessions.Set(float64(meta.ActiveSessions))

	b.metricsAdded.Add(float64(meta.MetricsAdded - b.lastAdded))
	b.lastAdded = meta.MetricsAdded
	b.metricsDropped.Add(float64(meta.MetricsDropped - b.lastDropped))
	b.lastDropped = meta.MetricsDropped
	b.flushCount.Add(float64(meta.FlushCount - b.lastFlushes))
	b.lastFlushes = meta.FlushCount

	legacy := b.wrap.Snapshot()
	b.connections.Set(float64(legacy.Connections))
	b.messagesSent.Add(float64(legacy.MessagesSent - b.lastSent))
	b.lastSent = legacy.MessagesSent
	b.messagesQueued.Add(float64(legacy.MessagesQueued - b.lastQueued))
	b.lastQueued = legacy.MessagesQueued
	b.messagesFailed.Add(float64(legacy.MessagesFailed - b.lastFailed))
	b.lastFailed = legacy.MessagesFailed
	b.retryAttempts.Add(float64(legacy.RetryAttempts - b.lastRAtt))
	b.lastRAtt = legacy.RetryAttempts
	b.retrySuccesses.Add(float64(legacy.RetrySuccesses - b.lastRSucc))
	b.lastRSucc = legacy.RetrySuccesses
	b.retryFailures.Add(float64(legacy.RetryFailures - b.lastRFail))
	b.lastRFail = legacy.RetryFailures
	b.breakerOpens.Add(float64(legacy.BreakerOpens - b.lastBOpen))
	b.lastBOpen = legacy.BreakerOpens
	b.breakerCloses.Add(float64(legacy.BreakerCloses - b.lastBClose))
	b.lastBClose = legacy.BreakerCloses
}
