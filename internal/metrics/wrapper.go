package metrics

import (
	"sync/atomic"

	"gatewaycore/internal/model"
)

// Wrapper exposes the legacy high-level counters the rest of the codebase
// expects (connections, messages sent/queued/failed, retry attempts,
// circuit-breaker transitions), grounded on the teacher's Metrics struct
// (internal/metrics/metrics.go) but backed by ProductionMetrics instead of
// promauto collectors directly, so most legacy calls also feed the sampled
// ring buffer (ConnectionClosed, MessageSent and RetrySucceeded do not
// record into it). Critical events -- failures and breaker state changes -- are
// always recorded with isCritical=true (§4.4: "It MUST record critical
// events ... with isCritical=true").
type Wrapper struct {
	prod *ProductionMetrics

	connections       int64
	messagesSent      int64
	messagesQueued    int64
	messagesFailed    int64
	retryAttempts     int64
	retrySuccesses    int64
	retryFailures     int64
	breakerOpens      int64
	breakerCloses     int64
}

// NewWrapper constructs a Wrapper bound to prod.
func NewWrapper(prod *ProductionMetrics) *Wrapper {
	return &Wrapper{prod: prod}
}

func (w *Wrapper) ConnectionOpened() {
	atomic.AddInt64(&w.connections, 1)
	w.prod.Record(model.MetricConnectionDuration, 0, "", false)
}

func (w *Wrapper) ConnectionClosed() {
	atomic.AddInt64(&w.connections, -1)
}

// MessageSent records a successful send. Latency bypasses ProductionMetrics'
// sampled ring buffer entirely and is observed directly into an unsampled
// Prometheus histogram (§9 Decision: message latency accuracy matters more
// than the cost of an unsampled counter on this one hot path).
func (w *Wrapper) MessageSent(clientID string, latencySeconds float64) {
	atomic.AddInt64(&w.messagesSent, 1)
	messageLatencySeconds.Observe(latencySeconds)
}

func (w *Wrapper) MessageQueued(clientID string) {
	atomic.AddInt64(&w.messagesQueued, 1)
	w.prod.Record(model.MetricQueueDepth, 1, clientID, false)
}

func (w *Wrapper) MessageFailed(clientID string) {
	atomic.AddInt64(&w.messagesFailed, 1)
	w.prod.Record(model.MetricMessageLatency, 0, clientID, true)
}

func (w *Wrapper) RetryAttempted(clientID string) {
	atomic.AddInt64(&w.retryAttempts, 1)
	w.prod.Record(model.MetricQueueDepth, 1, clientID, true)
}

func (w *Wrapper) RetrySucceeded(clientID string) {
	atomic.AddInt64(&w.retrySuccesses, 1)
}

func (w *Wrapper) RetryFailed(clientID string) {
	atomic.AddInt64(&w.retryFailures, 1)
	w.prod.Record(model.MetricQueueDepth, 1, clientID, true)
}

func (w *Wrapper) BreakerOpened(name string) {
	atomic.AddInt64(&w.breakerOpens, 1)
	w.prod.Record(model.MetricProviderLatency, 0, name, true)
}

func (w *Wrapper) BreakerClosed(name string) {
	atomic.AddInt64(&w.breakerCloses, 1)
	w.prod.Record(model.MetricProviderLatency, 0, name, true)
}

// RecordPersistenceLatency feeds the ConversationQueue's NATS-publish
// latency into the sampled pipeline (not a critical event: persistence
// failures are surfaced via MessageFailed instead).
func (w *Wrapper) RecordPersistenceLatency(latencySeconds float64) {
	w.prod.Record(model.MetricPersistenceLatency, latencySeconds, "", false)
}

// LegacyCounters is a point-in-time snapshot of every legacy counter.
type LegacyCounters struct {
	Connections    int64 `json:"connections"`
	MessagesSent   int64 `json:"messagesSent"`
	MessagesQueued int64 `json:"messagesQueued"`
	MessagesFailed int64 `json:"messagesFailed"`
	RetryAttempts  int64 `json:"retryAttempts"`
	RetrySuccesses int64 `json:"retrySuccesses"`
	RetryFailures  int64 `json:"retryFailures"`
	BreakerOpens   int64 `json:"circuitBreakerOpens"`
	BreakerCloses  int64 `json:"circuitBreakerCloses"`
}

// Snapshot returns the current legacy counters.
func (w *Wrapper) Snapshot() LegacyCounters {
	return LegacyCounters{
		Connections:    atomic.LoadInt64(&w.connections),
		MessagesSent:   atomic.LoadInt64(&w.messagesSent),
		MessagesQueued: atomic.LoadInt64(&w.messagesQueued),
		MessagesFailed: atomic.LoadInt64(&w.messagesFailed),
		RetryAttempts:  atomic.LoadInt64(&w.retryAttempts),
		RetrySuccesses: atomic.LoadInt64(&w.retrySuccesses),
		RetryFailures:  atomic.LoadInt64(&w.retryFailures),
		BreakerOpens:   atomic.LoadInt64(&w.breakerOpens),
		BreakerCloses:  atomic.LoadInt64(&w.breakerCloses),
	}
}
