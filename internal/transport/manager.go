package transport

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/auth"
	"gatewaycore/internal/breaker"
	"gatewaycore/internal/dedup"
	"gatewaycore/internal/metrics"
	"gatewaycore/internal/model"
	"gatewaycore/internal/queue"
)

// breakerName is the shared CircuitBreakerManager key transport registers
// against, so transport and provider calls can share breaker instances by
// name when they happen to name the same resource (§4.1).
const breakerName = "websocket_connections"

// Manager is the ResilientWebSocketManager (C8): the send orchestrator that
// chains dedup -> breaker -> write -> queue -> retry (§4.5).
type Manager struct {
	conns *connectionTable
	dedup *dedup.Deduplicator
	queue *queue.MessageQueue
	brk   *breaker.Breaker
	wrap  *metrics.Wrapper

	logger zerolog.Logger

	messageTTL time.Duration
}

// NewManager constructs a Manager wired to shared dedup/queue/breaker/metrics
// collaborators.
func NewManager(dedupStore *dedup.Deduplicator, msgQueue *queue.MessageQueue, breakers *breaker.Manager, brkCfg model.CircuitBreakerConfig, wrap *metrics.Wrapper, messageTTL time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		conns:      newConnectionTable(),
		dedup:      dedupStore,
		queue:      msgQueue,
		brk:        breakers.GetOrCreate(breakerName, brkCfg),
		wrap:       wrap,
		logger:     logger,
		messageTTL: messageTTL,
	}
}

// RegisterConnection adds clientID's connection to the table, tagging it
// with identity if the handshake carried a verified JWT (identity may be
// nil), and records a connection-opened metric (§4.5).
func (m *Manager) RegisterConnection(clientID string, conn Socket, identity *auth.Claims) {
	now := time.Now()
	m.conns.register(&ConnectionState{
		ClientID:        clientID,
		Conn:            conn,
		Identity:        identity,
		ConnectedAt:     now,
		LastMessageTime: now,
	})
	m.wrap.ConnectionOpened()
}

// UnregisterConnection removes clientID from the table and records a
// connection-closed metric.
func (m *Manager) UnregisterConnection(clientID string) {
	m.conns.unregister(clientID)
	m.wrap.ConnectionClosed()
}

// ConnectionCount returns the number of tracked connections.
func (m *Manager) ConnectionCount() int {
	return m.conns.size()
}

// Send implements the core send(ws, msg, critical) algorithm of §4.5.
func (m *Manager) Send(clientID string, msg model.Envelope, critical bool) bool {
	m.dedup.SetCurrentClientID(clientID)
	id := m.dedup.GetMessageID(msg)

	if m.dedup.IsDuplicate(id) {
		return true
	}

	if m.brk.IsOpen() {
		if critical {
			m.enqueueCritical(clientID, msg)
		}
		return false
	}

	state, ok := m.conns.get(clientID)
	if !ok {
		if critical {
			m.enqueueCritical(clientID, msg)
		}
		return false
	}

	start := time.Now()
	payload, err := json.Marshal(msg)
	if err != nil {
		m.recordFailure(clientID, msg, critical)
		return false
	}

	if !state.Conn.Enqueue(payload) {
		m.recordFailure(clientID, msg, critical)
		return false
	}

	m.conns.touch(clientID, time.Now(), 0)
	m.wrap.MessageSent(clientID, time.Since(start).Seconds())
	m.brk.OnSuccess()
	return true
}

func (m *Manager) recordFailure(clientID string, msg model.Envelope, critical bool) {
	m.wrap.MessageFailed(clientID)
	m.brk.OnFailure()
	if critical {
		m.enqueueCritical(clientID, msg)
	}
	m.conns.markDisconnected(clientID)
}

func (m *Manager) enqueueCritical(clientID string, msg model.Envelope) {
	m.queue.Enqueue(clientID, model.QueuedMessage{Payload: msg, EnqueuedAt: time.Now()})
	m.wrap.MessageQueued(clientID)
}

// BreakerStats returns the shared transport breaker's current stats, for
// stats endpoints.
func (m *Manager) BreakerStats() model.CircuitBreakerStats {
	return m.brk.Stats()
}

// ClientIDs returns the currently registered client ids.
func (m *Manager) ClientIDs() []string {
	return m.conns.clientIDs()
}

// ConnectionFor returns a snapshot of clientID's connection state, if registered.
func (m *Manager) ConnectionFor(clientID string) (ConnectionState, bool) {
	return m.conns.get(clientID)
}

// TouchDisconnected marks clientID's connection disconnected without
// recording a failure, used when the read pump observes a closed socket.
func (m *Manager) TouchDisconnected(clientID string) {
	m.conns.markDisconnected(clientID)
}

// ClearAll removes every tracked connection, returning what was cleared, for
// graceful shutdown (§4.5 step 4).
func (m *Manager) ClearAll() []*ConnectionState {
	return m.conns.clear()
}
