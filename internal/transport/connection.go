// Package transport implements the resilient send path (C8), the retry and
// cleanup background loops (C7), and the clientId -> ConnectionState map,
// grounded on the teacher's pkg/websocket client/hub split but
// restructured around an explicit manager object per §4.5 instead of a
// broadcast hub, since the gateway's per-client messages are not fanned out.
package transport

import (
	"sync"
	"time"

	"gatewaycore/internal/auth"
)

// Socket is the minimal surface Manager needs from a connection, satisfied
// by *wsconn.Conn in production and by a fake in tests so the resilience
// logic can be exercised without a real TCP/WebSocket handshake.
type Socket interface {
	Enqueue(payload []byte) bool
	Close() error
}

// ConnectionState tracks one client's live socket and bookkeeping (§3).
// ConnectionState exclusively owns its websocket handle; it is never shared.
// Identity carries the JWT claims verified at handshake time, if any --
// auth is additive, so a connection with no Identity is simply unauthenticated
// rather than rejected (§6 does not require auth on the WebSocket peer).
type ConnectionState struct {
	ClientID        string
	Conn            Socket
	Identity        *auth.Claims
	ConnectedAt     time.Time
	LastMessageTime time.Time
	RetryCount      int
	Disconnected    bool
}

// IsTimeout reports whether the connection has been idle past timeout.
func (c *ConnectionState) IsTimeout(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.LastMessageTime) > timeout
}

// connectionTable is the manager's clientId -> ConnectionState map, guarded
// by a single mutex (§5: "owned by the manager; guarded by a single mutex").
type connectionTable struct {
	mu    sync.Mutex
	byID  map[string]*ConnectionState
}

func newConnectionTable() *connectionTable {
	return &connectionTable{byID: make(map[string]*ConnectionState)}
}

func (t *connectionTable) register(state *ConnectionState) {
	t.mu.Lock()
	t.byID[state.ClientID] = state
	t.mu.Unlock()
}

func (t *connectionTable) unregister(clientID string) {
	t.mu.Lock()
	delete(t.byID, clientID)
	t.mu.Unlock()
}

// get copies out the handle under the lock then releases it, so the caller
// can await a send without holding the table lock (§5: "the retry loop
// acquires the manager lock long enough to copy the handle, then releases
// it before awaiting the send").
func (t *connectionTable) get(clientID string) (ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[clientID]
	if !ok {
		return ConnectionState{}, false
	}
	return *s, true
}

func (t *connectionTable) markDisconnected(clientID string) {
	t.mu.Lock()
	if s, ok := t.byID[clientID]; ok {
		s.Disconnected = true
	}
	t.mu.Unlock()
}

func (t *connectionTable) touch(clientID string, at time.Time, retryCount int) {
	t.mu.Lock()
	if s, ok := t.byID[clientID]; ok {
		s.LastMessageTime = at
		s.RetryCount = retryCount
		s.Disconnected = false
	}
	t.mu.Unlock()
}

func (t *connectionTable) clientIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	return ids
}

func (t *connectionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

func (t *connectionTable) clear() []*ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ConnectionState, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s)
	}
	t.byID = make(map[string]*ConnectionState)
	return out
}
