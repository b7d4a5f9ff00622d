package breaker

import (
	"sync"

	"gatewaycore/internal/model"
)

// Manager is the name-indexed registry (C14) so the transport and provider
// layers can share breakers by name ("websocket_connections", "kimi", "glm").
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	onChange StateChangeFunc
}

// NewManager constructs an empty registry. onChange, if non-nil, is attached
// to every breaker the registry creates.
func NewManager(onChange StateChangeFunc) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), onChange: onChange}
}

// GetOrCreate returns the named breaker, creating it with cfg on first use.
func (m *Manager) GetOrCreate(name string, cfg model.CircuitBreakerConfig) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, m.onChange)
	m.breakers[name] = b
	return b
}

// Snapshot returns stats for every registered breaker.
func (m *Manager) Snapshot() map[string]model.CircuitBreakerStats {
	m.mu.Lock()
	names := make([]string, 0, len(m.breakers))
	breakers := make([]*Breaker, 0, len(m.breakers))
	for name, b := range m.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	out := make(map[string]model.CircuitBreakerStats, len(names))
	for i, name := range names {
		out[name] = breakers[i].Stats()
	}
	return out
}
