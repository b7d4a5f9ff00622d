// Package breaker implements a three-state circuit breaker (C1) and a
// name-indexed registry (C14) shared by the transport and provider layers.
package breaker

import (
	"errors"
	"sync"
	"time"

	"gatewaycore/internal/model"
)

// ErrCircuitOpen is returned by Call when the breaker rejects the call
// outright. It is distinguishable from any error the wrapped function
// returns so callers can take the "queue for retry" branch only here (§7).
var ErrCircuitOpen = errors.New("breaker: circuit open")

// StateChangeFunc is invoked on every state transition.
type StateChangeFunc func(name string, old, new model.CircuitBreakerState)

// Breaker is a single named circuit breaker instance.
type Breaker struct {
	name string
	cfg  model.CircuitBreakerConfig

	mu              sync.Mutex
	state           model.CircuitBreakerState
	failureCount    int
	successCount    int
	halfOpenInFlight int
	lastFailureTime time.Time

	onStateChange StateChangeFunc
}

// New constructs a breaker in the CLOSED state.
func New(name string, cfg model.CircuitBreakerConfig, onStateChange StateChangeFunc) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	return &Breaker{name: name, cfg: cfg, state: model.StateClosed, onStateChange: onStateChange}
}

// Call executes fn, gated by the breaker's state. Returns ErrCircuitOpen
// without invoking fn if the breaker currently rejects calls.
func (b *Breaker) Call(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		b.OnFailure()
		return err
	}
	b.OnSuccess()
	return nil
}

// admit decides whether a call may proceed, performing the OPEN->HALF_OPEN
// transition inline when the timeout has elapsed (§4.1).
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.StateClosed:
		return true
	case model.StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.Timeout {
			b.transitionLocked(model.StateHalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case model.StateHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMaxCalls {
			b.halfOpenInFlight++
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess records a successful call outside of Call, for callers that
// perform the call themselves (e.g. the transport's ws.send path, §4.5).
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSuccessLocked()
}

// OnFailure records a failed call outside of Call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFailureLocked()
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case model.StateClosed:
		b.failureCount = 0
	case model.StateHalfOpen:
		b.successCount++
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if b.successCount >= b.cfg.SuccessThreshold {
			b.resetLocked()
		}
	}
}

func (b *Breaker) onFailureLocked() {
	b.lastFailureTime = time.Now()
	switch b.state {
	case model.StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(model.StateOpen)
		}
	case model.StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.transitionLocked(model.StateOpen)
	}
}

// resetLocked returns the breaker to CLOSED with all counters zeroed.
func (b *Breaker) resetLocked() {
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
	b.transitionLocked(model.StateClosed)
}

func (b *Breaker) transitionLocked(to model.CircuitBreakerState) {
	old := b.state
	if old == to {
		return
	}
	b.state = to
	if to == model.StateHalfOpen {
		b.successCount = 0
	}
	if b.onStateChange != nil {
		name, cb := b.name, b.onStateChange
		// Invoke outside the critical path is not possible without releasing
		// the lock; callers' onStateChange must be cheap and non-reentrant.
		cb(name, old, to)
	}
}

// Reset forces the breaker back to CLOSED, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// State returns the current state.
func (b *Breaker) State() model.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen is a fast-path read usable without the overhead of Call; the
// authoritative check still happens under the lock inside Call/admit (§3).
func (b *Breaker) IsOpen() bool {
	return b.State() == model.StateOpen
}

// Stats returns a point-in-time snapshot for observability.
func (b *Breaker) Stats() model.CircuitBreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.CircuitBreakerStats{
		Name:            b.name,
		State:           b.state,
		StateName:       b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
	}
}
