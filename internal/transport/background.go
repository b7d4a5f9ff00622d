package transport

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewaycore/internal/dedup"
	"gatewaycore/internal/metrics"
	"gatewaycore/internal/queue"
)

// BackgroundConfig bundles the tunables the retry/cleanup loops need (§4.5).
type BackgroundConfig struct {
	RetryCheckInterval time.Duration
	CleanupInterval    time.Duration
	MaxRetryAttempts   int
	BaseRetryDelay     time.Duration
	MaxRetryDelay      time.Duration
	ConnectionTimeout  time.Duration
}

// BackgroundTaskManager owns the retry loop and the cleanup loop for a
// Manager (C7), grounded on the teacher's worker-pool lifecycle shape
// (context-cancelable loops joined via WaitGroup on stop).
type BackgroundTaskManager struct {
	mgr   *Manager
	q     *queue.MessageQueue
	dedup *dedup.Deduplicator
	wrap  *metrics.Wrapper
	cfg   BackgroundConfig
	logger zerolog.Logger

	onTimeout func(clientID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBackgroundTaskManager constructs a BackgroundTaskManager over mgr's
// collaborators.
func NewBackgroundTaskManager(mgr *Manager, q *queue.MessageQueue, dedupStore *dedup.Deduplicator, wrap *metrics.Wrapper, cfg BackgroundConfig, onTimeout func(clientID string), logger zerolog.Logger) *BackgroundTaskManager {
	if cfg.RetryCheckInterval <= 0 {
		cfg.RetryCheckInterval = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 60 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 120 * time.Second
	}
	return &BackgroundTaskManager{
		mgr: mgr, q: q, dedup: dedupStore, wrap: wrap, cfg: cfg, onTimeout: onTimeout, logger: logger,
	}
}

// Start launches the retry and cleanup loops.
func (b *BackgroundTaskManager) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(2)
	go b.retryLoop()
	go b.cleanupLoop()
}

// Stop cancels both loops and waits for them to exit.
func (b *BackgroundTaskManager) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *BackgroundTaskManager) retryLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.RetryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainAll()
		case <-b.ctx.Done():
			return
		}
	}
}

// drainAll attempts one drain pass across every live client queue (§4.5 retry loop).
func (b *BackgroundTaskManager) drainAll() {
	for _, clientID := range b.q.ClientIDs() {
		b.drainClient(clientID)
	}
}

func (b *BackgroundTaskManager) drainClient(clientID string) {
	for {
		state, registered := b.mgr.ConnectionFor(clientID)
		if !registered {
			b.q.RemoveClient(clientID)
			return
		}
		if state.Disconnected {
			return
		}

		msg, ok := b.q.Dequeue(clientID)
		if !ok {
			return
		}

		payload, err := json.Marshal(msg.Payload)
		if err != nil {
			continue
		}

		if state.Conn.Enqueue(payload) {
			b.wrap.RetrySucceeded(clientID)
			continue
		}

		b.wrap.RetryAttempted(clientID)
		msg.RetryCount++
		if msg.RetryCount < b.cfg.MaxRetryAttempts {
			delay := b.backoffDelay(msg.RetryCount)
			time.AfterFunc(delay, func() {
				b.q.Enqueue(clientID, msg)
			})
		} else {
			b.wrap.RetryFailed(clientID)
			b.logger.Warn().Str("client_id", clientID).Int("retry_count", msg.RetryCount).Msg("dropping message after exhausting retry attempts")
		}
		return
	}
}

// backoffDelay computes exponential backoff with jitter (§4.5: "delay =
// min(BASE_RETRY_DELAY x 2^retryCount, MAX_RETRY_DELAY) plus uniform jitter
// in [0, 0.1 x delay]").
func (b *BackgroundTaskManager) backoffDelay(retryCount int) time.Duration {
	delay := b.cfg.BaseRetryDelay * time.Duration(1<<uint(retryCount))
	if delay > b.cfg.MaxRetryDelay {
		delay = b.cfg.MaxRetryDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

func (b *BackgroundTaskManager) cleanupLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.cleanupOnce()
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *BackgroundTaskManager) cleanupOnce() {
	b.q.CleanupExpired()
	b.dedup.CleanupExpired()

	now := time.Now()
	for _, clientID := range b.mgr.ClientIDs() {
		state, ok := b.mgr.ConnectionFor(clientID)
		if !ok {
			continue
		}
		if state.IsTimeout(now, b.cfg.ConnectionTimeout) {
			b.mgr.TouchDisconnected(clientID)
			if b.onTimeout != nil {
				b.onTimeout(clientID)
			}
		}
	}
}

// ShutdownStats is the outcome of a graceful shutdown (§4.5).
type ShutdownStats struct {
	PendingMessagesFlushed int
	PendingMessagesDropped int
	ConnectionsClosed      int
	BackgroundTasksStopped int
	MetricsCleaned         bool
	DurationSeconds        float64
}

// Shutdown implements the graceful-shutdown sequence of §4.5: optionally
// flush pending queues within a deadline, optionally close live
// connections, then stop the background loops and clear shared state.
func (b *BackgroundTaskManager) Shutdown(timeout time.Duration, flushPending, closeConnections bool) ShutdownStats {
	start := time.Now()
	stats := ShutdownStats{}

	if flushPending {
		flushBudget := timeout * 7 / 10
		if flushBudget > 20*time.Second {
			flushBudget = 20 * time.Second
		}
		deadline := time.Now().Add(flushBudget)

		for _, clientID := range b.q.ClientIDs() {
			for time.Now().Before(deadline) {
				msg, ok := b.q.Dequeue(clientID)
				if !ok {
					break
				}
				state, registered := b.mgr.ConnectionFor(clientID)
				if !registered || state.Disconnected {
					stats.PendingMessagesDropped++
					continue
				}
				payload, err := json.Marshal(msg.Payload)
				if err != nil {
					stats.PendingMessagesDropped++
					continue
				}
				if state.Conn.Enqueue(payload) {
					stats.PendingMessagesFlushed++
				} else {
					stats.PendingMessagesDropped++
				}
			}
		}
		// anything left in any queue past the deadline counts as dropped.
		for _, clientID := range b.q.ClientIDs() {
			stats.PendingMessagesDropped += b.q.SizeFor(clientID)
		}
	}

	cleared := b.mgr.ClearAll()
	if closeConnections {
		for _, state := range cleared {
			state.Conn.Close()
			stats.ConnectionsClosed++
		}
	}

	b.Stop()
	stats.BackgroundTasksStopped = 2

	b.dedup.Clear()
	stats.MetricsCleaned = true

	stats.DurationSeconds = time.Since(start).Seconds()
	return stats
}
