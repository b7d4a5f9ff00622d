package queue

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gatewaycore/internal/model"
)

// ConsumerFunc processes one persistence item. Errors are logged and never
// kill the consumer (§4.8).
type ConsumerFunc func(item model.ConversationPersistItem) error

// ConversationQueue is a bounded, single-consumer async queue for
// fire-and-forget conversation persistence (C11), grounded on the teacher's
// WorkerPool (bounded channel, drop-on-full Submit, panic-recovering
// worker loop) but narrowed to exactly one consumer goroutine since the
// specification requires strict FIFO processing order, not fan-out.
type ConversationQueue struct {
	items         chan model.ConversationPersistItem
	warnThreshold int
	consumer      ConsumerFunc
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalProcessed int64
	totalErrors    int64
	totalDropped   int64
}

// NewConversationQueue constructs a queue with the given capacity (default
// 1000), warning threshold (default 500), and consumer function.
func NewConversationQueue(capacity, warnThreshold int, consumer ConsumerFunc, logger zerolog.Logger) *ConversationQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	if warnThreshold <= 0 {
		warnThreshold = 500
	}
	return &ConversationQueue{
		items:         make(chan model.ConversationPersistItem, capacity),
		warnThreshold: warnThreshold,
		consumer:      consumer,
		logger:        logger,
	}
}

// Start launches the single consumer goroutine.
func (q *ConversationQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.ctx = ctx
	q.cancel = cancel

	q.wg.Add(1)
	go q.consume()
}

func (q *ConversationQueue) consume() {
	defer q.wg.Done()

	for {
		select {
		case item, ok := <-q.items:
			if !ok {
				return
			}
			q.process(item)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *ConversationQueue) process(item model.ConversationPersistItem) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&q.totalErrors, 1)
			q.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Str("conversation_id", item.ConversationID).
				Msg("conversation queue consumer panic recovered")
		}
	}()

	if err := q.consumer(item); err != nil {
		atomic.AddInt64(&q.totalErrors, 1)
		q.logger.Warn().Err(err).Str("conversation_id", item.ConversationID).Msg("conversation persist failed")
		return
	}
	atomic.AddInt64(&q.totalProcessed, 1)
}

// Put enqueues item without blocking; on a full queue it is dropped and
// totalDropped incremented (§4.8: "put is non-blocking ... drop-newest").
func (q *ConversationQueue) Put(item model.ConversationPersistItem) bool {
	select {
	case q.items <- item:
		if len(q.items) >= q.warnThreshold {
			q.logger.Warn().Int("depth", len(q.items)).Msg("conversation queue approaching capacity")
		}
		return true
	default:
		atomic.AddInt64(&q.totalDropped, 1)
		return false
	}
}

// Size returns the current queue depth.
func (q *ConversationQueue) Size() int {
	return len(q.items)
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	TotalProcessed int64 `json:"totalProcessed"`
	TotalErrors    int64 `json:"totalErrors"`
	TotalDropped   int64 `json:"totalDropped"`
	Depth          int   `json:"depth"`
}

// Metrics returns the current counters.
func (q *ConversationQueue) Metrics() Stats {
	return Stats{
		TotalProcessed: atomic.LoadInt64(&q.totalProcessed),
		TotalErrors:    atomic.LoadInt64(&q.totalErrors),
		TotalDropped:   atomic.LoadInt64(&q.totalDropped),
		Depth:          len(q.items),
	}
}

// Stop cancels the consumer, waits for it to exit, and logs final counters.
func (q *ConversationQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	stats := q.Metrics()
	q.logger.Info().
		Int64("total_processed", stats.TotalProcessed).
		Int64("total_errors", stats.TotalErrors).
		Int64("total_dropped", stats.TotalDropped).
		Msg("conversation queue stopped")
}
