// Package queue implements the per-client pending-message queue (C2) and
// the bounded conversation-persistence queue (C11).
package queue

import (
	"container/list"
	"sync"
	"time"

	"gatewaycore/internal/model"
)

// MessageQueue is a keyed collection of bounded per-client FIFOs, serialized
// by a single mutex (§4.2: "per-client locking would complicate overflow
// accounting and retry scanning; expected contention is low").
type MessageQueue struct {
	capacity int
	ttl      time.Duration

	mu     sync.Mutex
	queues map[string]*list.List

	overflows int64
}

// NewMessageQueue constructs a MessageQueue with the given per-client
// capacity (default 1000) and message TTL (default 300s).
func NewMessageQueue(capacity int, ttl time.Duration) *MessageQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &MessageQueue{capacity: capacity, ttl: ttl, queues: make(map[string]*list.List)}
}

// Enqueue appends msg to clientId's queue, dropping the oldest entry if the
// queue is already at capacity (§4.2: "drop the oldest entry (head) ...
// preserves liveness for the most recent criticals").
func (q *MessageQueue) Enqueue(clientID string, msg model.QueuedMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[clientID]
	if !ok {
		l = list.New()
		q.queues[clientID] = l
	}

	if l.Len() >= q.capacity {
		l.Remove(l.Front())
		q.overflows++
	}
	l.PushBack(msg)
	return true
}

// Dequeue pops the oldest non-expired message for clientId, discarding any
// expired entries encountered along the way (§4.2).
func (q *MessageQueue) Dequeue(clientID string) (model.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[clientID]
	if !ok {
		return model.QueuedMessage{}, false
	}

	now := time.Now()
	for l.Len() > 0 {
		front := l.Front()
		msg := front.Value.(model.QueuedMessage)
		l.Remove(front)
		if msg.Expired(now, q.ttl) {
			continue
		}
		return msg, true
	}
	return model.QueuedMessage{}, false
}

// CleanupExpired walks every client queue, discarding expired entries, and
// removes any queue left empty (§4.2). Returns the number removed.
func (q *MessageQueue) CleanupExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	removed := 0

	for clientID, l := range q.queues {
		var next *list.Element
		for e := l.Front(); e != nil; e = next {
			next = e.Next()
			msg := e.Value.(model.QueuedMessage)
			if msg.Expired(now, q.ttl) {
				l.Remove(e)
				removed++
			}
		}
		if l.Len() == 0 {
			delete(q.queues, clientID)
		}
	}
	return removed
}

// SizeFor returns the current depth of clientId's queue.
func (q *MessageQueue) SizeFor(clientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.queues[clientID]
	if !ok {
		return 0
	}
	return l.Len()
}

// Overflows returns the cumulative drop-oldest count, for metrics.
func (q *MessageQueue) Overflows() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflows
}

// RemoveClient discards a client's queue entirely. The transport retry loop
// calls it for a queued client that is no longer registered; unregistering a
// connection leaves its queue in place.
func (q *MessageQueue) RemoveClient(clientID string) {
	q.mu.Lock()
	delete(q.queues, clientID)
	q.mu.Unlock()
}

// Peek returns a snapshot copy of all pending messages for clientId without
// removing them. Expired entries are included.
func (q *MessageQueue) Peek(clientID string) []model.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.queues[clientID]
	if !ok {
		return nil
	}
	out := make([]model.QueuedMessage, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(model.QueuedMessage))
	}
	return out
}

// ClientIDs returns the set of clients with a non-empty queue.
func (q *MessageQueue) ClientIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.queues))
	for id := range q.queues {
		ids = append(ids, id)
	}
	return ids
}
