package queue

import (
	"testing"
	"time"

	"gatewaycore/internal/model"
)

func msg(id string) model.QueuedMessage {
	return model.QueuedMessage{
		Payload:    model.Envelope{ID: id},
		EnqueuedAt: time.Now(),
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewMessageQueue(10, time.Minute)
	q.Enqueue("c1", msg("a"))
	q.Enqueue("c1", msg("b"))

	got, ok := q.Dequeue("c1")
	if !ok || got.Payload.ID != "a" {
		t.Fatalf("expected first-in message 'a', got %+v ok=%v", got, ok)
	}
	got, ok = q.Dequeue("c1")
	if !ok || got.Payload.ID != "b" {
		t.Fatalf("expected second message 'b', got %+v ok=%v", got, ok)
	}
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	q := NewMessageQueue(2, time.Minute)
	q.Enqueue("c1", msg("a"))
	q.Enqueue("c1", msg("b"))
	q.Enqueue("c1", msg("c"))

	if q.SizeFor("c1") != 2 {
		t.Fatalf("expected capacity-bounded size 2, got %d", q.SizeFor("c1"))
	}
	got, _ := q.Dequeue("c1")
	if got.Payload.ID != "b" {
		t.Fatalf("expected oldest ('a') to have been dropped, front is now %q", got.Payload.ID)
	}
	if q.Overflows() != 1 {
		t.Fatalf("expected 1 overflow recorded, got %d", q.Overflows())
	}
}

func TestDequeueSkipsExpired(t *testing.T) {
	q := NewMessageQueue(10, 10*time.Millisecond)
	q.Enqueue("c1", msg("a"))
	time.Sleep(20 * time.Millisecond)
	q.Enqueue("c1", msg("b"))

	got, ok := q.Dequeue("c1")
	if !ok || got.Payload.ID != "b" {
		t.Fatalf("expected expired entry skipped, landing on 'b', got %+v ok=%v", got, ok)
	}
}

func TestCleanupExpiredRemovesEmptyQueues(t *testing.T) {
	q := NewMessageQueue(10, 10*time.Millisecond)
	q.Enqueue("c1", msg("a"))
	time.Sleep(20 * time.Millisecond)

	removed := q.CleanupExpired()
	if removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	ids := q.ClientIDs()
	if len(ids) != 0 {
		t.Fatalf("expected empty-after-cleanup queue to be dropped from the map, got %v", ids)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewMessageQueue(10, time.Minute)
	q.Enqueue("c1", msg("a"))

	peeked := q.Peek("c1")
	if len(peeked) != 1 || peeked[0].Payload.ID != "a" {
		t.Fatalf("expected peek to show 1 message, got %+v", peeked)
	}
	if q.SizeFor("c1") != 1 {
		t.Fatalf("expected peek to leave the queue intact, size=%d", q.SizeFor("c1"))
	}
}

func TestRemoveClientDropsQueue(t *testing.T) {
	q := NewMessageQueue(10, time.Minute)
	q.Enqueue("c1", msg("a"))
	q.RemoveClient("c1")
	if q.SizeFor("c1") != 0 {
		t.Fatalf("expected removed client to have zero size, got %d", q.SizeFor("c1"))
	}
}
