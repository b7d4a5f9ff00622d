package dedup

import (
	"encoding/json"
	"testing"
	"time"

	"gatewaycore/internal/model"
)

func envelope(t *testing.T, jsonStr string) model.Envelope {
	t.Helper()
	var e model.Envelope
	if err := json.Unmarshal([]byte(jsonStr), &e); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return e
}

func TestExplicitIDIsAuthoritative(t *testing.T) {
	d := New(time.Minute)
	msg := model.Envelope{ID: "abc"}
	if got := d.GetMessageID(msg); got != "abc" {
		t.Fatalf("expected explicit id to be used verbatim, got %q", got)
	}
}

func TestContentHashIsConnectionScoped(t *testing.T) {
	d := New(time.Minute)
	msg := envelope(t, `{"type":"t","data":"x"}`)

	d.SetCurrentClientID("client-a")
	idA := d.GetMessageID(msg)

	d.SetCurrentClientID("client-b")
	idB := d.GetMessageID(msg)

	if idA == idB {
		t.Fatalf("expected identical payloads from different clients to hash differently, got %q for both", idA)
	}
}

func TestIsDuplicateFirstThenRepeat(t *testing.T) {
	d := New(time.Minute)
	id := "m1"
	if d.IsDuplicate(id) {
		t.Fatalf("first observation must not be a duplicate")
	}
	if !d.IsDuplicate(id) {
		t.Fatalf("second observation must be a duplicate")
	}
}

func TestIsDuplicateExpiresAfterTTL(t *testing.T) {
	d := New(20 * time.Millisecond)
	id := "m1"
	d.IsDuplicate(id)
	time.Sleep(30 * time.Millisecond)
	if d.IsDuplicate(id) {
		t.Fatalf("expected entry to have expired past TTL")
	}
}

func TestClearResetsState(t *testing.T) {
	d := New(time.Minute)
	d.IsDuplicate("m1")
	d.Clear()
	if d.Size() != 0 {
		t.Fatalf("expected empty set after Clear, got size %d", d.Size())
	}
	if d.IsDuplicate("m1") {
		t.Fatalf("expected m1 to be treated as new after Clear")
	}
}
