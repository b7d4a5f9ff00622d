// Package dedup implements the connection-scoped message deduplicator (C3).
package dedup

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"gatewaycore/internal/model"
)

// Deduplicator tracks recently-seen message ids per connection, grounded on
// the nonce-tracking shape of the teacher's hub (seenNonces map + a mutex +
// periodic sweep), generalized to content-hash ids and explicit client
// scoping (§4.3).
type Deduplicator struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	currentClientID string
}

// New constructs a Deduplicator with the given TTL (default 300s per §3).
func New(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Deduplicator{ttl: ttl, seen: make(map[string]time.Time)}
}

// SetCurrentClientID scopes subsequent GetMessageID calls to clientID, so
// identical payloads from different connections are never deduplicated
// against each other (§4.3, mandatory connection scoping).
func (d *Deduplicator) SetCurrentClientID(clientID string) {
	d.mu.Lock()
	d.currentClientID = clientID
	d.mu.Unlock()
}

// GetMessageID returns msg.ID verbatim if set, else a client-prefixed
// content hash of the canonical (sorted-key) JSON encoding (§3 Keys, §4.3).
func (d *Deduplicator) GetMessageID(msg model.Envelope) string {
	if msg.ID != "" {
		return msg.ID
	}

	d.mu.Lock()
	clientID := d.currentClientID
	d.mu.Unlock()

	canonical := canonicalJSON(msg)
	return clientID + ":" + hashContent(clientID, canonical)
}

// IsDuplicate sweeps expired entries, then reports membership; on a miss it
// records id and returns false (§4.3).
func (d *Deduplicator) IsDuplicate(id string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked(now)

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = now
	return false
}

// sweepLocked must be called with mu held.
func (d *Deduplicator) sweepLocked(now time.Time) {
	for id, ts := range d.seen {
		if now.Sub(ts) > d.ttl {
			delete(d.seen, id)
		}
	}
}

// CleanupExpired removes all entries older than the TTL and returns the
// count removed, for the transport's periodic cleanup loop (§4.5).
func (d *Deduplicator) CleanupExpired() int {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) > d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Clear empties the dedup set, used during graceful shutdown (§4.5 step 4).
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.mu.Unlock()
}

// Size returns the number of tracked ids, for stats endpoints.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// canonicalJSON renders msg with object keys sorted, so structurally
// identical payloads hash identically regardless of field order.
func canonicalJSON(msg model.Envelope) []byte {
	raw := msg.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(msg)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}

	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, len(raw))
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, generic[k]...)
	}
	buf = append(buf, '}')
	return buf
}

// hashContent hashes clientID+":"+canonical with xxhash64 (§3 Keys: "xxhash
// preferred; SHA-256 fallback" — the fallback addresses runtimes where a
// native xxhash extension may fail to load; the pure-Go xxhash/v2 package
// has no such failure mode, so it is used unconditionally here).
func hashContent(clientID string, canonical []byte) string {
	h := xxhash.New()
	h.Write([]byte(clientID))
	h.Write([]byte(":"))
	h.Write(canonical)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return hex.EncodeToString(buf[:])
}
