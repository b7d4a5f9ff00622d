// Package provider implements the provider-call surface of the resilience
// core: cache-token reuse (C13), truncation detection (C12), continuation
// (C9), and the session executor (C10), grounded on
// original_source/src/providers/kimi_cache.py,
// original_source/src/utils/truncation_detector.py, and
// original_source/src/utils/continuation_manager.py (§4.6/§4.7).
package provider

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheTokenTTL      = 1800 * time.Second
	defaultCacheTokenCapacity = 256
)

type cacheEntry struct {
	token   string
	savedAt time.Time
}

// CacheTokenStore is the LRU+TTL cache-token keyed store (C13), grounded on
// kimi_cache.py's module-level dict + order list but replaced with an
// actual LRU (golang-lru) instead of hand-rolled order tracking, since that
// is exactly the library's job.
type CacheTokenStore struct {
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

// NewCacheTokenStore builds a store with the given capacity and TTL,
// falling back to the spec defaults (§6: "TTL default 1800 s, capacity 256")
// for non-positive arguments.
func NewCacheTokenStore(capacity int, ttl time.Duration) *CacheTokenStore {
	if capacity <= 0 {
		capacity = defaultCacheTokenCapacity
	}
	if ttl <= 0 {
		ttl = defaultCacheTokenTTL
	}
	c, _ := lru.New[string, cacheEntry](capacity)
	return &CacheTokenStore{cache: c, ttl: ttl}
}

// Key reproduces kimi_cache.py's lru_key: "{session}:{tool}:{prefixHash}".
func Key(sessionID, toolName, prefixHash string) string {
	return fmt.Sprintf("%s:%s:%s", sessionID, toolName, prefixHash)
}

// Save stores token under (sessionID, toolName, prefixHash), stamped with
// the current time for TTL expiry on retrieval.
func (s *CacheTokenStore) Save(sessionID, toolName, prefixHash, token string) {
	s.cache.Add(Key(sessionID, toolName, prefixHash), cacheEntry{token: token, savedAt: time.Now()})
}

// Get returns the cached token if present and not past ttl, evicting it on
// expiry (kimi_cache.py's get_cache_token: "pop and return None" on expiry).
func (s *CacheTokenStore) Get(sessionID, toolName, prefixHash string) (string, bool) {
	k := Key(sessionID, toolName, prefixHash)
	entry, ok := s.cache.Peek(k)
	if !ok {
		return "", false
	}
	if time.Since(entry.savedAt) > s.ttl {
		s.cache.Remove(k)
		return "", false
	}
	// Peek above avoided promoting recency; a hit does, matching normal LRU
	// semantics (an unused entry should age out before a reused one).
	s.cache.Get(k)
	return entry.token, true
}

// Len reports the number of tracked entries, for stats endpoints.
func (s *CacheTokenStore) Len() int {
	return s.cache.Len()
}
