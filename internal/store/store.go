// Package store implements the shared, concurrency-safe key/value and
// stream data engine (spec.md §4.2). A single mutex guards all state;
// spec.md §9 calls this out explicitly as an intentional simplicity
// trade-off given the small, short-running command set.
//
// Grounded on original_source/apps/redis-clone/src/db.rs's
// Db{ shared: Arc<Shared{ state: Mutex<State> }> } shape, generalized
// here to also hold the stream map.
package store

import (
	"sync"
	"time"
)

// entry is a single KV record.
type entry struct {
	data      []byte
	expiresAt *time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.expiresAt != nil && !now.Before(*e.expiresAt)
}

// Store is the shared key/value and stream data engine. The zero
// value is not usable; use New.
type Store struct {
	mu      sync.Mutex
	kv      map[string]*entry
	streams map[string]*Stream
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		kv:      make(map[string]*entry),
		streams: make(map[string]*Stream),
	}
}

// Get returns the value for key, honouring expiry. Expired entries
// are treated as absent but are not proactively removed.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.kv[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.data, true
}

// Set stores value under key, overwriting unconditionally. If ttl is
// non-nil, the entry expires ttl after now.
func (s *Store) Set(key string, value []byte, ttl *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	}
	s.kv[key] = &entry{data: value, expiresAt: expiresAt}
}

// SetAbsolute is the snapshot-ingest path: it sets key with an
// absolute expiry instant (rather than a duration from now). Entries
// whose expiry already lies in the past are discarded rather than
// stored, matching the RDB loader's "skip already-expired keys"
// behaviour (spec.md §4.2, §4.3).
func (s *Store) SetAbsolute(key string, value []byte, expiresAt *time.Time) {
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = &entry{data: value, expiresAt: expiresAt}
}

// Del removes the named keys (KV entries only), returning the count
// of keys that were actually present and not expired.
func (s *Store) Del(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range keys {
		if e, ok := s.kv[key]; ok {
			if !e.expired(now) {
				removed++
			}
			delete(s.kv, key)
		}
	}
	return removed
}

// Exists counts how many of the named keys are currently present
// (KV or stream) and not expired.
func (s *Store) Exists(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, key := range keys {
		if e, ok := s.kv[key]; ok && !e.expired(now) {
			count++
			continue
		}
		if _, ok := s.streams[key]; ok {
			count++
		}
	}
	return count
}

// Keys returns every non-expired KV key. Stream keys are not
// included, matching spec.md §4.2's KEYS contract, which only
// enumerates the KV namespace.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.kv))
	for k, e := range s.kv {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ValueType reports "string", "stream" or "none" for key. A KV entry
// takes priority over a stream of the same name, though the two
// namespaces are not expected to collide in practice.
func (s *Store) ValueType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.kv[key]; ok && !e.expired(time.Now()) {
		return "string"
	}
	if _, ok := s.streams[key]; ok {
		return "stream"
	}
	return "none"
}
