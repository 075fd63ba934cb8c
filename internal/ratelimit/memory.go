package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 64

type memoryShard struct {
	mu      sync.Mutex
	records map[string]Record
}

// MemoryStore keeps records in process memory. Keys are spread over a fixed
// set of shards so that unrelated keys rarely contend on the same mutex.
// Limits are enforced per process; run a shared store when the gateway is
// scaled horizontally.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i].records = make(map[string]Record)
	}
	return m
}

func (m *MemoryStore) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)%memoryShards]
}

func (m *MemoryStore) Take(_ context.Context, key string, now time.Time, limit int, window time.Duration) (Record, bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !now.Before(rec.ResetAt) {
		rec = Record{Count: 1, ResetAt: now.Add(window)}
		s.records[key] = rec
		return rec, true, nil
	}

	if rec.Count >= limit {
		return rec, false, nil
	}

	rec.Count++
	s.records[key] = rec
	return rec, true, nil
}

// Get returns the stored record for key without touching it.
func (m *MemoryStore) Get(key string) (Record, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Len returns the number of records held, expired or not.
func (m *MemoryStore) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}

func (m *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, rec := range s.records {
			if !now.Before(rec.ResetAt) {
				delete(s.records, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
