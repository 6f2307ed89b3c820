package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps call timestamps per key in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string][]time.Time)}
}

// Allow implements Store with a pruned timestamp list per key.
func (s *MemoryStore) Allow(_ context.Context, key string, rule Rule, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-rule.Window)
	kept := s.calls[key][:0]
	for _, t := range s.calls[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rule.MaxCalls {
		s.calls[key] = kept
		return false, nil
	}

	s.calls[key] = append(kept, now)
	return true, nil
}
