package budget

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps token counters in process memory. It backs tests
// and single-instance deployments without Redis.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]int64)}
}

// Get returns the current usage for both periods.
func (s *MemoryStore) Get(ctx context.Context, workspaceID string, now time.Time) (*Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Usage{
		Daily:   s.counters[dayKey(workspaceID, now)],
		Monthly: s.counters[monthKey(workspaceID, now)],
	}, nil
}

// Add adds tokens to both period counters.
func (s *MemoryStore) Add(ctx context.Context, workspaceID string, tokens int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[dayKey(workspaceID, now)] += tokens
	s.counters[monthKey(workspaceID, now)] += tokens
	return nil
}

// Reset clears both period counters.
func (s *MemoryStore) Reset(ctx context.Context, workspaceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, dayKey(workspaceID, now))
	delete(s.counters, monthKey(workspaceID, now))
	return nil
}
