package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements sliding window rate limiting in process
// memory. It backs tests and single-instance deployments without
// Redis; counters are not shared across replicas.
type MemoryLimiter struct {
	store       sync.Map
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

var _ Limiter = (*MemoryLimiter)(nil)

type memoryEntry struct {
	mu        sync.Mutex
	requests  []time.Time
	lastCheck time.Time
}

// NewMemoryLimiter creates a memory-backed limiter and starts its
// cleanup goroutine.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{stopCleanup: make(chan struct{})}
	go m.cleanupLoop()
	return m
}

// Allow checks key against limit and records the request only when it
// is admitted. Rejected requests never enter the window.
func (m *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Decision, error) {
	now := time.Now()
	entry := m.entry(key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.lastCheck = now
	entry.requests = pruneExpired(entry.requests, now.Add(-window))

	count := len(entry.requests)
	d := decision(count, limit, window, now, oldestTimestamp(entry.requests))
	if d.Allowed {
		entry.requests = append(entry.requests, now)
	}
	return d, nil
}

// Status reports the current window state without recording a request.
func (m *MemoryLimiter) Status(ctx context.Context, key string, limit int, window time.Duration) (*Decision, error) {
	now := time.Now()
	entry := m.entry(key)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.requests = pruneExpired(entry.requests, now.Add(-window))
	count := len(entry.requests)

	return &Decision{
		Allowed:   count < limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt(window, now, oldestTimestamp(entry.requests)),
	}, nil
}

// Reset clears all recorded requests for key.
func (m *MemoryLimiter) Reset(ctx context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Stop terminates the cleanup goroutine.
func (m *MemoryLimiter) Stop() {
	m.cleanupOnce.Do(func() {
		close(m.stopCleanup)
	})
}

func (m *MemoryLimiter) entry(key string) *memoryEntry {
	value, _ := m.store.LoadOrStore(key, &memoryEntry{})
	return value.(*memoryEntry)
}

func (m *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now().Add(-10 * time.Minute))
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup drops entries not touched since threshold.
func (m *MemoryLimiter) cleanup(threshold time.Time) {
	m.store.Range(func(key, value any) bool {
		entry := value.(*memoryEntry)
		entry.mu.Lock()
		stale := entry.lastCheck.Before(threshold)
		entry.mu.Unlock()
		if stale {
			m.store.Delete(key)
		}
		return true
	})
}

func pruneExpired(requests []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(requests) && !requests[idx].After(cutoff) {
		idx++
	}
	return requests[idx:]
}

func oldestTimestamp(requests []time.Time) time.Time {
	if len(requests) == 0 {
		return time.Time{}
	}
	return requests[0]
}
