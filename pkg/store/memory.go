package store

import (
	"context"
	"sync"
	"time"
)

// MemoryUsageStore implements UsageStore using process-local maps.
// It never returns errors.
type MemoryUsageStore struct {
	mu      sync.Mutex
	usage   map[string]int64
	blocked map[string]time.Time
	nowFn   func() time.Time
}

// NewMemoryUsageStore creates an empty store using the wall clock.
func NewMemoryUsageStore() *MemoryUsageStore {
	return NewMemoryUsageStoreWithClock(nil)
}

// NewMemoryUsageStoreWithClock creates an empty store reading time from nowFn.
func NewMemoryUsageStoreWithClock(nowFn func() time.Time) *MemoryUsageStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryUsageStore{
		usage:   make(map[string]int64),
		blocked: make(map[string]time.Time),
		nowFn:   nowFn,
	}
}

func (s *MemoryUsageStore) IncrementUsage(_ context.Context, name string) error {
	s.mu.Lock()
	s.usage[name]++
	s.mu.Unlock()
	return nil
}

func (s *MemoryUsageStore) GetUsage(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[name], nil
}

func (s *MemoryUsageStore) ResetUsage(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.usage, name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryUsageStore) Block(_ context.Context, name string, ttl time.Duration) error {
	s.mu.Lock()
	s.blocked[name] = s.nowFn().Add(ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryUsageStore) IsBlocked(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocked[name]
	if !ok {
		return false, nil
	}
	if !s.nowFn().Before(until) {
		delete(s.blocked, name)
		return false, nil
	}
	return true, nil
}
