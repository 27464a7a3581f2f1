package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store holds the hit-timestamp history per key. Timestamps are unix
// milliseconds. A networked implementation (Redis) keeps limits
// consistent across server processes; the in-memory implementation is
// a single-process fallback and produces independent per-process
// limits.
type Store interface {
	Hits(ctx context.Context, key string) ([]int64, error)
	SetHits(ctx context.Context, key string, hits []int64, ttl time.Duration) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	hits   map[string][]int64
	stopCh chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hits: make(map[string][]int64),
	}
}

func (s *MemoryStore) Hits(_ context.Context, key string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.hits[key]
	out := make([]int64, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) SetHits(_ context.Context, key string, hits []int64, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]int64, len(hits))
	copy(stored, hits)
	s.hits[key] = stored
	return nil
}

// StartSweep launches a background loop that drops keys whose entire
// history is older than maxAge, bounding memory. Call Stop to end it.
func (s *MemoryStore) StartSweep(interval, maxAge time.Duration) {
	s.stopCh = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(time.Now().Add(-maxAge).UnixMilli())
			}
		}
	}()
}

func (s *MemoryStore) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *MemoryStore) sweep(cutoff int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, hits := range s.hits {
		if len(hits) == 0 || hits[len(hits)-1] < cutoff {
			delete(s.hits, key)
		}
	}
}
