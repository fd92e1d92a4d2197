package store

import (
	"context"
	"sync"
	"time"

	"github.com/hublink/hublink/internal/logger"
	"go.uber.org/zap"
)

// nowFunc returns the current time. Overridden in tests to simulate
// TTL expiry without sleeping.
var nowFunc = time.Now

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStore is an in-memory Store implementation. Expired entries are
// dropped lazily on read and by a background sweep goroutine, so an
// abandoned flow never needs explicit cleanup.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory store sweeping expired entries at the
// given interval. A non-positive interval disables the sweeper; lazy
// expiry on read still applies.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]entry),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.sweepLoop()
	}

	return s
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy so callers cannot mutate the stored value afterwards
	stored := make([]byte, len(value))
	copy(stored, value)

	s.entries[key] = entry{
		value:     stored,
		expiresAt: nowFunc().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || e.expired(nowFunc()) {
		return nil, ErrNotFound
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

func (s *MemoryStore) GetDelete(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)

	if e.expired(nowFunc()) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
	return nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}

	if removed > 0 {
		logger.Debug("swept expired store entries", zap.Int("removed", removed))
	}
}
