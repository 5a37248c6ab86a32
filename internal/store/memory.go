package store

import (
	"context"
	"sync"
	"time"

	"contact.broker/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	payload   models.RevealedPayload
	expiresAt time.Time
}

// MemoryStore is a single-process store for development and tests.
type MemoryStore struct {
	entries       map[string]memoryEntry
	mu            sync.Mutex
	now           func() time.Time
	cleanupCancel context.CancelFunc
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	store := &MemoryStore{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		cleanupCancel: cancel,
	}
	for _, opt := range opts {
		opt(store)
	}
	go store.cleanupLoop(ctx, cleanupInterval)
	return store
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key string, payload *models.RevealedPayload, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return ErrKeyExists
	}
	s.entries[key] = memoryEntry{payload: *payload, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) TakeOnce(ctx context.Context, key string) (*models.RevealedPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)

	if !s.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	payload := e.payload
	return &payload, nil
}

// Len reports the number of entries, expired or not, still held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]memoryEntry)
	return nil
}

func (s *MemoryStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
