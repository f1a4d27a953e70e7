package storage

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

var (
	_ Cache  = (*MemoryStore)(nil)
	_ Locker = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Cache and Locker for single-process runs and
// tests. A zero TTL means no expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := s.now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if expired(e, now) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && expired(cur, now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.entries[key] = entry{value: v, expiresAt: s.expiry(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *MemoryStore) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !expired(e, now) {
		return false, nil
	}
	s.entries[key] = entry{value: []byte(token), expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || expired(e, now) || string(e.value) != token {
		return ErrLockNotHeld
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Held(ctx context.Context, key string) (bool, error) {
	return s.Exists(ctx, key)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func expired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}
