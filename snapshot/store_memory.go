package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore keeps snapshots in a map. Expired items are dropped when
// read; when full, the item closest to expiry goes first.
type MemoryStore struct {
	name    string
	clock   clockwork.Clock
	maxSize int

	mu   sync.RWMutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a store holding at most maxSize items (10000 when
// maxSize <= 0). A nil clock means the real clock.
func NewMemoryStore(name string, maxSize int, clock clockwork.Clock) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		name:    name,
		clock:   clock,
		maxSize: maxSize,
		data:    make(map[string]memoryItem),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if s.expired(item) {
		s.mu.Lock()
		if cur, ok := s.data[key]; ok && s.expired(cur) {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return item.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok && len(s.data) >= s.maxSize {
		s.evictOne()
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl)
	}
	s.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = make(map[string]memoryItem)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && s.clock.Now().After(item.expiresAt)
}

// evictOne prefers an expired item, then the one expiring soonest. Items
// without expiry go last.
func (s *MemoryStore) evictOne() {
	var victim string
	var victimAt time.Time
	for key, item := range s.data {
		if s.expired(item) {
			delete(s.data, key)
			return
		}
		switch {
		case victim == "":
			victim, victimAt = key, item.expiresAt
		case item.expiresAt.IsZero():
		case victimAt.IsZero() || item.expiresAt.Before(victimAt):
			victim, victimAt = key, item.expiresAt
		}
	}
	if victim != "" {
		delete(s.data, victim)
	}
}
