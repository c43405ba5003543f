package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero: never
	timer     *time.Timer
	gen       uint64
}

// MemoryStore is the default in-process Store. Each key with a TTL owns a
// timer that removes it on expiry; Get also checks the deadline so a value is
// never served late even if its timer has not fired yet.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	gen     uint64
	closed  bool
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if old, ok := s.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}

	s.gen++
	e := &memoryEntry{value: value, gen: s.gen}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
		gen := e.gen
		e.timer = time.AfterFunc(ttl, func() { s.expire(key, gen) })
	}
	s.entries[key] = e
	return nil
}

// expire removes key only if it still holds the generation the timer was
// armed for; a Put that raced the timer keeps its value.
func (s *MemoryStore) expire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.gen == gen {
		delete(s.entries, key)
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
	return nil
}

// Len reports the number of live entries, including ones whose timer is due
// but has not fired yet.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops every pending timer and drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for k, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, k)
	}
	s.closed = true
	return nil
}
