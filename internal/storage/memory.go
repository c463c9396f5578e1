package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryStore struct {
	mu     sync.Mutex
	m      map[string]Record
	closed bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{m: map[string]Record{}}
}

func (s *memoryStore) HasNotified(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("has_notified", err)
	}
	if rec.Key == "" {
		return false, unavailable("has_notified", errEmptyKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, unavailable("has_notified", errors.New("closed"))
	}
	if cur, ok := s.m[rec.Key]; ok {
		return cur.IsSent, nil
	}
	rec.IsSent = false
	rec.CreatedAt = time.Now().UTC()
	rec.SentAt = time.Time{}
	s.m[rec.Key] = rec
	return false, nil
}

func (s *memoryStore) MarkSent(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("mark_sent", err)
	}
	if key == "" {
		return unavailable("mark_sent", errEmptyKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("mark_sent", errors.New("closed"))
	}
	cur, ok := s.m[key]
	if ok && cur.IsSent {
		return nil
	}
	now := time.Now().UTC()
	if !ok {
		cur = Record{Key: key, CreatedAt: now}
	}
	cur.IsSent = true
	cur.SentAt = now
	s.m[key] = cur
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[key]
	return r, ok, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
