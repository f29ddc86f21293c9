package repository

import (
	"context"
	"sync"
	"time"

	"liguns/internal/models"

	"github.com/google/uuid"
)

// MemoryRunLocker is a process-local RunLocker.
type MemoryRunLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	token     string
	expiresAt time.Time
}

func NewMemoryRunLocker() *MemoryRunLocker {
	return &MemoryRunLocker{locks: make(map[string]memoryLock), now: time.Now}
}

func (l *MemoryRunLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.locks[key]; ok && now.Before(cur.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryRunLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.locks[key]; ok && cur.token == token {
		delete(l.locks, key)
	}
	return nil
}

// MemoryDeadLetters is a capped in-process dead-letter list.
type MemoryDeadLetters struct {
	mu    sync.Mutex
	items []*models.DeadLetter
	cap   int
}

func NewMemoryDeadLetters(capacity int) *MemoryDeadLetters {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCap
	}
	return &MemoryDeadLetters{cap: capacity}
}

func (m *MemoryDeadLetters) PushDeadLetter(_ context.Context, dl *models.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append([]*models.DeadLetter{dl}, m.items...)
	if len(m.items) > m.cap {
		m.items = m.items[:m.cap]
	}
	return nil
}

func (m *MemoryDeadLetters) DeadLetters(_ context.Context, limit int) ([]*models.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.items) {
		limit = len(m.items)
	}
	out := make([]*models.DeadLetter, limit)
	copy(out, m.items[:limit])
	return out, nil
}
