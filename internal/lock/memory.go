package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// Memory is an in-process Locker for single instance deployments and tests.
type Memory struct {
	mu   sync.Mutex
	held map[string]memoryEntry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{held: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return "", ErrHeld
	}
	token := uuid.NewString()
	m.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (m *Memory) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.held[key]; ok && e.token == token {
		delete(m.held, key)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
