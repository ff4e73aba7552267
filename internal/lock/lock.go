// Package lock provides per-key mutual exclusion across daemon instances.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"studysched/pkg/logx"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock held")

const DefaultTTL = 30 * time.Second

// Locker acquires expiring locks. A holder that dies loses its lock after ttl.
type Locker interface {
	// Acquire takes key for ttl and returns the token that releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Release frees key if token still owns it.
	Release(ctx context.Context, key, token string) error
	Close() error
}

// Config selects the implementation. Driver is "memory" (default) or "redis".
type Config struct {
	Driver   string
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func Open(cfg Config, log logx.Logger) (Locker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown lock driver: " + cfg.Driver)
	}
}

// ParticipantKey is the lock guarding one participant's task regeneration.
func ParticipantKey(participantID string) string {
	return "participant:" + participantID
}

// With runs fn while holding key.
func With(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// Release must run even when ctx was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = l.Release(rctx, key, token)
		cancel()
	}()
	return fn(ctx)
}
