package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studysched/pkg/logx"
)

const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end`

// Redis implements Locker with SET NX PX and a compare-and-delete release.
type Redis struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Locker, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("lock.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Info("redis lock connected", logx.String("addr", cfg.Addr), logx.Int("db", cfg.DB))
	return NewRedis(rdb, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client, log logx.Logger) *Redis {
	return &Redis{rdb: rdb, prefix: "studysched:lock:", log: log}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrHeld
	}
	return token, nil
}

func (r *Redis) Release(ctx context.Context, key, token string) error {
	n, err := r.rdb.Eval(ctx, releaseScript, []string{r.prefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	if n == 0 {
		r.log.Debug("lock already expired or taken over", logx.String("key", key))
	}
	return nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
