package app

import (
	"fmt"
	"strings"
	"time"

	"studysched/internal/config"
	"studysched/internal/lock"
	"studysched/internal/services/trigger"
	"studysched/internal/storage"
	"studysched/internal/task/engine"
	"studysched/pkg/logx"
)

const (
	defaultBusyTimeout = 1 * time.Second
	defaultJobTimeout  = 30 * time.Second
	defaultRetryMax    = 3
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver=none: the daemon needs a store")
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLockConfig(cfg *config.Config) (lock.Config, error) {
	ttl, err := config.ParseDurationOrDefault("lock.ttl", cfg.Lock.TTL, lock.DefaultTTL)
	if err != nil {
		return lock.Config{}, err
	}
	return lock.Config{
		Driver:   strings.TrimSpace(cfg.Lock.Driver),
		Addr:     strings.TrimSpace(cfg.Lock.Addr),
		Password: cfg.Lock.Password,
		DB:       cfg.Lock.DB,
		TTL:      ttl,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationOrDefault("engine.timeout", cfg.Engine.Timeout, defaultJobTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: timeout,
		RetryMax:       cfg.Engine.RetryMaxOr(defaultRetryMax),
	}, nil
}

func mapTriggerConfig(cfg *config.Config) trigger.Config {
	return trigger.Config{
		Every:    cfg.Refresh.Every,
		Timezone: cfg.Refresh.Timezone,
		Instance: cfg.Refresh.Instance,
	}
}

func mapLookahead(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationField("refresh.lookahead", cfg.Refresh.Lookahead)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
