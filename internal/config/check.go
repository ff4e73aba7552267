package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"studysched/internal/plan"
)

// Check validates the fields a config can be judged on without loading
// plans: durations, driver names and log level.
func (c *Config) Check() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout": c.Storage.BusyTimeout,
		"lock.ttl":             c.Lock.TTL,
		"engine.timeout":       c.Engine.Timeout,
		"refresh.lookahead":    c.Refresh.Lookahead,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", c.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.Lock.Driver)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Lock.Addr) == "" {
			add(errors.New("lock.addr: required for driver \"redis\""))
		}
	default:
		add(fmt.Errorf("lock.driver: unknown driver %q", c.Lock.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	if c.Engine.Workers < 0 {
		add(errors.New("engine.workers: must be >= 0"))
	}
	if c.Engine.QueueSize < 0 {
		add(errors.New("engine.queue_size: must be >= 0"))
	}
	if c.Engine.RetryMax != nil && *c.Engine.RetryMax < 0 {
		add(errors.New("engine.retry_max: must be >= 0"))
	}
	if tz := strings.TrimSpace(c.Refresh.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("refresh.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LoadPlans decodes the inline plans and reads plan_files relative to dir.
// Plans are returned in configuration order, inline first.
func (c *Config) LoadPlans(dir string) ([]*plan.Plan, error) {
	out := make([]*plan.Plan, 0, len(c.Plans)+len(c.PlanFiles))
	for i, raw := range c.Plans {
		p, err := plan.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("plans[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	for _, path := range c.PlanFiles {
		path = strings.TrimSpace(path)
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		p, err := plan.Load(path)
		if err != nil {
			return nil, fmt.Errorf("plan_files: %w", err)
		}
		out = append(out, p)
	}
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		if p.GUID == "" {
			continue
		}
		if seen[p.GUID] {
			return nil, fmt.Errorf("plans: duplicate guid %q", p.GUID)
		}
		seen[p.GUID] = true
	}
	return out, nil
}

// RetryMaxOr returns engine.retry_max, or def when omitted.
func (e EngineConfig) RetryMaxOr(def int) int {
	if e.RetryMax == nil {
		return def
	}
	return *e.RetryMax
}
