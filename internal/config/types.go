package config

import "encoding/json"

// Config is the daemon configuration file (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "4h").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Lock    LockConfig    `json:"lock"`
	Engine  EngineConfig  `json:"engine"`
	Refresh RefreshConfig `json:"refresh"`

	// Plans are inline plan objects; PlanFiles are paths to plan JSON files,
	// relative to the config file.
	Plans     []json.RawMessage `json:"plans,omitempty"`
	PlanFiles []string          `json:"plan_files,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./studysched.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// LockConfig selects the participant lock backend. Password is never logged.
type LockConfig struct {
	Driver   string `json:"driver"` // "memory" (default) | "redis"
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

// EngineConfig controls the refresh job engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - timeout: "30s"
//   - retry_max: 3
type EngineConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	RetryMax  *int   `json:"retry_max,omitempty"`
}

// RefreshConfig controls when and how far ahead tasks are generated.
type RefreshConfig struct {
	// Every is a cron expression, "@every 15m", a duration or HH:MM.
	Every     string `json:"every,omitempty"`
	Lookahead string `json:"lookahead,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	// Instance offsets this daemon's sweeps from others sharing the store.
	// Empty means "<hostname>:<pid>".
	Instance string `json:"instance,omitempty"`
}
