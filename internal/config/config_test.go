package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planJSON = `{
  "guid": "plan-1",
  "label": "Daily tapping",
  "strategy": {
    "type": "SimpleScheduleStrategy",
    "schedule": {
      "label": "daily",
      "scheduleType": "recurring",
      "interval": "P1D",
      "times": ["10:00"],
      "activities": [{"label": "Tap test", "ref": "task:tapTest"}]
    }
  }
}`

const yamlConfig = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./studysched.db
  busy_timeout: 5s
lock:
  driver: memory
engine:
  workers: 4
  retry_max: 0
refresh:
  every: "@every 10m"
  lookahead: 96h
  timezone: UTC
plan_files:
  - plan.json
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAMLWithPlanFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "plan.json", planJSON)
	m := NewManager(writeFile(t, dir, "config.yaml", yamlConfig))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 0, cfg.Engine.RetryMaxOr(3))
	assert.Equal(t, 3, EngineConfig{}.RetryMaxOr(3))

	plans, err := cfg.LoadPlans(m.Dir())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "plan-1", plans[0].GUID)
	assert.NotNil(t, plans[0].ScheduleFor("p1"))
}

func TestDecodeInlinePlansJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(`{"plans":[`+planJSON+`]}`))
	require.NoError(t, err)
	plans, err := cfg.LoadPlans(".")
	require.NoError(t, err)
	require.Len(t, plans, 1)

	cfg, err = Decode("config.json", []byte(`{"plans":[`+planJSON+`,`+planJSON+`]}`))
	require.NoError(t, err)
	_, err = cfg.LoadPlans(".")
	assert.ErrorContains(t, err, "duplicate guid")
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown field", path: "c.json", body: `{"telegram":{}}`},
		{name: "trailing data", path: "c.json", body: `{} {}`},
		{name: "bad duration", path: "c.json", body: `{"refresh":{"lookahead":"four days"}}`},
		{name: "negative duration", path: "c.json", body: `{"lock":{"ttl":"-1s"}}`},
		{name: "unknown storage driver", path: "c.json", body: `{"storage":{"driver":"mongo"}}`},
		{name: "file driver without path", path: "c.json", body: `{"storage":{"driver":"file"}}`},
		{name: "redis without addr", path: "c.json", body: `{"lock":{"driver":"redis"}}`},
		{name: "bad level", path: "c.json", body: `{"logging":{"level":"loud"}}`},
		{name: "bad timezone", path: "c.json", body: `{"refresh":{"timezone":"Mars/Olympus"}}`},
		{name: "yaml unknown field", path: "c.yaml", body: "engine:\n  threads: 2\n"},
		{name: "bad yaml", path: "c.yml", body: "engine: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 90s ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("refresh.lookahead", "soon")
	assert.ErrorContains(t, err, "refresh.lookahead")

	d, err = ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestReloadSkipsUnchangedAndValidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	published, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, published)

	writeFile(t, dir, "config.json", `{"logging":{"level":"debug"}}`)
	published, err = m.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	got := <-ch
	assert.Equal(t, "debug", got.Logging.Level)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	writeFile(t, dir, "config.json", `{"logging":{"level":"warn"}}`)
	_, err = m.Reload(ctx)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	m.publish(&Config{Logging: LoggingConfig{Level: "info"}})
	m.publish(&Config{Logging: LoggingConfig{Level: "debug"}})
	assert.Equal(t, "debug", (<-ch).Logging.Level)
	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"refresh":{"every":"15m"}}`)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// the watcher may not be registered yet; keep rewriting until seen
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, "5m", cfg.Refresh.Every)
			return
		case <-tick.C:
			writeFile(t, dir, "config.json", `{"refresh":{"every":"5m"}}`)
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Lock: LockConfig{Driver: "redis", Addr: "a:6379", Password: "secret"}}
	newCfg := &Config{
		Lock:    LockConfig{Driver: "redis", Addr: "a:6379", Password: "other"},
		Refresh: RefreshConfig{Every: "5m"},
		Plans:   []json.RawMessage{json.RawMessage(planJSON)},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"lock", "plans", "refresh"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"lock"}, NeedsRestart(changed))

	same := &Config{Plans: []json.RawMessage{json.RawMessage(`{"guid": "x"}`)}}
	compact := &Config{Plans: []json.RawMessage{json.RawMessage(`{"guid":"x"}`)}}
	changed, _ = SummarizeChange(same, compact)
	assert.Empty(t, changed)
}
