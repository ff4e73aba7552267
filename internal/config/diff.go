package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"studysched/pkg/logx"
)

// Sections that need a restart to take effect; the daemon applies the rest live.
var restartSections = map[string]bool{"storage": true, "lock": true, "engine": true}

// SummarizeChange returns the changed top-level sections and safe log
// fields describing them. Secrets such as lock.password are never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Lock, newCfg.Lock) {
		changed = append(changed, "lock")
		attrs = append(attrs,
			logx.String("lock.driver", strings.TrimSpace(newCfg.Lock.Driver)),
			logx.Bool("lock.password_set", newCfg.Lock.Password != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
		)
	}
	if oldCfg.Refresh != newCfg.Refresh {
		changed = append(changed, "refresh")
		attrs = append(attrs,
			logx.String("refresh.every", newCfg.Refresh.Every),
			logx.String("refresh.lookahead", newCfg.Refresh.Lookahead),
			logx.String("refresh.timezone", newCfg.Refresh.Timezone),
		)
	}
	if !samePlans(oldCfg, newCfg) {
		changed = append(changed, "plans")
		attrs = append(attrs,
			logx.Int("plans.inline", len(newCfg.Plans)),
			logx.Int("plans.files", len(newCfg.PlanFiles)),
		)
	}
	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart reports which of the changed sections cannot be applied live.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func samePlans(a, b *Config) bool {
	if !reflect.DeepEqual(a.PlanFiles, b.PlanFiles) || len(a.Plans) != len(b.Plans) {
		return false
	}
	for i := range a.Plans {
		if !bytes.Equal(compactJSON(a.Plans[i]), compactJSON(b.Plans[i])) {
			return false
		}
	}
	return true
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
