package trigger

import (
	"fmt"
	"testing"
	"time"
)

func TestParseSpecVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every hhmm", raw: "every:00:20", kind: SpecInterval, source: "hhmm", duration: 20 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "hhmm is an interval, not a time of day", raw: "06:00", kind: SpecInterval, source: "hhmm", duration: 6 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSpec(tt.raw)
			if err != nil {
				t.Fatalf("ParseSpec(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseSpecInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:-5m", "00:00", "01:75"} {
		if _, err := ParseSpec(raw); err == nil {
			t.Fatalf("ParseSpec(%q): expected error", raw)
		}
	}
}

func TestSpreadIsStablePerInstance(t *testing.T) {
	t.Parallel()
	now := time.Date(2015, 3, 26, 12, 0, 7, 0, time.UTC)
	seen := map[time.Duration]bool{}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("host-%d:1", i)
		sched, offset := spread(newAlignedEvery(time.Minute), time.Minute, id)
		if offset < 0 || offset >= 30*time.Second {
			t.Fatalf("offset(%s) = %v, want [0, 30s)", id, offset)
		}
		if _, again := spread(newAlignedEvery(time.Minute), time.Minute, id); again != offset {
			t.Fatalf("offset(%s) changed: %v then %v", id, offset, again)
		}
		first := sched.Next(now)
		if got := first.Sub(first.Truncate(time.Minute)); got != offset {
			t.Fatalf("first = %v, want minute boundary + %v", first, offset)
		}
		if !first.After(now) || first.Sub(now) > time.Minute {
			t.Fatalf("first = %v, want within a minute after %v", first, now)
		}
		if next := sched.Next(first); !next.Equal(first.Add(time.Minute)) {
			t.Fatalf("next = %v, want %v", next, first.Add(time.Minute))
		}
		seen[offset] = true
	}
	if len(seen) < 2 {
		t.Fatalf("20 instances share %d offset(s)", len(seen))
	}
}

func TestSpreadShiftsCron(t *testing.T) {
	t.Parallel()
	base := newAlignedEvery(time.Hour)
	shifted := shiftedSchedule{base: base, offset: 20 * time.Second}
	at := time.Date(2015, 3, 26, 12, 0, 10, 0, time.UTC)
	if got, want := shifted.Next(at), time.Date(2015, 3, 26, 12, 0, 20, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next(%v) = %v, want %v", at, got, want)
	}
	at = time.Date(2015, 3, 26, 12, 0, 20, 0, time.UTC)
	if got, want := shifted.Next(at), time.Date(2015, 3, 26, 13, 0, 20, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next(%v) = %v, want %v", at, got, want)
	}
}

func TestEveryDescriptorIsAligned(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Every: "@every 15m", Instance: "node-a"}, Deps{Refresher: &fakeRefresher{}, Engine: &fakeEngine{}})
	if err != nil {
		t.Fatal(err)
	}
	sched, err := s.schedule(s.cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, offset := spread(newAlignedEvery(15*time.Minute), 15*time.Minute, "node-a")
	at := time.Date(2015, 3, 26, 12, 3, 0, 0, time.UTC)
	want := time.Date(2015, 3, 26, 12, 15, 0, 0, time.UTC).Add(offset)
	if got := sched.Next(at); !got.Equal(want) {
		t.Fatalf("Next(%v) = %v, want %v", at, got, want)
	}
}
