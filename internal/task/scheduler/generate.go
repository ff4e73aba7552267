package scheduler

import (
	"sort"
	"time"

	"studysched/internal/schedule"
)

// generator expands one anchor into raw occurrence instants up to until.
// Instants carry the anchor's UTC offset. truncated reports that limit cut
// the sequence short.
type generator interface {
	occurrences(anchor, until time.Time, limit int) (out []time.Time, truncated bool, err error)
}

func shift(t time.Time, p *schedule.Period) time.Time {
	if p == nil {
		return t
	}
	return p.AddTo(t)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// pinOffset moves t into a fixed zone with t's current offset so calendar
// arithmetic never crosses a daylight saving transition.
func pinOffset(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset == 0 {
		return t.UTC()
	}
	return t.In(time.FixedZone(name, offset))
}

func sortedTimes(times []schedule.TimeOfDay) []schedule.TimeOfDay {
	out := append([]schedule.TimeOfDay(nil), times...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type onceGenerator struct {
	delay *schedule.Period
	times []schedule.TimeOfDay // ascending
}

// occurrences returns anchor+delay. With times of day the result is the
// earliest slot on the delayed date, or the day after, that is not before
// the anchor.
func (g onceGenerator) occurrences(anchor, _ time.Time, _ int) ([]time.Time, bool, error) {
	start := shift(anchor, g.delay)
	if len(g.times) == 0 {
		return []time.Time{start}, false, nil
	}
	day := midnight(start)
	for _, d := range []time.Time{day, day.AddDate(0, 0, 1)} {
		for _, tod := range g.times {
			if slot := tod.On(d); !slot.Before(anchor) {
				return []time.Time{slot}, false, nil
			}
		}
	}
	return nil, false, nil
}

type intervalGenerator struct {
	interval schedule.Period
	delay    *schedule.Period
	times    []schedule.TimeOfDay
}

// occurrences walks cycle dates base, base+interval, base+2*interval, ...
// where base is the date of anchor+delay, emitting every time of day on each.
// Slots before the anchor are skipped.
func (g intervalGenerator) occurrences(anchor, until time.Time, limit int) ([]time.Time, bool, error) {
	if g.interval.IsZero() || len(g.times) == 0 {
		return nil, false, nil
	}
	base := midnight(shift(anchor, g.delay))
	var out []time.Time
	for k := 0; ; k++ {
		day := g.interval.Times(k).AddTo(base)
		if midnight(day).After(until) {
			return out, false, nil
		}
		for _, tod := range g.times {
			slot := tod.On(day)
			if slot.Before(anchor) || slot.After(until) {
				continue
			}
			out = append(out, slot)
			if limit > 0 && len(out) >= limit {
				return out, true, nil
			}
		}
	}
}

type cronGenerator struct {
	expr  string
	delay *schedule.Period
	cron  CronEvaluator
}

func (g cronGenerator) occurrences(anchor, until time.Time, limit int) ([]time.Time, bool, error) {
	start := shift(anchor, g.delay)
	if start.After(until) {
		return nil, false, nil
	}
	out, err := g.cron.FireTimesWithin(g.expr, start, until, limit)
	if err != nil {
		return nil, false, err
	}
	return out, limit > 0 && len(out) >= limit, nil
}
