package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronEvaluator validates cron expressions and enumerates their fire times.
type CronEvaluator interface {
	Validate(expr string) error
	// FireTimesWithin returns fire instants in [start, end], in start's
	// location, stopping after limit instants when limit > 0.
	FireTimesWithin(expr string, start, end time.Time, limit int) ([]time.Time, error)
}

// QuartzCron evaluates Quartz style expressions on robfig/cron:
//
//	sec min hour day-of-month month day-of-week [year]
//
// Numeric day-of-week values run 1=SUN..7=SAT. "?" is accepted for either day
// field. The year field accepts "*", lists, ranges and steps.
//
// Day-of-month also takes "L" (last day), "L-n", "LW" (last weekday) and "nW"
// (weekday nearest to n, within the month). Day-of-week also takes "L" (SAT),
// "xL" (last x of the month) and "x#k" (k-th x of the month), e.g. "MON#2".
// These must stand alone in their field; robfig/cron handles everything else.
type QuartzCron struct{}

var quartzParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const (
	minCronYear = 1970
	maxCronYear = 2099
)

type quartzSchedule struct {
	spec  cron.Schedule
	years yearSet
	day   dayRule
}

func (QuartzCron) Validate(expr string) error {
	_, err := compileQuartz(expr)
	return err
}

func (QuartzCron) FireTimesWithin(expr string, start, end time.Time, limit int) ([]time.Time, error) {
	q, err := compileQuartz(expr)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	t := q.spec.Next(start.Add(-time.Nanosecond))
	for !t.IsZero() && !t.After(end) {
		if !q.years.match(t.Year()) {
			next, ok := q.years.after(t.Year())
			if !ok {
				break
			}
			jump := time.Date(next, time.January, 1, 0, 0, 0, 0, t.Location())
			t = q.spec.Next(jump.Add(-time.Nanosecond))
			continue
		}
		if q.day != nil && !q.day(t) {
			t = q.spec.Next(midnight(t).AddDate(0, 0, 1).Add(-time.Nanosecond))
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
		t = q.spec.Next(t)
	}
	return out, nil
}

func compileQuartz(expr string) (quartzSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 6 && len(fields) != 7 {
		return quartzSchedule{}, fmt.Errorf("cron %q: expected 6 or 7 fields, got %d", expr, len(fields))
	}
	var years yearSet
	if len(fields) == 7 {
		ys, err := parseYears(fields[6])
		if err != nil {
			return quartzSchedule{}, fmt.Errorf("cron %q: %w", expr, err)
		}
		years = ys
		fields = fields[:6]
	}
	if (hasDomRule(fields[3]) || hasDowRule(fields[5])) && !isAnyDay(fields[3]) && !isAnyDay(fields[5]) {
		return quartzSchedule{}, fmt.Errorf("cron %q: day-of-month and day-of-week cannot both be set", expr)
	}
	var day dayRule
	switch {
	case hasDomRule(fields[3]):
		rule, err := parseDomRule(fields[3])
		if err != nil {
			return quartzSchedule{}, fmt.Errorf("cron %q: %w", expr, err)
		}
		day, fields[3] = rule, "*"
	case hasDowRule(fields[5]):
		rule, err := parseDowRule(fields[5])
		if err != nil {
			return quartzSchedule{}, fmt.Errorf("cron %q: %w", expr, err)
		}
		day, fields[5] = rule, "?"
	case strings.EqualFold(fields[5], "L"):
		fields[5] = "7"
	}
	dow, err := quartzDow(fields[5])
	if err != nil {
		return quartzSchedule{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	fields[5] = dow
	spec, err := quartzParser.Parse(strings.Join(fields, " "))
	if err != nil {
		return quartzSchedule{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return quartzSchedule{spec: spec, years: years, day: day}, nil
}

func isAnyDay(field string) bool { return field == "*" || field == "?" }

// quartzDow shifts numeric day-of-week values from 1..7 to robfig's 0..6.
// Names and steps are left alone.
func quartzDow(field string) (string, error) {
	if field == "*" || field == "?" {
		return field, nil
	}
	parts := strings.Split(field, ",")
	for i, part := range parts {
		rng, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(rng, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}

type yearRange struct{ lo, hi, step int }

// yearSet is the parsed year field. Empty matches every year.
type yearSet []yearRange

func (s yearSet) match(y int) bool {
	if len(s) == 0 {
		return true
	}
	for _, r := range s {
		if y >= r.lo && y <= r.hi && (y-r.lo)%r.step == 0 {
			return true
		}
	}
	return false
}

// after returns the smallest matching year greater than y.
func (s yearSet) after(y int) (int, bool) {
	if len(s) == 0 {
		return y + 1, true
	}
	best, found := 0, false
	for _, r := range s {
		c := r.lo
		if y >= r.lo {
			c = r.lo + ((y-r.lo)/r.step+1)*r.step
		}
		if c > r.hi {
			continue
		}
		if !found || c < best {
			best, found = c, true
		}
	}
	return best, found
}

func parseYears(field string) (yearSet, error) {
	if field == "*" {
		return nil, nil
	}
	var out yearSet
	for _, part := range strings.Split(field, ",") {
		rng, stepRaw, hasStep := strings.Cut(part, "/")
		r := yearRange{step: 1}
		if hasStep {
			step, err := strconv.Atoi(stepRaw)
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("invalid year step %q", stepRaw)
			}
			r.step = step
		}
		switch lo, hi, isRange := strings.Cut(rng, "-"); {
		case rng == "*":
			r.lo, r.hi = minCronYear, maxCronYear
		case isRange:
			a, errA := strconv.Atoi(lo)
			b, errB := strconv.Atoi(hi)
			if errA != nil || errB != nil {
				return nil, fmt.Errorf("invalid year range %q", rng)
			}
			r.lo, r.hi = a, b
		default:
			a, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid year %q", rng)
			}
			r.lo, r.hi = a, a
			if hasStep {
				r.hi = maxCronYear
			}
		}
		if r.lo < minCronYear || r.hi > maxCronYear || r.lo > r.hi {
			return nil, fmt.Errorf("year %q out of range %d-%d", part, minCronYear, maxCronYear)
		}
		out = append(out, r)
	}
	return out, nil
}
