package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dayRule is a day filter robfig/cron cannot express: Quartz "L", "W" and "#".
type dayRule func(t time.Time) bool

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday, "MON": time.Monday, "TUE": time.Tuesday, "WED": time.Wednesday,
	"THU": time.Thursday, "FRI": time.Friday, "SAT": time.Saturday,
}

func hasDomRule(field string) bool {
	return strings.ContainsAny(strings.ToUpper(field), "LW")
}

func hasDowRule(field string) bool {
	f := strings.ToUpper(field)
	return strings.Contains(f, "#") || (strings.HasSuffix(f, "L") && f != "L")
}

func lastDay(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// nearestWeekday is the weekday closest to day within t's month.
func nearestWeekday(t time.Time, day int) int {
	last := lastDay(t)
	wd := time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC).Weekday()
	switch {
	case wd == time.Saturday && day == 1:
		return 3
	case wd == time.Saturday:
		return day - 1
	case wd == time.Sunday && day == last:
		return day - 2
	case wd == time.Sunday:
		return day + 1
	}
	return day
}

// parseDomRule handles "L", "L-n", "LW" and "nW".
func parseDomRule(field string) (dayRule, error) {
	f := strings.ToUpper(field)
	switch {
	case f == "L":
		return func(t time.Time) bool { return t.Day() == lastDay(t) }, nil
	case f == "LW":
		return func(t time.Time) bool { return t.Day() == nearestWeekday(t, lastDay(t)) }, nil
	case strings.HasPrefix(f, "L-"):
		n, err := strconv.Atoi(f[2:])
		if err != nil || n < 0 || n > 30 {
			return nil, fmt.Errorf("invalid day-of-month offset %q", field)
		}
		return func(t time.Time) bool { return t.Day() == lastDay(t)-n }, nil
	case strings.HasSuffix(f, "W"):
		n, err := strconv.Atoi(f[:len(f)-1])
		if err != nil || n < 1 || n > 31 {
			return nil, fmt.Errorf("invalid nearest weekday %q", field)
		}
		return func(t time.Time) bool { return n <= lastDay(t) && t.Day() == nearestWeekday(t, n) }, nil
	}
	return nil, fmt.Errorf("unsupported day-of-month %q", field)
}

// parseDowRule handles "xL" (last x of the month) and "x#k" (k-th x of the
// month). x is 1=SUN..7=SAT or a weekday name.
func parseDowRule(field string) (dayRule, error) {
	f := strings.ToUpper(field)
	if day, nth, ok := strings.Cut(f, "#"); ok {
		wd, err := parseWeekday(day)
		if err != nil {
			return nil, err
		}
		k, err := strconv.Atoi(nth)
		if err != nil || k < 1 || k > 5 {
			return nil, fmt.Errorf("invalid weekday occurrence %q", field)
		}
		return func(t time.Time) bool { return t.Weekday() == wd && (t.Day()-1)/7+1 == k }, nil
	}
	wd, err := parseWeekday(strings.TrimSuffix(f, "L"))
	if err != nil {
		return nil, err
	}
	return func(t time.Time) bool { return t.Weekday() == wd && t.Day()+7 > lastDay(t) }, nil
}

func parseWeekday(v string) (time.Weekday, error) {
	if wd, ok := weekdayNames[v]; ok {
		return wd, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 7 {
		return 0, fmt.Errorf("invalid day-of-week %q", v)
	}
	return time.Weekday(n - 1), nil
}
