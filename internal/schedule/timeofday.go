package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date or zone ("10:00", "14:30:15").
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
	Nanos  int
}

var reTimeOfDay = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2})(?:\.(\d{1,9}))?)?$`)

// ParseTimeOfDay accepts HH:MM, HH:MM:SS and HH:MM:SS.fff.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	m := reTimeOfDay.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, expected HH:MM", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	var sec, ns int
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if m[4] != "" {
		frac := m[4] + strings.Repeat("0", 9-len(m[4]))
		ns, _ = strconv.Atoi(frac)
	}
	if h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", raw)
	}
	if mi > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", raw)
	}
	if sec > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid second in %q", raw)
	}
	return TimeOfDay{Hour: h, Minute: mi, Second: sec, Nanos: ns}, nil
}

// MustParseTimeOfDay is ParseTimeOfDay that panics on error.
func MustParseTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// On returns the instant at this time of day on t's calendar date, in t's location.
func (d TimeOfDay) On(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, d.Hour, d.Minute, d.Second, d.Nanos, t.Location())
}

// Before orders times of day.
func (d TimeOfDay) Before(o TimeOfDay) bool {
	if d.Hour != o.Hour {
		return d.Hour < o.Hour
	}
	if d.Minute != o.Minute {
		return d.Minute < o.Minute
	}
	if d.Second != o.Second {
		return d.Second < o.Second
	}
	return d.Nanos < o.Nanos
}

func (d TimeOfDay) String() string {
	s := fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
	if d.Second != 0 || d.Nanos != 0 {
		s += fmt.Sprintf(":%02d", d.Second)
	}
	if d.Nanos != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%09d", d.Nanos), "0")
	}
	return s
}

func (d TimeOfDay) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
