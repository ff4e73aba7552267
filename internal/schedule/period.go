package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Hour = time.Hour
)

// Period is an ISO-8601 duration such as "P1M", "P2D" or "PT6H".
//
// Only positive components are supported.
type Period struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
	Nanos   int
}

var rePeriod = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)(?:[.,](\d{1,9}))?S)?)?$`)

// ParsePeriod parses an ISO-8601 duration.
func ParsePeriod(raw string) (Period, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Period{}, fmt.Errorf("period required")
	}
	m := rePeriod.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return Period{}, fmt.Errorf("invalid ISO-8601 period %q", raw)
	}
	var p Period
	fields := []*int{&p.Years, &p.Months, &p.Weeks, &p.Days, &p.Hours, &p.Minutes, &p.Seconds}
	for i, dst := range fields {
		v := m[i+1]
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Period{}, fmt.Errorf("invalid ISO-8601 period %q: %w", raw, err)
		}
		*dst = n
	}
	if frac := m[8]; frac != "" {
		// right-pad to nanoseconds: ".5" -> 500000000
		frac += strings.Repeat("0", 9-len(frac))
		n, err := strconv.Atoi(frac)
		if err != nil {
			return Period{}, fmt.Errorf("invalid ISO-8601 period %q: %w", raw, err)
		}
		p.Nanos = n
	}
	return p, nil
}

// MustParsePeriod is ParsePeriod that panics on error. Intended for tests and constants.
func MustParsePeriod(raw string) Period {
	p, err := ParsePeriod(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether every component is zero.
func (p Period) IsZero() bool { return p == Period{} }

func (p Period) clock() time.Duration {
	return time.Duration(p.Hours)*time.Hour +
		time.Duration(p.Minutes)*time.Minute +
		time.Duration(p.Seconds)*time.Second +
		time.Duration(p.Nanos)
}

// AddTo adds the period to t in t's location.
//
// Years and months are added first with end-of-month clamping
// (2015-01-31 + P1M = 2015-02-28), then weeks and days as calendar days,
// then the time part as elapsed time.
func (p Period) AddTo(t time.Time) time.Time {
	if months := p.Years*12 + p.Months; months != 0 {
		t = addMonthsClamped(t, months)
	}
	if days := p.Weeks*7 + p.Days; days != 0 {
		t = t.AddDate(0, 0, days)
	}
	if c := p.clock(); c != 0 {
		t = t.Add(c)
	}
	return t
}

// Times multiplies every component by k.
func (p Period) Times(k int) Period {
	return Period{
		Years:   p.Years * k,
		Months:  p.Months * k,
		Weeks:   p.Weeks * k,
		Days:    p.Days * k,
		Hours:   p.Hours * k,
		Minutes: p.Minutes * k,
		Seconds: p.Seconds * k,
		Nanos:   p.Nanos * k,
	}
}

// Approx converts the period to a standard duration using 365-day years and
// 30-day months. Only meaningful for minimum-length checks.
func (p Period) Approx() time.Duration {
	days := p.Years*365 + p.Months*30 + p.Weeks*7 + p.Days
	return time.Duration(days)*Day + p.clock()
}

// AtLeast reports whether the period is at least d long.
func (p Period) AtLeast(d time.Duration) bool { return p.Approx() >= d }

func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteByte('P')
	writePart(&b, p.Years, 'Y')
	writePart(&b, p.Months, 'M')
	writePart(&b, p.Weeks, 'W')
	writePart(&b, p.Days, 'D')
	if p.Hours != 0 || p.Minutes != 0 || p.Seconds != 0 || p.Nanos != 0 {
		b.WriteByte('T')
		writePart(&b, p.Hours, 'H')
		writePart(&b, p.Minutes, 'M')
		if p.Seconds != 0 || p.Nanos != 0 {
			b.WriteString(strconv.Itoa(p.Seconds))
			if p.Nanos != 0 {
				frac := strings.TrimRight(fmt.Sprintf("%09d", p.Nanos), "0")
				b.WriteByte('.')
				b.WriteString(frac)
			}
			b.WriteByte('S')
		}
	}
	return b.String()
}

func writePart(b *strings.Builder, n int, unit byte) {
	if n == 0 {
		return
	}
	b.WriteString(strconv.Itoa(n))
	b.WriteByte(unit)
}

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	v, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	ny := y + floorDiv(total, 12)
	nm := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := daysIn(ny, nm, t.Location()); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(ny, nm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
