package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

type Type string

const (
	Once      Type = "once"
	Recurring Type = "recurring"
)

func (t Type) valid() bool { return t == Once || t == Recurring }

func (t *Type) UnmarshalText(b []byte) error {
	*t = Type(strings.ToLower(strings.TrimSpace(string(b))))
	return nil
}

// Schedule is an immutable recurrence/activity definition.
//
// Recurring schedules carry exactly one of Interval or CronTrigger; once
// schedules carry neither. Times is an ordered set (see AddTimes).
type Schedule struct {
	Label        string      `json:"label,omitempty"`
	ScheduleType Type        `json:"scheduleType,omitempty"`
	EventID      string      `json:"eventId,omitempty"`
	Activities   []Activity  `json:"activities,omitempty"`
	CronTrigger  string      `json:"cronTrigger,omitempty"`
	Interval     *Period     `json:"interval,omitempty"`
	Delay        *Period     `json:"delay,omitempty"`
	Times        []TimeOfDay `json:"times,omitempty"`
	Expires      *Period     `json:"expires,omitempty"`
	StartsOn     *time.Time  `json:"startsOn,omitempty"`
	EndsOn       *time.Time  `json:"endsOn,omitempty"`
}

// AddActivity appends an activity built from label and ref.
func (s *Schedule) AddActivity(label, ref string) *Schedule {
	s.Activities = append(s.Activities, NewActivity(label, ref))
	return s
}

// AddTimes appends times of day, skipping ones already present.
// It panics on malformed input; use ParseTimeOfDay for untrusted values.
func (s *Schedule) AddTimes(times ...string) *Schedule {
	for _, raw := range times {
		s.addTime(MustParseTimeOfDay(raw))
	}
	return s
}

func (s *Schedule) addTime(t TimeOfDay) {
	for _, have := range s.Times {
		if have == t {
			return
		}
	}
	s.Times = append(s.Times, t)
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	type plain Schedule
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	times := v.Times
	v.Times = nil
	*s = Schedule(v)
	for _, t := range times {
		s.addTime(t)
	}
	return nil
}

// ContentHash returns a stable hash of the schedule's canonical JSON form.
// Two schedules with the same content hash produce the same task identities.
func (s *Schedule) ContentHash() string {
	if s == nil {
		return ""
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}
