package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"studysched/internal/schedule"
)

const (
	TypeSimple = "SimpleScheduleStrategy"
	TypeABTest = "ABTestScheduleStrategy"
)

// Strategy picks the schedule that applies to a participant. The variants
// are Simple and ABTest; no other type implements it.
type Strategy interface {
	// ScheduleFor resolves the schedule for participantID. salt is the plan
	// GUID. A nil result means the participant gets no schedule.
	ScheduleFor(salt, participantID string) *schedule.Schedule
	// Schedules lists every schedule the strategy can return.
	Schedules() []*schedule.Schedule
	Type() string

	check(cron schedule.CronValidator, errs *schedule.ValidationError)
}

// Simple always returns the same schedule.
type Simple struct {
	Schedule *schedule.Schedule `json:"schedule"`
}

func (s *Simple) Type() string { return TypeSimple }

func (s *Simple) ScheduleFor(string, string) *schedule.Schedule { return s.Schedule }

func (s *Simple) Schedules() []*schedule.Schedule {
	if s.Schedule == nil {
		return nil
	}
	return []*schedule.Schedule{s.Schedule}
}

func (s *Simple) check(cron schedule.CronValidator, errs *schedule.ValidationError) {
	if s.Schedule == nil {
		errs.Add("strategy.schedule", "schedule is required")
		return
	}
	errs.Merge("strategy.schedule.", schedule.Check(s.Schedule, cron))
}

func (s *Simple) MarshalJSON() ([]byte, error) {
	type plain Simple
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{TypeSimple, (*plain)(s)})
}

// Group is one arm of an A/B test.
type Group struct {
	Percentage int                `json:"percentage"`
	Schedule   *schedule.Schedule `json:"schedule"`
}

// ABTest apportions participants across groups by percentage. Percentages
// may sum to less than 100; participants in the remainder get no schedule.
type ABTest struct {
	Groups []Group `json:"scheduleGroups"`
}

func (a *ABTest) Type() string { return TypeABTest }

// AddGroup appends a group and returns a for chaining.
func (a *ABTest) AddGroup(percentage int, s *schedule.Schedule) *ABTest {
	a.Groups = append(a.Groups, Group{Percentage: percentage, Schedule: s})
	return a
}

func (a *ABTest) ScheduleFor(salt, participantID string) *schedule.Schedule {
	if i := a.GroupIndex(salt, participantID); i >= 0 {
		return a.Groups[i].Schedule
	}
	return nil
}

// GroupIndex returns the group participantID falls in, or -1 for the remainder.
func (a *ABTest) GroupIndex(salt, participantID string) int {
	bucket := Bucket(salt, participantID)
	upper := 0
	for i, g := range a.Groups {
		upper += g.Percentage
		if bucket < upper {
			return i
		}
	}
	return -1
}

func (a *ABTest) Schedules() []*schedule.Schedule {
	out := make([]*schedule.Schedule, 0, len(a.Groups))
	for _, g := range a.Groups {
		if g.Schedule != nil {
			out = append(out, g.Schedule)
		}
	}
	return out
}

func (a *ABTest) check(cron schedule.CronValidator, errs *schedule.ValidationError) {
	if len(a.Groups) == 0 {
		errs.Add("strategy.scheduleGroups", "at least one schedule group is required")
		return
	}
	total := 0
	for i, g := range a.Groups {
		path := fmt.Sprintf("strategy.scheduleGroups[%d].", i)
		if g.Percentage < 0 || g.Percentage > 100 {
			errs.Add(path+"percentage", "percentage must be between 0 and 100")
		}
		total += g.Percentage
		if g.Schedule == nil {
			errs.Add(path+"schedule", "schedule is required")
			continue
		}
		errs.Merge(path+"schedule.", schedule.Check(g.Schedule, cron))
	}
	if total > 100 {
		errs.Add("strategy.scheduleGroups", fmt.Sprintf("percentages add up to %d, more than 100", total))
	}
}

func (a *ABTest) MarshalJSON() ([]byte, error) {
	type plain ABTest
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{TypeABTest, (*plain)(a)})
}

// Bucket maps a participant to [0, 100). The same salt and participant
// always land in the same bucket.
func Bucket(salt, participantID string) int {
	return int(xxhash.Sum64String(salt+":"+participantID) % 100)
}

// DecodeStrategy decodes a strategy object by its "type" discriminator.
func DecodeStrategy(b []byte) (Strategy, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	var s Strategy
	switch strings.TrimSpace(head.Type) {
	case TypeSimple:
		s = &Simple{}
	case TypeABTest:
		s = &ABTest{}
	case "":
		return nil, fmt.Errorf("strategy: type is required")
	default:
		return nil, fmt.Errorf("strategy: unknown type %q", head.Type)
	}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", head.Type, err)
	}
	return s, nil
}
