// Package plan binds schedules to a study through a strategy that decides,
// per participant, which schedule applies.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"studysched/internal/schedule"
)

// Plan is a study's schedule plan. GUID salts A/B bucketing and owns the
// GUIDs of generated tasks.
type Plan struct {
	GUID       string     `json:"guid,omitempty"`
	Label      string     `json:"label,omitempty"`
	StudyKey   string     `json:"studyKey,omitempty"`
	ModifiedOn *time.Time `json:"modifiedOn,omitempty"`
	Version    int64      `json:"version,omitempty"`
	Strategy   Strategy   `json:"strategy"`
}

func (p *Plan) UnmarshalJSON(b []byte) error {
	type plain Plan
	var raw struct {
		*plain
		Strategy json.RawMessage `json:"strategy"`
	}
	var v plain
	raw.plain = &v
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v.Strategy = nil
	if len(raw.Strategy) > 0 && string(raw.Strategy) != "null" {
		s, err := DecodeStrategy(raw.Strategy)
		if err != nil {
			return err
		}
		v.Strategy = s
	}
	*p = Plan(v)
	return nil
}

// ScheduleFor returns the schedule participantID should follow, or nil.
func (p *Plan) ScheduleFor(participantID string) *schedule.Schedule {
	if p == nil || p.Strategy == nil {
		return nil
	}
	return p.Strategy.ScheduleFor(p.GUID, participantID)
}

// Validate checks the strategy and every schedule it holds, collecting all
// failures with field paths relative to the plan.
func (p *Plan) Validate(cron schedule.CronValidator) error {
	errs := schedule.NewValidationError("SchedulePlan")
	if p.Strategy == nil {
		errs.Add("strategy", "strategy is required")
		return errs.OrNil()
	}
	p.Strategy.check(cron, errs)
	return errs.OrNil()
}

// Parse decodes one plan document.
func Parse(b []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return &p, nil
}

// Load reads a plan document from path.
func Load(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
