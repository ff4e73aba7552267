package schedule

import (
	"fmt"
	"strings"
)

// CronValidator checks cron expression syntax.
type CronValidator interface {
	Validate(expr string) error
}

// Field paths used in validation errors.
const (
	FieldSchedule     = "Schedule"
	FieldActivities   = "activities"
	FieldScheduleType = "scheduleType"
	FieldCronTrigger  = "cronTrigger"
	FieldInterval     = "interval"
	FieldTimes        = "times"
	FieldDelay        = "delay"
	FieldExpires      = "expires"
	FieldEndsOn       = "endsOn"
)

// Validate checks every constraint of s and returns a *ValidationError
// holding all violations, or nil. When cron is nil cron syntax is not checked.
func Validate(s *Schedule, cron CronValidator) error {
	return Check(s, cron).OrNil()
}

// Check is Validate returning the (possibly empty) error set.
func Check(s *Schedule, cron CronValidator) *ValidationError {
	errs := NewValidationError(FieldSchedule)
	if s == nil {
		errs.Add(FieldSchedule, "schedule is required")
		return errs
	}

	if len(s.Activities) == 0 {
		errs.Add(FieldActivities, "activities are required")
	}
	for i, a := range s.Activities {
		path := fmt.Sprintf("%s[%d].", FieldActivities, i)
		if strings.TrimSpace(a.Label) == "" {
			errs.Add(path+"label", "label is required")
		}
		if strings.TrimSpace(a.Ref) == "" {
			errs.Add(path+"ref", "ref is required")
		}
		if a.Type == "" {
			errs.Add(path+"activityType", "activityType is required")
		}
	}

	switch {
	case s.ScheduleType == "":
		errs.Add(FieldScheduleType, "scheduleType is required")
	case !s.ScheduleType.valid():
		errs.Add(FieldScheduleType, fmt.Sprintf("scheduleType %q is not one of once, recurring", string(s.ScheduleType)))
	}

	hasCron := strings.TrimSpace(s.CronTrigger) != ""
	hasInterval := s.Interval != nil
	switch s.ScheduleType {
	case Recurring:
		if hasCron == hasInterval {
			errs.Add(FieldSchedule, "recurring schedules should have either a cron expression, or an interval, but not both")
		}
	case Once:
		if hasInterval {
			errs.Add(FieldSchedule, "schedules executing once should not have an interval")
		}
		if hasCron {
			errs.Add(FieldSchedule, "schedules executing once should not have a cron expression")
		}
	}

	if hasInterval {
		if !s.Interval.AtLeast(Day) {
			errs.Add(FieldInterval, "interval must be at least one day")
		}
		if len(s.Times) == 0 {
			errs.Add(FieldTimes, "times are required for interval-based schedules")
		}
	}
	if hasCron && cron != nil {
		if err := cron.Validate(s.CronTrigger); err != nil {
			errs.Add(FieldCronTrigger, "cronTrigger is an invalid cron expression")
		}
	}
	if s.Expires != nil && !s.Expires.AtLeast(Hour) {
		errs.Add(FieldExpires, "expires must be at least one hour")
	}
	if s.StartsOn != nil && s.EndsOn != nil && s.EndsOn.Sub(*s.StartsOn) < Hour {
		errs.Add(FieldEndsOn, "endsOn should be at least an hour after the startsOn time")
	}
	if s.Delay != nil && len(s.Times) > 0 && !s.Delay.AtLeast(Day) {
		errs.Add(FieldDelay, "delay is less than one day, and times of day are also set for this schedule, which is ambiguous")
	}
	return errs
}
