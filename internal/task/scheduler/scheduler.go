package scheduler

import (
	"fmt"
	"time"

	"studysched/internal/event"
	"studysched/internal/schedule"
	"studysched/internal/task"
	"studysched/pkg/logx"
)

// DefaultLimit bounds the occurrences a single schedule may expand to.
const DefaultLimit = 10000

type Option func(*Scheduler)

// WithCron replaces the cron evaluator (QuartzCron by default).
func WithCron(c CronEvaluator) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithClock makes Tasks drop tasks that expired before now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithLimit caps occurrences per call. n <= 0 restores DefaultLimit.
func WithLimit(n int) Option {
	return func(s *Scheduler) {
		if n <= 0 {
			n = DefaultLimit
		}
		s.limit = n
	}
}

// Scheduler generates tasks for one validated schedule. It holds no mutable
// state and is safe for concurrent use.
type Scheduler struct {
	planGUID string
	owner    string
	sched    *schedule.Schedule
	gen      generator

	cron  CronEvaluator
	now   func() time.Time
	log   logx.Logger
	limit int
}

// New validates s and selects its generator. Validation failures are
// returned as a *schedule.ValidationError holding every violated rule.
func New(planGUID string, s *schedule.Schedule, opts ...Option) (*Scheduler, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler: nil schedule")
	}
	sc := &Scheduler{
		planGUID: planGUID,
		sched:    s,
		cron:     QuartzCron{},
		log:      logx.Nop(),
		limit:    DefaultLimit,
	}
	for _, opt := range opts {
		opt(sc)
	}
	if err := schedule.Validate(s, sc.cron); err != nil {
		return nil, err
	}
	sc.owner = planGUID
	if sc.owner == "" {
		sc.owner = s.ContentHash()
	}

	times := sortedTimes(s.Times)
	switch {
	case s.ScheduleType == schedule.Once:
		sc.gen = onceGenerator{delay: s.Delay, times: times}
	case s.Interval != nil:
		sc.gen = intervalGenerator{interval: *s.Interval, delay: s.Delay, times: times}
	default:
		sc.gen = cronGenerator{expr: s.CronTrigger, delay: s.Delay, cron: sc.cron}
	}
	sc.log = sc.log.With(logx.String("schedule", s.Label))
	return sc, nil
}

// Schedule returns the schedule the scheduler was built from.
func (s *Scheduler) Schedule() *schedule.Schedule { return s.sched }

// Tasks returns the tasks of every occurrence up to until (inclusive), sorted
// by scheduledOn then activity label. No matching anchor event yields an
// empty result.
func (s *Scheduler) Tasks(events event.Snapshot, until time.Time) ([]task.Task, error) {
	anchor, ok := event.ResolveAnchor(s.sched.EventID, events)
	if !ok {
		return nil, nil
	}
	anchor = pinOffset(anchor)

	instants, truncated, err := s.gen.occurrences(anchor, until, s.limit)
	if err != nil {
		return nil, fmt.Errorf("scheduler: generate %q: %w", s.sched.Label, err)
	}
	if truncated {
		s.log.Warn("occurrence limit reached",
			logx.Int("limit", s.limit),
			logx.Time("anchor", anchor),
			logx.Time("until", until),
		)
	}

	var now time.Time
	if s.now != nil {
		now = s.now()
	}
	ordinals := activityOrdinals(s.sched.Activities)
	out := make([]task.Task, 0, len(instants)*len(s.sched.Activities))
	for _, at := range instants {
		if !s.inWindow(at, until) {
			continue
		}
		var expires *time.Time
		if s.sched.Expires != nil {
			e := s.sched.Expires.AddTo(at)
			if !now.IsZero() && e.Before(now) {
				continue
			}
			expires = &e
		}
		for i, act := range s.sched.Activities {
			t := task.Task{
				GUID:             TaskGUID(s.owner, at, act.Ref, ordinals[i]),
				SchedulePlanGUID: s.planGUID,
				Activity:         act,
				ScheduledOn:      at,
			}
			if expires != nil {
				e := *expires
				t.ExpiresOn = &e
			}
			out = append(out, t)
		}
	}
	task.Sort(out)
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("tasks generated",
			logx.Time("anchor", anchor),
			logx.Int("occurrences", len(instants)),
			logx.Int("tasks", len(out)),
		)
	}
	return out, nil
}

func (s *Scheduler) inWindow(at, until time.Time) bool {
	if at.After(until) {
		return false
	}
	if s.sched.StartsOn != nil && at.Before(*s.sched.StartsOn) {
		return false
	}
	if s.sched.EndsOn != nil && at.After(*s.sched.EndsOn) {
		return false
	}
	return true
}
