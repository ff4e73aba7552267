// Package refresh regenerates a participant's tasks from the configured plans
// and merges them into the store under a per-participant lock.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studysched/internal/eventbus"
	"studysched/internal/lock"
	"studysched/internal/plan"
	"studysched/internal/storage"
	"studysched/internal/task"
	"studysched/internal/task/scheduler"
	"studysched/pkg/logx"
)

const DefaultLookahead = 4 * 24 * time.Hour

// PlanSource returns the plans currently in force.
type PlanSource func() []*plan.Plan

type Options struct {
	Store  storage.Store
	Locker lock.Locker
	Bus    eventbus.Bus
	Plans  PlanSource
	Cron   scheduler.CronEvaluator
	Log    logx.Logger

	// Now defaults to time.Now. Lookahead is how far past now tasks are generated.
	Now       func() time.Time
	Lookahead time.Duration
	LockTTL   time.Duration
}

type Service struct {
	store  storage.Store
	locker lock.Locker
	bus    eventbus.Bus
	plans  PlanSource
	cron   scheduler.CronEvaluator
	log    logx.Logger

	now       func() time.Time
	lookahead time.Duration
	lockTTL   time.Duration
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("refresh: store is required")
	}
	if opts.Plans == nil {
		return nil, errors.New("refresh: plan source is required")
	}
	s := &Service{
		store:     opts.Store,
		locker:    opts.Locker,
		bus:       opts.Bus,
		plans:     opts.Plans,
		cron:      opts.Cron,
		log:       opts.Log,
		now:       opts.Now,
		lookahead: opts.Lookahead,
		lockTTL:   opts.LockTTL,
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.cron == nil {
		s.cron = scheduler.QuartzCron{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lookahead <= 0 {
		s.lookahead = DefaultLookahead
	}
	if s.lockTTL <= 0 {
		s.lockTTL = lock.DefaultTTL
	}
	s.log = s.log.With(logx.String("comp", "refresh"))
	return s, nil
}

// Refresh regenerates the participant's tasks up to now+lookahead, saves them
// merged with stored progress and returns the tasks visible now. It fails
// with lock.ErrHeld when another refresh of the same participant is running.
func (s *Service) Refresh(ctx context.Context, participantID string) ([]task.Task, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, errors.New("refresh: participant id is required")
	}
	var visible []task.Task
	err := lock.With(ctx, s.locker, lock.ParticipantKey(participantID), s.lockTTL, func(ctx context.Context) error {
		var err error
		visible, err = s.refreshLocked(ctx, participantID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", participantID, err)
	}
	return visible, nil
}

func (s *Service) refreshLocked(ctx context.Context, participantID string) ([]task.Task, error) {
	events, err := s.store.Events(ctx, participantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	until := now.Add(s.lookahead)
	clock := func() time.Time { return now }
	log := s.log.With(logx.String("participant", participantID))

	var generated []task.Task
	for _, p := range s.plans() {
		sched := p.ScheduleFor(participantID)
		if sched == nil {
			continue
		}
		sc, err := scheduler.New(p.GUID, sched,
			scheduler.WithCron(s.cron),
			scheduler.WithClock(clock),
			scheduler.WithLogger(log),
		)
		if err != nil {
			log.Warn("plan skipped", logx.String("plan", p.GUID), logx.Err(err))
			continue
		}
		tasks, err := sc.Tasks(events, until)
		if err != nil {
			return nil, err
		}
		generated = append(generated, tasks...)
	}

	if err := s.store.SaveTasks(ctx, participantID, generated); err != nil {
		return nil, err
	}
	visible, err := s.store.Tasks(ctx, participantID, now)
	if err != nil {
		return nil, err
	}
	log.Debug("tasks refreshed", logx.Int("generated", len(generated)), logx.Int("visible", len(visible)))
	s.publish(eventbus.Event{Type: eventbus.TasksRefreshed, Participant: participantID, Time: now})
	return visible, nil
}

// RecordEvent stores an event for the participant and announces it so the
// daemon refreshes that participant. Timestamps never move backward.
func (s *Service) RecordEvent(ctx context.Context, participantID, eventID string, at time.Time) error {
	kept, err := s.store.RecordEvent(ctx, participantID, eventID, at)
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", eventID, participantID, err)
	}
	if !kept.Equal(at) {
		s.log.Debug("older event ignored",
			logx.String("participant", participantID),
			logx.String("event", eventID),
			logx.Time("kept", kept),
		)
		return nil
	}
	s.publish(eventbus.Event{Type: eventbus.EventRecorded, Participant: participantID, EventID: eventID, Time: at})
	return nil
}

// StartTask marks a stored task started.
func (s *Service) StartTask(ctx context.Context, participantID, guid string, at time.Time) error {
	return s.update(ctx, participantID, task.Task{GUID: guid, StartedOn: &at})
}

// FinishTask marks a stored task finished and records the task's completion
// event, which chained schedules anchor on.
func (s *Service) FinishTask(ctx context.Context, participantID, guid string, at time.Time) error {
	stored, err := s.store.Task(ctx, participantID, guid)
	if err != nil {
		return fmt.Errorf("finish %s: %w", guid, err)
	}
	if err := s.update(ctx, participantID, task.Task{GUID: guid, FinishedOn: &at}); err != nil {
		return err
	}
	if stored.Activity.Ref != "" {
		return s.RecordEvent(ctx, participantID, completionEvent(stored), at)
	}
	return nil
}

func (s *Service) update(ctx context.Context, participantID string, t task.Task) error {
	n, err := s.store.UpdateTasks(ctx, participantID, []task.Task{t})
	if err != nil {
		return fmt.Errorf("update %s: %w", t.GUID, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", t.GUID, storage.ErrNotFound)
	}
	return nil
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
