// Package trigger decides when participants are refreshed: a periodic sweep
// over every known participant plus an immediate refresh whenever an event
// is recorded for one of them.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"studysched/internal/eventbus"
	"studysched/internal/lock"
	"studysched/internal/task"
	"studysched/internal/task/engine"
	"studysched/pkg/logx"
)

// DefaultEvery is used when Config.Every is empty.
const DefaultEvery = "@every 15m"

// heldRetry is the retry hint when another instance holds a participant lock.
const heldRetry = 2 * time.Second

type Config struct {
	Every      string
	Timezone   string // IANA name; empty means local time
	JobTimeout time.Duration

	// Instance spreads sweeps of daemons sharing a store: each instance id is
	// offset by up to 30s. Empty means "<hostname>:<pid>".
	Instance string
}

// Refresher regenerates one participant's tasks.
type Refresher interface {
	Refresh(ctx context.Context, participantID string) ([]task.Task, error)
}

// Enqueuer accepts refresh jobs. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(engine.Job) error
}

// Participants lists every participant that should be swept.
type Participants func(ctx context.Context) ([]string, error)

type Deps struct {
	Refresher    Refresher
	Engine       Enqueuer
	Participants Participants
	Bus          eventbus.Bus
	Log          logx.Logger
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	deps Deps
	log  logx.Logger

	parser          cron.Parser
	defaultInstance string
	c               *cron.Cron
	entry  cron.EntryID

	jobTimeout atomic.Int64

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Refresher == nil || deps.Engine == nil {
		return nil, errors.New("trigger: refresher and engine are required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logx.String("comp", "trigger")),
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:          cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defaultInstance: defaultInstance(),
	}
	if _, err := s.schedule(cfg); err != nil {
		return nil, err
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return nil, err
	}
	s.jobTimeout.Store(int64(cfg.JobTimeout))
	return s, nil
}

// Start begins the periodic sweep and, when a bus is set, listens for
// recorded events. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	if err := s.startCronLocked(); err != nil {
		s.cancel()
		return err
	}
	if s.deps.Bus != nil {
		ch, unsub := s.deps.Bus.Subscribe(64, eventbus.EventRecorded)
		runCtx := s.runCtx
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsub()
			s.listen(runCtx, ch)
		}()
	}
	return nil
}

// Stop halts the sweep and the event listener. Jobs already enqueued are
// left to the engine.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	stopped := s.c.Stop()
	s.c = nil
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.wg.Wait()
	s.log.Info("trigger stopped")
}

// Apply replaces the sweep schedule and timezone. A running sweep is
// restarted with the new settings.
func (s *Service) Apply(cfg Config) error {
	if _, err := s.schedule(cfg); err != nil {
		return err
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	s.jobTimeout.Store(int64(cfg.JobTimeout))
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || (strings.TrimSpace(old.Every) == strings.TrimSpace(cfg.Every) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone)) {
		return nil
	}
	<-s.c.Stop().Done()
	return s.startCronLocked()
}

// Next returns the next sweep time, or zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Kick enqueues a refresh for one participant. A refresh already queued for
// the same participant absorbs the request. If one is running, it read its
// events before this call, so exactly one more refresh follows it.
func (s *Service) Kick(participantID string) error {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return errors.New("trigger: participant id is required")
	}
	err := s.deps.Engine.Enqueue(engine.Job{
		Key:     "refresh:" + participantID,
		Name:    "refresh",
		Timeout: time.Duration(s.jobTimeout.Load()),
		Rerun:   true,
		Run: func(ctx context.Context) error {
			_, err := s.deps.Refresher.Refresh(ctx, participantID)
			if errors.Is(err, lock.ErrHeld) {
				return engine.RetryAfter(err, heldRetry)
			}
			return err
		},
	})
	if errors.Is(err, engine.ErrOverlapSkip) {
		return nil
	}
	return err
}

// Sweep kicks every known participant and returns how many were enqueued.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s.deps.Participants == nil {
		return 0, nil
	}
	ids, err := s.deps.Participants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list participants: %w", err)
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if err := s.Kick(id); err != nil {
			if errors.Is(err, engine.ErrQueueFull) || errors.Is(err, engine.ErrStopped) {
				return n, err
			}
			s.log.Warn("refresh not enqueued", logx.String("participant", id), logx.Err(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) listen(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Kick(ev.Participant); err != nil {
				s.log.Warn("event refresh not enqueued",
					logx.String("participant", ev.Participant),
					logx.String("event", ev.EventID),
					logx.Err(err),
				)
			}
		}
	}
}

func (s *Service) startCronLocked() error {
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	sched, err := s.schedule(s.cfg)
	if err != nil {
		return err
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	runCtx := s.runCtx
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() {
		n, err := s.Sweep(runCtx)
		if err != nil && runCtx.Err() == nil {
			s.log.Warn("sweep incomplete", logx.Int("enqueued", n), logx.Err(err))
			return
		}
		s.log.Debug("sweep enqueued", logx.Int("participants", n))
	}))
	s.c.Start()
	s.log.Info("trigger started",
		logx.String("every", s.every(s.cfg)),
		logx.String("tz", loc.String()),
		logx.Time("next", sched.Next(time.Now().In(loc))),
	)
	return nil
}

func (s *Service) instance(cfg Config) string {
	if v := strings.TrimSpace(cfg.Instance); v != "" {
		return v
	}
	return s.defaultInstance
}

func (s *Service) every(cfg Config) string {
	if v := strings.TrimSpace(cfg.Every); v != "" {
		return v
	}
	return DefaultEvery
}

func (s *Service) schedule(cfg Config) (cron.Schedule, error) {
	spec, err := ParseSpec(s.every(cfg))
	if err != nil {
		return nil, err
	}
	if spec.Kind == SpecInterval {
		sched, _ := spread(newAlignedEvery(spec.Every), spec.Every, s.instance(cfg))
		return sched, nil
	}
	sched, err := s.parser.Parse(spec.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh cron %q: %w", spec.Cron, err)
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		sched, _ = spread(newAlignedEvery(every.Delay), every.Delay, s.instance(cfg))
		return sched, nil
	}
	sched, _ = spread(sched, 0, s.instance(cfg))
	return sched, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh timezone %q: %w", name, err)
	}
	return loc, nil
}
