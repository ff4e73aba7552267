// Package engine runs refresh jobs on a bounded queue with a fixed worker pool.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"studysched/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Job.Timeout is 0.
	DefaultTimeout time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Job is one unit of work. Jobs sharing a Key never overlap: while one is
// queued, Enqueue rejects the next with ErrOverlapSkip. While one is running
// the next is rejected too, unless it sets Rerun: then it is held and queued
// once the running job finishes. Several such requests collapse into one rerun.
type Job struct {
	Key     string
	Name    string
	Timeout time.Duration
	Rerun   bool
	Run     func(ctx context.Context) error
}

// Result is reported for every finished job.
type Result struct {
	Key        string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Err        error
}

// Snapshot is a diagnostics view.
type Snapshot struct {
	Workers          int
	QueueLen         int
	QueueCap         int
	InFlight         int
	Completed        uint64
	Failed           uint64
	DroppedQueueFull uint64
	SkippedOverlap   uint64
	Reruns           uint64
}

// keyState tracks a key from Enqueue until its job is released.
type keyState struct {
	running bool
	rerun   *Job
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	timeout    time.Duration
}

type Service struct {
	cfg Config
	log logx.Logger

	mu       sync.Mutex
	q        chan queuedJob
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	keys     map[string]*keyState
	onResult func(Result)

	inFlight         atomic.Int32
	completed        atomic.Uint64
	failed           atomic.Uint64
	droppedQueueFull atomic.Uint64
	skippedOverlap   atomic.Uint64
	reruns           atomic.Uint64

	warnQueueFull *rate.Limiter
	warnFailed    *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:           cfg.withDefaults(),
		log:           log.With(logx.String("comp", "engine")),
		keys:          map[string]*keyState{},
		warnQueueFull: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
		warnFailed:    rate.NewLimiter(rate.Every(warnThrottleEvery), 3),
	}
}

// OnResult registers a callback invoked after every job. Call before Start.
func (s *Service) OnResult(fn func(Result)) {
	s.mu.Lock()
	s.onResult = fn
	s.mu.Unlock()
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.q = make(chan queuedJob, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.keys = map[string]*keyState{}
	s.running = true
	stopCh, queue := s.stopCh, s.q
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(idx int) {
			defer s.wg.Done()
			s.worker(ctx, stopCh, queue, idx)
		}(i)
	}
	s.log.Info("engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop signals the workers and waits for running jobs until ctx is done.
// Queued jobs that did not start are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		s.log.Warn("engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue adds a job without blocking.
func (s *Service) Enqueue(j Job) error {
	if j.Run == nil {
		return fmt.Errorf("job Run is nil")
	}
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		j.Name = "job"
	}
	j.Key = strings.TrimSpace(j.Key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrStopped
	}
	if j.Key != "" {
		if st, busy := s.keys[j.Key]; busy {
			if st.running && j.Rerun {
				if st.rerun == nil {
					s.log.Debug("job rerun held", logx.String("job", j.Name), logx.String("key", j.Key))
				}
				st.rerun = &j
				return nil
			}
			s.skippedOverlap.Add(1)
			s.log.Debug("job skipped due to overlap", logx.String("job", j.Name), logx.String("key", j.Key))
			return ErrOverlapSkip
		}
	}
	if err := s.pushLocked(j); err != nil {
		return err
	}
	if j.Key != "" {
		s.keys[j.Key] = &keyState{}
	}
	return nil
}

// pushLocked queues j without blocking. s.mu must be held.
func (s *Service) pushLocked(j Job) error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	select {
	case s.q <- queuedJob{job: j, enqueuedAt: time.Now(), timeout: timeout}:
		return nil
	default:
		s.droppedQueueFull.Add(1)
		if s.warnQueueFull.Allow() {
			s.log.Warn("job dropped: queue full",
				logx.String("job", j.Name),
				logx.String("key", j.Key),
				logx.Int("queue_cap", cap(s.q)),
				logx.Uint64("dropped_queue_full", s.droppedQueueFull.Load()),
			)
		}
		return ErrQueueFull
	}
}

// begin marks key as running once a worker picked its job.
func (s *Service) begin(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	if st := s.keys[key]; st != nil {
		st.running = true
	}
	s.mu.Unlock()
}

// release frees key, or queues the held rerun under the same key.
func (s *Service) release(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.keys[key]
	if st == nil || st.rerun == nil || !s.running {
		delete(s.keys, key)
		return
	}
	next := *st.rerun
	if err := s.pushLocked(next); err != nil {
		delete(s.keys, key)
		return
	}
	s.reruns.Add(1)
	st.running = false
	st.rerun = nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	ql, qc := 0, 0
	if s.q != nil {
		ql, qc = len(s.q), cap(s.q)
	}
	s.mu.Unlock()
	return Snapshot{
		Workers:          s.cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		SkippedOverlap:   s.skippedOverlap.Load(),
		Reruns:           s.reruns.Load(),
	}
}
