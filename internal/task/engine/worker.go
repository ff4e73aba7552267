package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"studysched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedJob, idx int) {
	// Per-worker RNG avoids contention on the global source when many jobs retry.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj := <-queue:
			s.begin(qj.job.Key)
			s.inFlight.Add(1)
			res := s.execOne(ctx, stopCh, qj, rng)
			s.inFlight.Add(-1)
			s.release(qj.job.Key)
			s.report(res)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qj queuedJob, rng *rand.Rand) Result {
	start := time.Now()
	res := Result{Key: qj.job.Key, Name: qj.job.Name, Started: start, QueueDelay: start.Sub(qj.enqueuedAt)}

	maxAttempts := 1 + s.cfg.RetryMax
	var err error
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		err = s.runOnce(ctx, qj)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelayWithHint(s.cfg, attempt, err, rng)
		s.log.Debug("job retry scheduled",
			logx.String("job", qj.job.Name),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopped
			break attemptLoop
		case <-tmr.C:
		}
	}
	res.Duration = time.Since(start)
	res.Err = err
	return res
}

// runOnce converts a panicking job into an error so a worker survives it.
func (s *Service) runOnce(ctx context.Context, qj queuedJob) (err error) {
	runCtx := ctx
	if qj.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qj.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("job", qj.job.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qj.job.Run(runCtx)
}

func (s *Service) report(res Result) {
	if res.Err != nil {
		s.failed.Add(1)
		if s.warnFailed.Allow() {
			s.log.Warn("job failed",
				logx.String("job", res.Name),
				logx.String("key", res.Key),
				logx.Err(res.Err),
				logx.Int("attempts", res.Attempts),
				logx.Duration("dur", res.Duration),
			)
		}
	} else {
		s.completed.Add(1)
		s.log.Debug("job completed",
			logx.String("job", res.Name),
			logx.Duration("queue_delay", res.QueueDelay),
			logx.Duration("dur", res.Duration),
			logx.Int("attempts", res.Attempts),
		)
	}
	s.mu.Lock()
	fn := s.onResult
	s.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func backoffDelayWithHint(cfg Config, retry int, err error, rng *rand.Rand) time.Duration {
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		return jitter(min(ra.RetryAfter(), cfg.RetryMaxDelay), cfg, rng)
	}
	return backoffDelay(cfg, retry, rng)
}

func backoffDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	return jitter(d, cfg, rng)
}

func jitter(d time.Duration, cfg Config, rng *rand.Rand) time.Duration {
	if d <= 0 {
		return 0
	}
	if cfg.RetryJitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return max(0, min(d, cfg.RetryMaxDelay))
}
