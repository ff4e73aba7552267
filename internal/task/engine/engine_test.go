package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysched/pkg/logx"
)

func newTestEngine(t *testing.T, cfg Config) (*Service, <-chan Result) {
	t.Helper()
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Millisecond
	}
	s := New(cfg, logx.Nop())
	results := make(chan Result, 16)
	s.OnResult(func(r Result) { results <- r })
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, results
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job result")
		return Result{}
	}
}

func TestRunsJob(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1})
	require.NoError(t, s.Enqueue(Job{Key: "participant:p1", Name: "refresh", Run: func(context.Context) error { return nil }}))

	r := waitResult(t, results)
	assert.NoError(t, r.Err)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, "participant:p1", r.Key)
	assert.Equal(t, uint64(1), s.Snapshot().Completed)
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	require.NoError(t, s.Enqueue(Job{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}))

	r := waitResult(t, results)
	assert.NoError(t, r.Err)
	assert.Equal(t, 3, r.Attempts)
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1, RetryMax: 5})
	permanent := errors.New("bad plan")
	require.NoError(t, s.Enqueue(Job{Name: "bad", Run: func(context.Context) error { return NoRetry(permanent) }}))

	r := waitResult(t, results)
	assert.True(t, errors.Is(r.Err, permanent))
	assert.False(t, IsNoRetry(r.Err))
	assert.Equal(t, 1, r.Attempts)
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1})
	require.NoError(t, s.Enqueue(Job{Name: "boom", Run: func(context.Context) error { panic("boom") }}))
	r := waitResult(t, results)
	assert.ErrorContains(t, r.Err, "panic: boom")

	require.NoError(t, s.Enqueue(Job{Name: "after", Run: func(context.Context) error { return nil }}))
	assert.NoError(t, waitResult(t, results).Err)
}

func TestSameKeyIsSkippedWhileBusy(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Job{Key: "k", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	err := s.Enqueue(Job{Key: "k", Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrOverlapSkip))
	close(release)
	waitResult(t, results)

	require.NoError(t, s.Enqueue(Job{Key: "k", Run: func(context.Context) error { return nil }}))
	waitResult(t, results)
	assert.Equal(t, uint64(1), s.Snapshot().SkippedOverlap)
}

func TestRunningKeyRerunsOnce(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Job{Key: "k", Rerun: true, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	var reruns atomic.Int32
	rerun := Job{Key: "k", Rerun: true, Run: func(context.Context) error {
		reruns.Add(1)
		return nil
	}}
	require.NoError(t, s.Enqueue(rerun))
	require.NoError(t, s.Enqueue(rerun))
	close(release)

	waitResult(t, results)
	waitResult(t, results)
	select {
	case r := <-results:
		t.Fatalf("unexpected third run: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), reruns.Load())
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Reruns)
	assert.Equal(t, uint64(0), snap.SkippedOverlap)

	// the key is free again once the rerun finished
	require.NoError(t, s.Enqueue(Job{Key: "k", Run: func(context.Context) error { return nil }}))
	waitResult(t, results)
}

func TestQueuedKeyAbsorbsRerun(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Job{Key: "a", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	// "b" waits behind "a", so a second request for it is already covered
	require.NoError(t, s.Enqueue(Job{Key: "b", Rerun: true, Run: func(context.Context) error { return nil }}))
	err := s.Enqueue(Job{Key: "b", Rerun: true, Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrOverlapSkip))
	close(release)
	waitResult(t, results)
	waitResult(t, results)
	assert.Equal(t, uint64(0), s.Snapshot().Reruns)
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s, _ := newTestEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, s.Enqueue(Job{Run: func(context.Context) error { close(started); <-block; return nil }}))
	<-started
	require.NoError(t, s.Enqueue(Job{Run: func(context.Context) error { return nil }}))

	err := s.Enqueue(Job{Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, uint64(1), s.Snapshot().DroppedQueueFull)
}

func TestTimeoutCancelsJob(t *testing.T) {
	t.Parallel()
	s, results := newTestEngine(t, Config{Workers: 1, DefaultTimeout: 10 * time.Millisecond})
	require.NoError(t, s.Enqueue(Job{Run: func(ctx context.Context) error {
		<-ctx.Done()
		return NoRetry(ctx.Err())
	}}))
	r := waitResult(t, results)
	assert.True(t, errors.Is(r.Err, context.DeadlineExceeded))
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	assert.True(t, errors.Is(s.Enqueue(Job{Run: func(context.Context) error { return nil }}), ErrStopped))

	s.Start(context.Background())
	s.Stop(context.Background())
	assert.True(t, errors.Is(s.Enqueue(Job{Run: func(context.Context) error { return nil }}), ErrStopped))
}

func TestBackoffRespectsHintAndCap(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}.withDefaults()
	for retry := 1; retry <= 6; retry++ {
		d := backoffDelay(cfg, retry, nil)
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Equal(t, 400*time.Millisecond, backoffDelay(cfg, 3, nil))

	hinted := backoffDelayWithHint(cfg, 1, RetryAfter(errors.New("held"), 10*time.Second), nil)
	assert.Equal(t, time.Second, hinted)
}
