// Package app wires the studysched daemon: config, logging, store, locks,
// the refresh engine and its triggers.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"studysched/internal/config"
	"studysched/internal/eventbus"
	"studysched/internal/lock"
	"studysched/internal/plan"
	"studysched/internal/runtime/supervisor"
	"studysched/internal/services/refresh"
	"studysched/internal/services/trigger"
	"studysched/internal/storage"
	"studysched/internal/task/engine"
	"studysched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	locker  lock.Locker
	plans   *planSet
	engine  *engine.Service
	refresh *refresh.Service
	trigger *trigger.Service
}

// NewApp loads cfgPath and builds every component without starting any.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogConfig(cfg))
	a, err := build(cfgm, cfg, logs, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.Manager, cfg *config.Config, logs *logx.Service, log logx.Logger) (*App, error) {
	plans, err := loadPlans(cfg, cfgm.Dir())
	if err != nil {
		return nil, err
	}
	ps := &planSet{}
	ps.set(plans)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	lc, err := mapLockConfig(cfg)
	if err != nil {
		return nil, err
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	lookahead, err := mapLookahead(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	locker, err := lock.Open(lc, log.With(logx.String("comp", "lock")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open lock: %w", err)
	}

	bus := eventbus.New()
	eng := engine.New(ec, log)
	ref, err := refresh.New(refresh.Options{
		Store:     store,
		Locker:    locker,
		Bus:       bus,
		Plans:     ps.get,
		Log:       log,
		Lookahead: lookahead,
		LockTTL:   lc.TTL,
	})
	if err != nil {
		_ = locker.Close()
		_ = store.Close()
		return nil, err
	}
	tc := mapTriggerConfig(cfg)
	tc.JobTimeout = ec.DefaultTimeout
	trg, err := trigger.New(tc, trigger.Deps{
		Refresher:    ref,
		Engine:       eng,
		Participants: store.Participants,
		Bus:          bus,
		Log:          log,
	})
	if err != nil {
		_ = locker.Close()
		_ = store.Close()
		return nil, err
	}

	log.Info("app configured",
		logx.String("storage", sc.Driver),
		logx.String("lock", lockDriver(lc)),
		logx.Int("plans", len(plans)),
		logx.Int("workers", ec.Workers),
	)
	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     bus,
		store:   store,
		locker:  locker,
		plans:   ps,
		engine:  eng,
		refresh: ref,
		trigger: trg,
	}, nil
}

// Refresh exposes the refresh service for in-process callers.
func (a *App) Refresh() *refresh.Service { return a.refresh }

// Plans returns the plans currently in force.
func (a *App) Plans() []*plan.Plan { return a.plans.get() }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := loadPlans(cfg, a.cfgm.Dir()); err != nil {
			return err
		}
		if _, err := trigger.New(mapTriggerConfig(cfg), trigger.Deps{Refresher: a.refresh, Engine: a.engine}); err != nil {
			return err
		}
		_, err := mapLookahead(cfg)
		return err
	})

	a.engine.OnResult(func(res engine.Result) {
		if res.Err != nil && errors.Is(res.Err, lock.ErrHeld) {
			a.log.Debug("refresh skipped; participant locked elsewhere", logx.String("key", res.Key))
		}
	})
	a.engine.Start(runCtx)
	if err := a.trigger.Start(runCtx); err != nil {
		return err
	}

	// Refresh everyone once at startup instead of waiting for the first tick.
	a.sup.Go("refresh.initial", func(c context.Context) error {
		n, err := a.trigger.Sweep(c)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("initial sweep incomplete", logx.Int("enqueued", n), logx.Err(err))
			return nil
		}
		a.log.Info("initial sweep enqueued", logx.Int("participants", n))
		return nil
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.String("participant", e.Participant), logx.String("event", e.EventID))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if a.sup.Err() == nil {
		sdNotify(a.log, daemon.SdNotifyReady)
	}
	a.log.Info("app started", logx.Time("next_sweep", a.trigger.Next()))
	return nil
}

// applyConfig applies a reloaded config. Storage, lock and engine changes
// need a restart; everything else is live.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "refresh":
			if err := a.trigger.Apply(mapTriggerConfig(newCfg)); err != nil {
				a.log.Warn("invalid refresh config; keeping previous", logx.Err(err))
			}
		case "plans":
			plans, err := loadPlans(newCfg, a.cfgm.Dir())
			if err != nil {
				a.log.Warn("invalid plans; keeping previous", logx.Err(err))
				continue
			}
			a.plans.set(plans)
			if n, err := a.trigger.Sweep(ctx); err != nil {
				a.log.Warn("plan change sweep incomplete", logx.Int("enqueued", n), logx.Err(err))
			}
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("trigger", 2*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("lock", time.Second, func(context.Context) error { return a.locker.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Any("engine", a.engine.Snapshot()))
	return a.logs.Close()
}

func lockDriver(lc lock.Config) string {
	if d := strings.TrimSpace(lc.Driver); d != "" {
		return d
	}
	return "memory"
}
