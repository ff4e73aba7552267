package app

import (
	"errors"
	"fmt"
	"sync/atomic"

	"studysched/internal/config"
	"studysched/internal/plan"
	"studysched/internal/task/scheduler"
)

// planSet holds the plans in force; config reloads swap it atomically.
type planSet struct {
	cur atomic.Pointer[[]*plan.Plan]
}

func (p *planSet) get() []*plan.Plan {
	if v := p.cur.Load(); v != nil {
		return *v
	}
	return nil
}

func (p *planSet) set(plans []*plan.Plan) { p.cur.Store(&plans) }

// loadPlans reads and validates every plan in cfg. Any invalid plan rejects
// the whole set.
func loadPlans(cfg *config.Config, dir string) ([]*plan.Plan, error) {
	plans, err := cfg.LoadPlans(dir)
	if err != nil {
		return nil, err
	}
	var errs []error
	for i, p := range plans {
		if err := p.Validate(scheduler.QuartzCron{}); err != nil {
			errs = append(errs, fmt.Errorf("plan %d (%s): %w", i, p.GUID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return plans, nil
}
