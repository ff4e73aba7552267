// Package task holds the Task value object produced by the scheduler and the
// rules for deriving its status and merging it with persisted state.
package task

import (
	"sort"
	"time"

	"studysched/internal/schedule"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusAvailable Status = "available"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusExpired   Status = "expired"
	StatusDeleted   Status = "deleted"
)

// Task is one concrete occurrence of an activity for a participant.
//
// GUID and ScheduledOn are reproducible for the same schedule, anchor,
// occurrence and activity; stores merge on GUID. A nil HidesOn never hides.
type Task struct {
	GUID             string            `json:"guid"`
	SchedulePlanGUID string            `json:"schedulePlanGuid,omitempty"`
	Activity         schedule.Activity `json:"activity"`
	ScheduledOn      time.Time         `json:"scheduledOn"`
	ExpiresOn        *time.Time        `json:"expiresOn,omitempty"`
	HidesOn          *time.Time        `json:"hidesOn,omitempty"`
	StartedOn        *time.Time        `json:"startedOn,omitempty"`
	FinishedOn       *time.Time        `json:"finishedOn,omitempty"`
}

// Status derives the task status at now.
func (t Task) Status(now time.Time) Status {
	switch {
	case t.FinishedOn != nil && t.StartedOn == nil:
		return StatusDeleted
	case t.FinishedOn != nil:
		return StatusFinished
	case t.StartedOn != nil:
		return StatusStarted
	case now.Before(t.ScheduledOn):
		return StatusScheduled
	case t.ExpiresOn != nil && now.After(*t.ExpiresOn):
		return StatusExpired
	default:
		return StatusAvailable
	}
}

// Visible reports whether the task should still be offered at now.
func (t Task) Visible(now time.Time) bool {
	return t.HidesOn == nil || t.HidesOn.After(now)
}

// Start marks the task started. A started task is never hidden.
func (t *Task) Start(at time.Time) {
	t.StartedOn = &at
	t.HidesOn = nil
}

// Finish marks the task finished and hides it from that instant on.
func (t *Task) Finish(at time.Time) {
	t.FinishedOn = &at
	hides := at
	t.HidesOn = &hides
}

// Less orders by ScheduledOn, then activity label.
func Less(a, b Task) bool {
	if !a.ScheduledOn.Equal(b.ScheduledOn) {
		return a.ScheduledOn.Before(b.ScheduledOn)
	}
	return a.Activity.Label < b.Activity.Label
}

// Sort orders tasks in place; equal tasks keep their relative order.
func Sort(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return Less(tasks[i], tasks[j]) })
}

// Merge carries startedOn/finishedOn from persisted copies onto freshly
// generated tasks with the same GUID. Generated tasks without a persisted
// copy are returned unchanged.
func Merge(generated, persisted []Task) []Task {
	if len(persisted) == 0 {
		return generated
	}
	byGUID := make(map[string]Task, len(persisted))
	for _, p := range persisted {
		byGUID[p.GUID] = p
	}
	out := make([]Task, len(generated))
	for i, g := range generated {
		if p, ok := byGUID[g.GUID]; ok {
			g.Apply(p)
		}
		out[i] = g
	}
	return out
}

// Apply copies participant progress from src onto t.
func (t *Task) Apply(src Task) {
	if src.StartedOn != nil {
		t.Start(*src.StartedOn)
	}
	if src.FinishedOn != nil {
		t.Finish(*src.FinishedOn)
	}
}
