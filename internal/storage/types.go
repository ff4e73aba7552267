package storage

import (
	"context"
	"errors"
	"time"

	"studysched/internal/event"
	"studysched/internal/task"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite". "none" disables
// storage and Open returns ErrDisabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the refresh service.
type Store interface {
	// RecordEvent stores at for eventID unless a later timestamp is already
	// stored. It returns the timestamp kept.
	RecordEvent(ctx context.Context, participantID, eventID string, at time.Time) (time.Time, error)
	Events(ctx context.Context, participantID string) (event.Snapshot, error)
	DeleteEvents(ctx context.Context, participantID string) error

	// SaveTasks upserts tasks by GUID, keeping stored progress.
	SaveTasks(ctx context.Context, participantID string, tasks []task.Task) error
	// Tasks returns the participant's tasks visible at now, sorted.
	Tasks(ctx context.Context, participantID string, now time.Time) ([]task.Task, error)
	// Task returns one stored task or ErrNotFound.
	Task(ctx context.Context, participantID, guid string) (task.Task, error)
	// UpdateTasks copies startedOn/finishedOn onto stored tasks with the same
	// GUID. Unknown GUIDs are skipped. It returns how many tasks changed.
	UpdateTasks(ctx context.Context, participantID string, tasks []task.Task) (int, error)
	DeleteTasks(ctx context.Context, participantID string) error

	// Participants lists every participant with stored events, sorted.
	Participants(ctx context.Context) ([]string, error)
	Close() error
}

// hasProgress reports whether t carries anything UpdateTasks would copy.
func hasProgress(t task.Task) bool {
	return t.StartedOn != nil || t.FinishedOn != nil
}
