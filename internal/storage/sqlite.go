package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"studysched/internal/event"
	"studysched/internal/task"
	"studysched/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordEvent(ctx context.Context, participantID, eventID string, at time.Time) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, ErrDisabled
	}
	if participantID == "" || eventID == "" {
		return time.Time{}, errors.New("participant and event id are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(participant, event_id, at, at_ns) VALUES(?,?,?,?)
		 ON CONFLICT(participant, event_id) DO UPDATE SET at=excluded.at, at_ns=excluded.at_ns
		 WHERE excluded.at_ns > events.at_ns`,
		participantID, eventID, at.Format(time.RFC3339Nano), at.UnixNano(),
	)
	if err != nil {
		return time.Time{}, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT at FROM events WHERE participant = ? AND event_id = ?`, participantID, eventID,
	).Scan(&raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (s *sqliteStore) Events(ctx context.Context, participantID string) (event.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, at FROM events WHERE participant = ?`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := event.Snapshot{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", id, err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteEvents(ctx context.Context, participantID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE participant = ?`, participantID)
	return err
}

func (s *sqliteStore) SaveTasks(ctx context.Context, participantID string, tasks []task.Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(tasks) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tasks {
			stored, err := loadTask(ctx, tx, participantID, t.GUID)
			switch {
			case err == nil:
				t.Apply(stored)
			case !errors.Is(err, ErrNotFound):
				return err
			}
			if err := upsertTask(ctx, tx, participantID, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) Tasks(ctx context.Context, participantID string, now time.Time) ([]task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM tasks WHERE participant = ? AND (hides_on_ns IS NULL OR hides_on_ns > ?)`,
		participantID, now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []task.Task
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t task.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	task.Sort(out)
	return out, nil
}

func (s *sqliteStore) Task(ctx context.Context, participantID, guid string) (task.Task, error) {
	if s == nil || s.db == nil {
		return task.Task{}, ErrDisabled
	}
	return loadTask(ctx, s.db, participantID, guid)
}

func (s *sqliteStore) UpdateTasks(ctx context.Context, participantID string, tasks []task.Task) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tasks {
			if !hasProgress(t) {
				continue
			}
			stored, err := loadTask(ctx, tx, participantID, t.GUID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			stored.Apply(t)
			if err := upsertTask(ctx, tx, participantID, stored); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) DeleteTasks(ctx context.Context, participantID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE participant = ?`, participantID)
	return err
}

func (s *sqliteStore) Participants(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT participant FROM events ORDER BY participant`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadTask(ctx context.Context, q queryer, participantID, guid string) (task.Task, error) {
	var body string
	err := q.QueryRowContext(ctx,
		`SELECT body FROM tasks WHERE participant = ? AND guid = ?`, participantID, guid,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	var t task.Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return task.Task{}, fmt.Errorf("task %s: %w", guid, err)
	}
	return t, nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, participantID string, t task.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var hides any
	if t.HidesOn != nil {
		hides = t.HidesOn.UnixNano()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks(participant, guid, scheduled_on_ns, hides_on_ns, body) VALUES(?,?,?,?,?)
		 ON CONFLICT(participant, guid) DO UPDATE SET
		   scheduled_on_ns=excluded.scheduled_on_ns, hides_on_ns=excluded.hides_on_ns, body=excluded.body`,
		participantID, t.GUID, t.ScheduledOn.UnixNano(), hides, string(body),
	)
	return err
}
