package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"studysched/internal/event"
	"studysched/internal/task"
	"studysched/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps all state in memory. With a journal attached it is the
// "file" driver:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal of mutations)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close. Without a journal it is the "memory" driver.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	state state

	snapshotPath string
	journal      *os.File
	writes       int
	closed       bool
}

const (
	opEvent        = "event"
	opSave         = "save"
	opUpdate       = "update"
	opDeleteTasks  = "delete_tasks"
	opDeleteEvents = "delete_events"
)

type journalRecord struct {
	Op          string      `json:"op"`
	Participant string      `json:"participant"`
	EventID     string      `json:"eventId,omitempty"`
	At          time.Time   `json:"at,omitzero"`
	Tasks       []task.Task `json:"tasks,omitempty"`
}

func newMemory(log logx.Logger) *fileStore {
	return &fileStore{log: log, state: state{}}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := newMemory(log)
	s.snapshotPath = prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	if err := loadSnapshot(s.snapshotPath, s.state); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	replayed, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened",
		logx.String("snapshot", s.snapshotPath),
		logx.Int("participants", len(s.state)),
		logx.Int("replayed", replayed),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journal.Close()
	s.journal = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) RecordEvent(ctx context.Context, participantID, eventID string, at time.Time) (time.Time, error) {
	_ = ctx
	if participantID == "" || eventID == "" {
		return time.Time{}, errors.New("participant and event id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return time.Time{}, err
	}
	kept, changed := s.state.recordEvent(participantID, eventID, at)
	if !changed {
		return kept, nil
	}
	return kept, s.appendLocked(journalRecord{Op: opEvent, Participant: participantID, EventID: eventID, At: at})
}

func (s *fileStore) Events(ctx context.Context, participantID string) (event.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s.state.events(participantID), nil
}

func (s *fileStore) DeleteEvents(ctx context.Context, participantID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return err
	}
	s.state.deleteEvents(participantID)
	return s.appendLocked(journalRecord{Op: opDeleteEvents, Participant: participantID})
}

func (s *fileStore) SaveTasks(ctx context.Context, participantID string, tasks []task.Task) error {
	_ = ctx
	if len(tasks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return err
	}
	s.state.saveTasks(participantID, tasks)
	return s.appendLocked(journalRecord{Op: opSave, Participant: participantID, Tasks: tasks})
}

func (s *fileStore) Tasks(ctx context.Context, participantID string, now time.Time) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s.state.visible(participantID, now), nil
}

func (s *fileStore) Task(ctx context.Context, participantID, guid string) (task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return task.Task{}, err
	}
	t, ok := s.state.get(participantID, guid)
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return t, nil
}

func (s *fileStore) UpdateTasks(ctx context.Context, participantID string, tasks []task.Task) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return 0, err
	}
	n := s.state.updateTasks(participantID, tasks)
	if n == 0 {
		return 0, nil
	}
	return n, s.appendLocked(journalRecord{Op: opUpdate, Participant: participantID, Tasks: tasks})
}

func (s *fileStore) DeleteTasks(ctx context.Context, participantID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return err
	}
	s.state.deleteTasks(participantID)
	return s.appendLocked(journalRecord{Op: opDeleteTasks, Participant: participantID})
}

func (s *fileStore) Participants(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s.state.participants(), nil
}

func (s *fileStore) openLocked() error {
	if s.closed {
		return errors.New("store closed")
	}
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return nil
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) apply(r journalRecord) {
	switch r.Op {
	case opEvent:
		s.state.recordEvent(r.Participant, r.EventID, r.At)
	case opSave:
		s.state.saveTasks(r.Participant, r.Tasks)
	case opUpdate:
		s.state.updateTasks(r.Participant, r.Tasks)
	case opDeleteTasks:
		s.state.deleteTasks(r.Participant)
	case opDeleteEvents:
		s.state.deleteEvents(r.Participant)
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m state
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return nil
}

func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Participant == "" {
			continue
		}
		s.apply(r)
		n++
	}
	return n, sc.Err()
}
