package storage

import (
	"sort"
	"time"

	"studysched/internal/event"
	"studysched/internal/task"
)

type participantState struct {
	Events event.Snapshot       `json:"events,omitempty"`
	Tasks  map[string]task.Task `json:"tasks,omitempty"`
}

// state is the in-memory model shared by the memory and file drivers.
// Callers hold the store mutex.
type state map[string]*participantState

func (s state) participant(id string) *participantState {
	p := s[id]
	if p == nil {
		p = &participantState{}
		s[id] = p
	}
	return p
}

func (s state) recordEvent(pid, eventID string, at time.Time) (time.Time, bool) {
	p := s.participant(pid)
	if p.Events == nil {
		p.Events = event.Snapshot{}
	}
	cur, ok := p.Events[eventID]
	kept := event.Later(cur, at)
	if ok && kept.Equal(cur) {
		return cur, false
	}
	p.Events[eventID] = kept
	return kept, true
}

func (s state) saveTasks(pid string, tasks []task.Task) {
	p := s.participant(pid)
	if p.Tasks == nil {
		p.Tasks = make(map[string]task.Task, len(tasks))
	}
	for _, t := range tasks {
		if stored, ok := p.Tasks[t.GUID]; ok {
			t.Apply(stored)
		}
		p.Tasks[t.GUID] = t
	}
}

func (s state) updateTasks(pid string, tasks []task.Task) int {
	p := s[pid]
	if p == nil {
		return 0
	}
	n := 0
	for _, t := range tasks {
		if !hasProgress(t) {
			continue
		}
		stored, ok := p.Tasks[t.GUID]
		if !ok {
			continue
		}
		stored.Apply(t)
		p.Tasks[t.GUID] = stored
		n++
	}
	return n
}

func (s state) deleteTasks(pid string) {
	if p := s[pid]; p != nil {
		p.Tasks = nil
	}
}

func (s state) deleteEvents(pid string) {
	if p := s[pid]; p != nil {
		p.Events = nil
	}
}

func (s state) events(pid string) event.Snapshot {
	out := event.Snapshot{}
	if p := s[pid]; p != nil {
		for k, v := range p.Events {
			out[k] = v
		}
	}
	return out
}

func (s state) visible(pid string, now time.Time) []task.Task {
	p := s[pid]
	if p == nil {
		return nil
	}
	out := make([]task.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.Visible(now) {
			out = append(out, t)
		}
	}
	task.Sort(out)
	return out
}

func (s state) get(pid, guid string) (task.Task, bool) {
	p := s[pid]
	if p == nil {
		return task.Task{}, false
	}
	t, ok := p.Tasks[guid]
	return t, ok
}

func (s state) participants() []string {
	out := make([]string, 0, len(s))
	for id, p := range s {
		if len(p.Events) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
