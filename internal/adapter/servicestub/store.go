package servicestub

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/domain"
)

var (
	ErrTaskNotFound = errors.New("Task not found")
	ErrTaskFinished = errors.New("Task already finished")
)

// Task is the stub's record of one generation job.
type Task struct {
	ID        string
	Type      string
	Status    domain.Status
	Progress  int
	Error     string
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskStore keeps tasks in memory. Once a task is completed, failed or
// cancelled it no longer changes.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*Task), now: time.Now}
}

func (s *TaskStore) Create(id, taskType string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t := &Task{ID: id, Type: taskType, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
	s.tasks[id] = t
	return *t
}

func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Advance records a progress step. It returns false when the task is gone or
// already finished, which tells the worker to stop.
func (s *TaskStore) Advance(id string, progress int, status domain.Status) bool {
	return s.update(id, func(t *Task) {
		t.Progress = progress
		if status != "" {
			t.Status = status
		}
	})
}

func (s *TaskStore) Complete(id string, result json.RawMessage) bool {
	return s.update(id, func(t *Task) {
		t.Status = domain.StatusCompleted
		t.Progress = 100
		t.Result = result
	})
}

func (s *TaskStore) Fail(id, msg string) bool {
	return s.update(id, func(t *Task) {
		t.Status = domain.StatusFailed
		t.Error = msg
	})
}

// Cancel marks a running task cancelled.
func (s *TaskStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.IsTerminal() {
		return ErrTaskFinished
	}
	t.Status = domain.StatusCancelled
	t.Error = "Cancelled by user"
	t.UpdatedAt = s.now()
	return nil
}

// List returns up to limit tasks, newest first.
func (s *TaskStore) List(limit int) []Task {
	s.mu.RLock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune drops tasks created more than olderThan ago and returns how many
// were removed.
func (s *TaskStore) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	n := 0
	for id, t := range s.tasks {
		if t.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n
}

func (s *TaskStore) update(id string, fn func(*Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return false
	}
	fn(t)
	t.UpdatedAt = s.now()
	return true
}
