package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
)

// TaskStore provides an in-memory crawler.TaskStore for development/testing.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]crawler.Task
	now   func() time.Time
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]crawler.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask stores a new task in pending state.
func (s *TaskStore) CreateTask(_ context.Context, task crawler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	if task.State == "" {
		task.State = crawler.TaskPending
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = s.now()
	}
	s.tasks[task.ID] = task
	return nil
}

// MarkRunning records the start of an attempt.
func (s *TaskStore) MarkRunning(_ context.Context, taskID string, attempt int) error {
	return s.update(taskID, func(task *crawler.Task) {
		task.State = crawler.TaskRunning
		task.Attempts = attempt
		if task.StartedAt == nil {
			task.StartedAt = pointerTime(s.now())
		}
	})
}

// CompleteTask stores the result ids and marks the task successful.
func (s *TaskStore) CompleteTask(_ context.Context, taskID string, result []int64) error {
	return s.update(taskID, func(task *crawler.Task) {
		task.State = crawler.TaskSuccess
		task.Result = append(make([]int64, 0, len(result)), result...)
		task.Error = ""
		task.FinishedAt = pointerTime(s.now())
	})
}

// FailTask marks the task failed with errText.
func (s *TaskStore) FailTask(_ context.Context, taskID string, errText string) error {
	return s.update(taskID, func(task *crawler.Task) {
		task.State = crawler.TaskFailure
		task.Error = errText
		task.FinishedAt = pointerTime(s.now())
	})
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, fmt.Errorf("get task %s: %w", taskID, crawler.ErrTaskNotFound)
	}
	task.Result = slices.Clone(task.Result)
	return task, nil
}

func (s *TaskStore) update(taskID string, mutate func(*crawler.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("update task %s: %w", taskID, crawler.ErrTaskNotFound)
	}
	mutate(&task)
	s.tasks[taskID] = task
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
