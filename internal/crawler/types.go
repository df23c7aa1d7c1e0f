// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"time"
)

// TaskState represents the lifecycle state of a crawl task.
type TaskState string

// Task states persisted in the task store.
const (
	TaskPending TaskState = "PENDING"
	TaskRunning TaskState = "RUNNING"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

var (
	// ErrTaskNotFound is returned by TaskStore lookups for unknown ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueClosed is returned by a Queue that has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// Task is one query-triggered orchestration run.
type Task struct {
	ID          string     `json:"id"`
	Query       string     `json:"query"`
	State       TaskState  `json:"state"`
	Result      []int64    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID    string
	Query     string
	Attempt   int
	Submitted int64
}

// CompletionNotice is published when a task reaches a terminal state.
type CompletionNotice struct {
	TaskID      string    `json:"task_id"`
	Query       string    `json:"query"`
	State       TaskState `json:"state"`
	ResultCount int       `json:"result_count"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// Attributes exposes routing fields to message brokers that filter on them.
func (n CompletionNotice) Attributes() map[string]string {
	return map[string]string{"task_id": n.TaskID, "state": string(n.State)}
}

// Event is a best-effort message pushed to a live subscriber of a task.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Live event names.
const (
	EventContent      = "content"
	EventSourceFailed = "source_failed"
	EventSourceDone   = "source_done"
	EventCompleted    = "completed"
	EventFailed       = "failed"
)
