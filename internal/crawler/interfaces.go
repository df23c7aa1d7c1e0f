package crawler

import (
	"context"
	"io"
	"time"
)

// TaskStore persists crawl task state. It is the authoritative record read by
// the poll endpoint.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	MarkRunning(ctx context.Context, taskID string, attempt int) error
	CompleteTask(ctx context.Context, taskID string, result []int64) error
	FailTask(ctx context.Context, taskID string, errText string) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Notifier delivers live events for a task. Delivery is best-effort: it
// reports false when nobody is listening and never blocks on absent peers.
type Notifier interface {
	Push(taskID string, evt Event) bool
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
