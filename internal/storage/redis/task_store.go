// Package redis stores crawl task state in Redis so API and worker processes
// share one view of every task.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
)

const (
	defaultKeyPrefix = "ondemand:task:"
	maxTxRetries     = 5
)

// Options configures a TaskStore.
type Options struct {
	// KeyPrefix namespaces task keys.
	KeyPrefix string
	// TTL expires task records; zero keeps them forever.
	TTL time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
}

// TaskStore implements crawler.TaskStore on a Redis client. Each task is one
// JSON document; updates use optimistic transactions.
type TaskStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewTaskStore wraps client.
func NewTaskStore(client goredis.UniversalClient, opts Options) *TaskStore {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &TaskStore{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL, now: opts.Now}
}

// NewClient opens a client for addr and verifies it with PING.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *TaskStore) key(taskID string) string {
	return s.prefix + taskID
}

// CreateTask stores a new task in pending state. Existing ids are rejected.
func (s *TaskStore) CreateTask(ctx context.Context, task crawler.Task) error {
	if task.State == "" {
		task.State = crawler.TaskPending
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = s.now()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(task.ID), body, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	if !ok {
		return fmt.Errorf("create task %s: task already exists", task.ID)
	}
	return nil
}

// MarkRunning records the start of an attempt.
func (s *TaskStore) MarkRunning(ctx context.Context, taskID string, attempt int) error {
	return s.update(ctx, taskID, func(task *crawler.Task) {
		task.State = crawler.TaskRunning
		task.Attempts = attempt
		if task.StartedAt == nil {
			now := s.now()
			task.StartedAt = &now
		}
	})
}

// CompleteTask stores the result ids and marks the task successful.
func (s *TaskStore) CompleteTask(ctx context.Context, taskID string, result []int64) error {
	return s.update(ctx, taskID, func(task *crawler.Task) {
		now := s.now()
		task.State = crawler.TaskSuccess
		task.Result = append(make([]int64, 0, len(result)), result...)
		task.Error = ""
		task.FinishedAt = &now
	})
}

// FailTask marks the task failed with errText.
func (s *TaskStore) FailTask(ctx context.Context, taskID string, errText string) error {
	return s.update(ctx, taskID, func(task *crawler.Task) {
		now := s.now()
		task.State = crawler.TaskFailure
		task.Error = errText
		task.FinishedAt = &now
	})
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (crawler.Task, error) {
	body, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return crawler.Task{}, fmt.Errorf("get task %s: %w", taskID, crawler.ErrTaskNotFound)
	}
	if err != nil {
		return crawler.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	var task crawler.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return crawler.Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return task, nil
}

func (s *TaskStore) update(ctx context.Context, taskID string, mutate func(*crawler.Task)) error {
	key := s.key(taskID)
	txf := func(tx *goredis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return crawler.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		var task crawler.Task
		if err := json.Unmarshal(body, &task); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		mutate(&task)
		next, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, goredis.KeepTTL)
			return nil
		})
		return err
	}
	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		return nil
	}
	return fmt.Errorf("update task %s: too much contention", taskID)
}
