// Package worker executes queued crawl tasks and records their outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
	"github.com/JakeFAU/ondemand-crawler/internal/metrics"
	"github.com/JakeFAU/ondemand-crawler/internal/progress"
)

const (
	defaultMaxAttempts = 3
	requeueTimeout     = 5 * time.Second
)

// Runner executes one crawl for a task. A returned error is a task-level
// fault and makes the task eligible for retry.
type Runner interface {
	Run(ctx context.Context, taskID, query string) ([]int64, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how many times a faulted task runs in total.
	MaxAttempts int
	// RetryBackoffBase is doubled per attempt before a task is re-enqueued.
	RetryBackoffBase time.Duration
	// RetryBackoffMax caps the delay between attempts.
	RetryBackoffMax time.Duration
	// Topic receives a completion notice per finished task when set.
	Topic string
}

// Worker consumes queue items and runs the orchestrator for each.
type Worker struct {
	queue     crawler.Queue
	tasks     crawler.TaskStore
	runner    Runner
	retry     crawler.RetryPolicy
	publisher crawler.Publisher
	notifier  crawler.Notifier
	progress  progress.Emitter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher, notifier, and emitter may be nil.
func New(
	queue crawler.Queue,
	tasks crawler.TaskStore,
	runner Runner,
	publisher crawler.Publisher,
	notifier crawler.Notifier,
	emitter progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Worker{
		queue:     queue,
		tasks:     tasks,
		runner:    runner,
		retry:     crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.RetryBackoffBase, cfg.RetryBackoffMax),
		publisher: publisher,
		notifier:  notifier,
		progress:  emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID), zap.Int("attempt", item.Attempt))
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if item.Attempt <= 0 {
		item.Attempt = 1
	}
	logger := w.logger.With(zap.String("task_id", item.TaskID), zap.Int("attempt", item.Attempt))

	if err := w.tasks.MarkRunning(ctx, item.TaskID, item.Attempt); err != nil {
		logger.Error("mark task running failed", zap.Error(err))
		return
	}
	start := w.now()
	w.emit(progress.Event{TaskID: item.TaskID, Stage: progress.StageTaskStart})

	ids, err := w.runSafely(ctx, item)
	dur := w.now().Sub(start)
	if err != nil {
		w.emit(progress.Event{TaskID: item.TaskID, Stage: progress.StageTaskError, Dur: dur, Note: err.Error()})
		w.handleFault(ctx, logger, item, err)
		return
	}

	if err := w.tasks.CompleteTask(ctx, item.TaskID, ids); err != nil {
		logger.Error("complete task failed", zap.Error(err))
		w.handleFault(ctx, logger, item, fmt.Errorf("store result: %w", err))
		return
	}
	w.emit(progress.Event{TaskID: item.TaskID, Stage: progress.StageTaskDone, Dur: dur, Items: len(ids)})
	metrics.ObserveTask(string(crawler.TaskSuccess))
	logger.Info("task succeeded", zap.Int("results", len(ids)), zap.Duration("duration", dur))
	w.publishResult(ctx, logger, item, crawler.TaskSuccess, len(ids))
}

// runSafely invokes the runner, converting panics into task faults.
func (w *Worker) runSafely(ctx context.Context, item crawler.QueueItem) (ids []int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("orchestrator panicked",
				zap.String("task_id", item.TaskID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			ids, err = nil, fmt.Errorf("orchestrator panic: %v", r)
		}
	}()
	return w.runner.Run(ctx, item.TaskID, item.Query)
}

func (w *Worker) handleFault(ctx context.Context, logger *zap.Logger, item crawler.QueueItem, cause error) {
	if ctx.Err() == nil && w.retry.ShouldRetry(cause, item.Attempt) {
		err := w.requeue(ctx, item)
		if err == nil {
			logger.Warn("task faulted, retrying", zap.Error(cause))
			metrics.ObserveTask("retry")
			return
		}
		logger.Error("requeue task failed", zap.Error(err))
	}

	// The task record outlives a shutdown, so it is finalized detached from ctx.
	storeCtx := context.WithoutCancel(ctx)
	if err := w.tasks.FailTask(storeCtx, item.TaskID, cause.Error()); err != nil {
		logger.Error("fail task update failed", zap.Error(err))
	}
	metrics.ObserveTask(string(crawler.TaskFailure))
	logger.Error("task failed", zap.Error(cause))
	if w.notifier != nil {
		w.notifier.Push(item.TaskID, crawler.Event{
			Event:   crawler.EventFailed,
			Payload: map[string]any{"error": cause.Error()},
		})
	}
	w.publishResult(storeCtx, logger, item, crawler.TaskFailure, 0)
}

func (w *Worker) requeue(ctx context.Context, item crawler.QueueItem) error {
	if backoff := w.retry.Backoff(item.Attempt); backoff > 0 {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("requeue canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	next := item
	next.Attempt++
	enqueueCtx, cancel := context.WithTimeout(ctx, requeueTimeout)
	defer cancel()
	if err := w.queue.Enqueue(enqueueCtx, next); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

func (w *Worker) publishResult(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	state crawler.TaskState,
	resultCount int,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := crawler.CompletionNotice{
		TaskID:      item.TaskID,
		Query:       item.Query,
		State:       state,
		ResultCount: resultCount,
		Attempts:    item.Attempt,
		Timestamp:   w.now(),
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish completion notice failed", zap.Error(err))
		return
	}
	logger.Debug("completion notice published", zap.String("message_id", msgID))
}

func (w *Worker) emit(evt progress.Event) {
	if w.progress == nil {
		return
	}
	evt.TS = w.now()
	w.progress.Emit(evt)
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
