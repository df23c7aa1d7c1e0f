// Package memory provides the bounded in-process task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = crawler.ErrQueueClosed

// Queue holds submitted and retried crawl tasks for the worker pool. Enqueue
// blocks while the queue is full; once closed, no task is handed out and the
// leftovers can be collected with Drain.
type Queue struct {
	ch        chan crawler.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity tasks.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan crawler.QueueItem, max(capacity, 0)),
		done: make(chan struct{}),
	}
}

// Enqueue adds a task, waiting for room until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if q.closed() {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue task %s: %w", item.TaskID, ctx.Err())
	}
}

// Dequeue waits for the next task. After Close it always returns ErrClosed,
// even while tasks remain buffered.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	if q.closed() {
		return crawler.QueueItem{}, ErrClosed
	}
	select {
	case item := <-q.ch:
		if q.closed() {
			q.putBack(item)
			return crawler.QueueItem{}, ErrClosed
		}
		return item, nil
	case <-q.done:
		return crawler.QueueItem{}, ErrClosed
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Drain removes and returns the tasks still buffered in a closed queue so
// the caller can settle them. It returns nil while the queue is open.
func (q *Queue) Drain() []crawler.QueueItem {
	if !q.closed() {
		return nil
	}
	var left []crawler.QueueItem
	for {
		select {
		case item := <-q.ch:
			left = append(left, item)
		default:
			return left
		}
	}
}

func (q *Queue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// putBack returns a task taken in a race with Close so Drain still sees it.
func (q *Queue) putBack(item crawler.QueueItem) {
	select {
	case q.ch <- item:
	default:
	}
}
