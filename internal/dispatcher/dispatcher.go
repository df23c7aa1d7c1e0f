// Package dispatcher runs the fixed pool of crawl workers over the task queue.
package dispatcher

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// restartDelay spaces out restarts of a worker that keeps panicking.
const restartDelay = 100 * time.Millisecond

// Runner consumes the queue until it is closed or ctx ends. worker.Worker
// satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the worker goroutines. Shutdown is driven from outside:
// closing the queue lets each worker finish its current task and return,
// while canceling ctx aborts in-flight crawls.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
	running atomic.Int32
}

// New creates a Dispatcher over workers.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts every worker and blocks until all of them have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.supervise(ctx, i, w)
		}()
	}
	wg.Wait()
	d.logger.Info("workers stopped")
}

// Running reports how many workers are currently inside Run.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// supervise reruns w after a panic. A worker that returns normally is done.
func (d *Dispatcher) supervise(ctx context.Context, index int, w Runner) {
	for {
		if !d.runOnce(ctx, index, w) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context, index int, w Runner) (panicked bool) {
	d.running.Add(1)
	defer d.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker panicked, restarting",
				zap.Int("index", index),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			panicked = true
		}
	}()
	w.Run(ctx)
	return false
}
