package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
	queueMemory "github.com/JakeFAU/ondemand-crawler/internal/queue/memory"
)

func TestDispatcherDrainsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := queueMemory.NewQueue(4)
	var handled atomic.Int32
	release := make(chan struct{})
	runners := []Runner{
		&queueRunner{queue: queue, handled: &handled, release: release},
		&queueRunner{queue: queue, handled: &handled, release: release},
	}
	d := New(runners, zap.NewNop())

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	require.NoError(t, queue.Enqueue(context.Background(), crawler.QueueItem{TaskID: "task-1", Attempt: 1}))
	require.Eventually(t, func() bool { return queue.Len() == 0 }, time.Second, 5*time.Millisecond)

	queue.Close()
	select {
	case <-done:
		t.Fatal("dispatcher returned while a task was still running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not return after the queue closed")
	}
	require.Equal(t, int32(1), handled.Load())
	require.Zero(t, d.Running())
}

func TestDispatcherCancelStopsWorkers(t *testing.T) {
	t.Parallel()

	queue := queueMemory.NewQueue(1)
	t.Cleanup(queue.Close)
	d := New([]Runner{&queueRunner{queue: queue, handled: new(atomic.Int32)}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return d.Running() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestDispatcherRestartsPanickingWorker(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	w := &panicOnceRunner{}
	d := New([]Runner{w}, zap.New(core))

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restarted worker never returned")
	}
	require.Equal(t, int32(2), w.calls.Load())
	entries := logs.FilterMessage("worker panicked, restarting").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, 0, entries[0].ContextMap()["index"])
}

// queueRunner handles items like a worker, holding each until release closes.
type queueRunner struct {
	queue   *queueMemory.Queue
	handled *atomic.Int32
	release chan struct{}
}

func (r *queueRunner) Run(ctx context.Context) {
	for {
		if _, err := r.queue.Dequeue(ctx); err != nil {
			return
		}
		if r.release != nil {
			<-r.release
		}
		r.handled.Add(1)
	}
}

type panicOnceRunner struct {
	calls atomic.Int32
}

func (p *panicOnceRunner) Run(context.Context) {
	if p.calls.Add(1) == 1 {
		panic("store exploded")
	}
}
