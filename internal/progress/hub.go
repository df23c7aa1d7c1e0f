package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink consumes batches of crawl progress events. Consume may be called
// repeatedly from the hub goroutine and must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. The orchestrator and workers depend on this
// rather than on Hub.
type Emitter interface {
	Emit(evt Event)
}

// Config controls buffering and batching for the Hub.
//   - BufferSize: events held between emitters and the batching goroutine (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush a partial batch after this long (default 500ms).
//   - SinkTimeout: per-sink deadline for each flush (default 10s).
//   - BaseContext: parent of every sink call (default context.Background()).
//
// A TASK_DONE or TASK_ERROR event always flushes the batch it lands in, so a
// finished task's timeline reaches the sinks without waiting for MaxBatchWait.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropReportInterval    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches crawl progress events and fans them out to sinks from a single
// goroutine. Emit never blocks; events that do not fit the buffer are dropped
// and reported per source.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool
	drops  dropCounter

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: cfg.Logger,
		drops:  dropCounter{interval: dropReportInterval, bySource: map[string]int64{}},
	}
	go h.run()
	return h
}

// Emit queues evt for the next batch. Invalid events and events emitted after
// Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", eventFields(evt, zap.Error(err))...)
		return
	}
	select {
	case h.events <- evt:
	default:
		if report, ok := h.drops.add(evt.Source, time.Now()); ok {
			h.logger.Warn("progress events dropped due to backpressure",
				eventFields(evt, zap.Any("dropped_by_source", report))...)
		}
	}
}

// Close stops intake, flushes what is buffered, closes every sink and waits
// for the batching goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.stop()
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		case <-b.deadline():
			h.flush(b.take())
		case <-h.stopCh:
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		default:
			h.flush(b.take())
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.Int("events", len(batch)),
				zap.String("first_task_id", batch[0].TaskID),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

func eventFields(evt Event, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("task_id", evt.TaskID),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Source != "" {
		fields = append(fields, zap.String("source", evt.Source))
	}
	return append(fields, extra...)
}

// batcher accumulates events for the hub goroutine. It is not safe for
// concurrent use.
type batcher struct {
	max     int
	wait    time.Duration
	pending []Event
	timer   *time.Timer
	armed   bool
}

func newBatcher(maxEvents int, wait time.Duration) *batcher {
	t := time.NewTimer(wait)
	t.Stop()
	return &batcher{max: maxEvents, wait: wait, pending: make([]Event, 0, maxEvents), timer: t}
}

// add appends evt and reports whether the batch should be flushed now.
func (b *batcher) add(evt Event) bool {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.max || evt.Stage.terminal() {
		return true
	}
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
	return false
}

// deadline is nil while the batch is empty, which blocks the select case.
func (b *batcher) deadline() <-chan time.Time {
	if !b.armed {
		return nil
	}
	return b.timer.C
}

// take hands off the pending events and disarms the timer.
func (b *batcher) take() []Event {
	b.stop()
	out := b.pending
	b.pending = make([]Event, 0, b.max)
	return out
}

func (b *batcher) stop() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

// dropCounter tallies dropped events per source and releases a report at most
// once per interval.
type dropCounter struct {
	interval time.Duration

	mu       sync.Mutex
	bySource map[string]int64
	last     time.Time
}

func (d *dropCounter) add(src string, now time.Time) (map[string]int64, bool) {
	if src == "" {
		src = "task"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bySource == nil {
		d.bySource = map[string]int64{}
	}
	d.bySource[src]++
	if !d.last.IsZero() && now.Sub(d.last) < d.interval {
		return nil, false
	}
	d.last = now
	report := d.bySource
	d.bySource = map[string]int64{}
	return report, true
}
