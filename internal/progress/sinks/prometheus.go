package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/ondemand-crawler/internal/progress"
)

// PrometheusSink exports task progress metrics via Prometheus. It owns all
// collectors for tasks started/completed/running and per-source fetch counters.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	fetchTotal    *prometheus.CounterVec
	fetchItems    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	itemsIngested *prometheus.CounterVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondemand_tasks_started_total",
			Help: "Total crawl task attempts that have started.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondemand_tasks_completed_total",
			Help: "Total crawl task attempts completed partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondemand_tasks_running",
			Help: "Current number of running crawl tasks.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ondemand_task_runtime_seconds",
			Help:    "Wall time per completed crawl task attempt.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondemand_source_fetch_total",
			Help: "Source fetch completions partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		fetchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondemand_source_fetch_items_total",
			Help: "Raw items returned per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ondemand_source_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by source and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source", "outcome"}),
		itemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondemand_items_ingested_total",
			Help: "Ingested items partitioned by source and outcome (created or existing).",
		}, []string{"source", "outcome"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.fetchTotal,
		s.fetchItems,
		s.fetchDuration,
		s.itemsIngested,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart, progress.StageTaskDone, progress.StageTaskError:
		s.handleTaskEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt, "success")
	case progress.StageFetchError:
		s.handleFetchEvent(evt, "error")
	case progress.StageItemIngested:
		outcome := "existing"
		if evt.Created {
			outcome = "created"
		}
		s.itemsIngested.WithLabelValues(evt.Source, outcome).Inc()
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart:
		s.tasksStarted.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		s.tasksCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageTaskError:
		s.tasksCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageTaskStart && s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event, outcome string) {
	s.fetchTotal.WithLabelValues(evt.Source, outcome).Inc()
	if evt.Items > 0 {
		s.fetchItems.WithLabelValues(evt.Source).Add(float64(evt.Items))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Source, outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
