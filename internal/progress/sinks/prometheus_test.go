package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ondemand-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	taskID := "0192f0aa-0000-7000-8000-000000000001"
	now := time.Now()
	batch := []progress.Event{
		{TaskID: taskID, TS: now, Stage: progress.StageTaskStart},
		{TaskID: taskID, TS: now, Stage: progress.StageFetchDone, Source: "news", Items: 4, Dur: 200 * time.Millisecond},
		{TaskID: taskID, TS: now, Stage: progress.StageFetchError, Source: "video", Dur: time.Second},
		{TaskID: taskID, TS: now, Stage: progress.StageItemIngested, Source: "news", Created: true},
		{TaskID: taskID, TS: now, Stage: progress.StageItemIngested, Source: "news"},
		{TaskID: taskID, TS: now, Stage: progress.StageTaskDone, Dur: 2 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasksStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.tasksRunning), 1e-9)

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchTotal.WithLabelValues("news", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchTotal.WithLabelValues("video", "error")), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.fetchItems.WithLabelValues("news")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.itemsIngested.WithLabelValues("news", "created")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.itemsIngested.WithLabelValues("news", "existing")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.fetchDuration, "ondemand_source_fetch_duration_seconds"))
}

// TestPrometheusSinkRunningGaugeIgnoresRepeats keeps the gauge balanced across retried starts.
func TestPrometheusSinkRunningGaugeIgnoresRepeats(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StageTaskStart},
		{TaskID: "a", TS: now, Stage: progress.StageTaskStart},
		{TaskID: "b", TS: now, Stage: progress.StageTaskStart},
	}))
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.tasksRunning), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StageTaskError, Note: "boom"},
		{TaskID: "a", TS: now, Stage: progress.StageTaskError},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasksRunning), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("error")), 1e-9)
}

func TestPrometheusSinkDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
