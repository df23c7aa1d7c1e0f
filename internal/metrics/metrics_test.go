package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		tasksTotal == nil || livePushTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(tasksTotal.WithLabelValues("success"))
	ObserveTask("success")
	if got := testutil.ToFloat64(tasksTotal.WithLabelValues("success")); got != before+1 {
		t.Errorf("expected task counter to grow by one, got %f -> %f", before, got)
	}

	pushBefore := testutil.ToFloat64(livePushTotal.WithLabelValues("no_subscriber"))
	ObserveLivePush("no_subscriber")
	ObserveLivePush("no_subscriber")
	if got := testutil.ToFloat64(livePushTotal.WithLabelValues("no_subscriber")); got != pushBefore+2 {
		t.Errorf("expected live push counter to grow by two, got %f -> %f", pushBefore, got)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	LiveConnected(1)
	LiveConnected(-1)
	ObserveSubmission()
	ObserveRateLimitWait("social", 250*time.Millisecond)
	if val := testutil.CollectAndCount(upstreamWaitSeconds); val <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", val)
	}

	robotsBefore := testutil.ToFloat64(robotsFallbackTotal)
	ObserveRobotsFallback()
	if got := testutil.ToFloat64(robotsFallbackTotal); got != robotsBefore+1 {
		t.Errorf("expected robots fallback counter to grow by one, got %f -> %f", robotsBefore, got)
	}
}
