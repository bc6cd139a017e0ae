package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := ModelAttempts
	Init()
	if ModelAttempts != first {
		t.Error("Init re-created metrics")
	}
	if DispatchDuration == nil || RefreshDuration == nil || ModelRank == nil || SubmitsLimited == nil {
		t.Error("metrics not initialized")
	}
}

func TestObserveAttempt(t *testing.T) {
	before := testutil.ToFloat64(counterFor(t, "m-attempt", "rate_limited"))
	ObserveAttempt("m-attempt", "rate_limited")
	ObserveAttempt("m-attempt", "rate_limited")
	if got := testutil.ToFloat64(counterFor(t, "m-attempt", "rate_limited")); got != before+2 {
		t.Errorf("rate_limited attempts = %v, want %v", got, before+2)
	}
}

func counterFor(t *testing.T, model, outcome string) prometheus.Counter {
	t.Helper()
	Init()
	return ModelAttempts.WithLabelValues(model, outcome)
}

func TestObserveRefresh(t *testing.T) {
	Init()
	changed := testutil.ToFloat64(RefreshRuns.WithLabelValues("changed"))
	failed := testutil.ToFloat64(RefreshRuns.WithLabelValues("error"))
	ObserveRefresh(true, nil)
	ObserveRefresh(true, errors.New("boom"))
	if got := testutil.ToFloat64(RefreshRuns.WithLabelValues("changed")); got != changed+1 {
		t.Errorf("changed = %v, want %v", got, changed+1)
	}
	if got := testutil.ToFloat64(RefreshRuns.WithLabelValues("error")); got != failed+1 {
		t.Errorf("error = %v, want %v", got, failed+1)
	}
}

func TestSetModelRanks(t *testing.T) {
	SetModelRanks([]string{"rank-x", "rank-y"})
	if got := testutil.ToFloat64(ModelRank.WithLabelValues("rank-y")); got != 2 {
		t.Errorf("rank-y = %v, want 2", got)
	}
	SetModelRanks([]string{"rank-y", "rank-x"})
	if got := testutil.ToFloat64(ModelRank.WithLabelValues("rank-y")); got != 1 {
		t.Errorf("rank-y = %v, want 1", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_duration_seconds", Help: "Test duration", Buckets: prometheus.DefBuckets})
	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(5 * time.Millisecond)
		executed = true
	})
	if !executed || d < 5*time.Millisecond {
		t.Errorf("TimeFunc executed=%v duration=%v", executed, d)
	}
	metric := &dto.Metric{}
	if err := h.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", metric.Histogram.GetSampleCount())
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("GetCorrelation = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
