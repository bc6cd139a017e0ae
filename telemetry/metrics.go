// Package telemetry provides Prometheus metrics, tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ModelAttempts     *prometheus.CounterVec // labels: model, outcome (success|failure|rate_limited)
	ModelExhausted    *prometheus.CounterVec // labels: model
	Dispatches        *prometheus.CounterVec // labels: result (success|exhausted|canceled)
	RefreshRuns       *prometheus.CounterVec // labels: result (changed|unchanged|error)
	BookkeepingErrors *prometheus.CounterVec // labels: store (ledger|history)
	Commands          *prometheus.CounterVec // labels: command
	SubmitsLimited    prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer
	RefreshDuration  prometheus.Observer

	// Gauges
	ModelRank *prometheus.GaugeVec // labels: model; 1 = tried first
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ModelAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yuka_model_attempts_total", Help: "Upstream attempts by model and outcome"}, []string{"model", "outcome"})
		ModelExhausted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yuka_model_rate_limit_exhausted_total", Help: "Models abandoned after exhausting rate-limit retries"}, []string{"model"})
		Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yuka_dispatches_total", Help: "Completed dispatches by result"}, []string{"result"})
		RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yuka_model_refresh_total", Help: "Model priority refreshes by result"}, []string{"result"})
		BookkeepingErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yuka_bookkeeping_errors_total", Help: "Ledger or history writes that failed"}, []string{"store"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yuka_commands_total", Help: "Chat commands handled by kind"}, []string{"command"})
		SubmitsLimited = promauto.NewCounter(prometheus.CounterOpts{Name: "yuka_submits_limited_total", Help: "Prompt submissions rejected by the per-user limiter"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "yuka_dispatch_duration_seconds", Help: "End-to-end dispatch duration seconds", Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}})
		RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "yuka_model_refresh_duration_seconds", Help: "Model priority refresh duration seconds", Buckets: prometheus.DefBuckets})
		ModelRank = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "yuka_model_rank", Help: "Current position of each model in the priority order (1 = first)"}, []string{"model"})
	})
}

// ObserveAttempt counts one upstream attempt outcome.
func ObserveAttempt(model, outcome string) {
	Init()
	ModelAttempts.WithLabelValues(model, outcome).Inc()
}

// ObserveModelExhausted counts a model abandoned after rate-limit retries.
func ObserveModelExhausted(model string) {
	Init()
	ModelExhausted.WithLabelValues(model).Inc()
}

// ObserveDispatch counts a finished dispatch and records its duration.
func ObserveDispatch(result string, d time.Duration) {
	Init()
	Dispatches.WithLabelValues(result).Inc()
	DispatchDuration.Observe(d.Seconds())
}

// ObserveRefresh counts one refresh run.
func ObserveRefresh(changed bool, err error) {
	Init()
	switch {
	case err != nil:
		RefreshRuns.WithLabelValues("error").Inc()
	case changed:
		RefreshRuns.WithLabelValues("changed").Inc()
	default:
		RefreshRuns.WithLabelValues("unchanged").Inc()
	}
}

// ObserveBookkeepingError counts a failed ledger or history write.
func ObserveBookkeepingError(store string) {
	Init()
	BookkeepingErrors.WithLabelValues(store).Inc()
}

// ObserveCommand counts one handled chat command.
func ObserveCommand(kind string) {
	Init()
	Commands.WithLabelValues(kind).Inc()
}

// ObserveSubmitLimited counts one rate-limited submission.
func ObserveSubmitLimited() {
	Init()
	SubmitsLimited.Inc()
}

// SetModelRanks publishes order as 1-based ranks.
func SetModelRanks(order []string) {
	Init()
	for i, m := range order {
		ModelRank.WithLabelValues(m).Set(float64(i + 1))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
