package telemetry

import (
	"context"
	"testing"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg := TracingConfigFromEnv()
	if cfg.Endpoint != "collector:4317" || cfg.Insecure || cfg.SampleRatio != 0.25 {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "7")
	cfg = TracingConfigFromEnv()
	if !cfg.Insecure || cfg.SampleRatio != 1 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("yuka-test", "0")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Error("tracing should be disabled")
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "c1")
	ctx, span := StartSpan(ctx, "test", "op", ModelAttr("m"))
	defer span.End()
	if ctx == nil {
		t.Fatal("nil context")
	}
	RecordError(span, nil)
	SetSpanHTTPStatus(span, 503)
}
