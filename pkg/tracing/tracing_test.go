package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracer_Disabled(t *testing.T) {
	cfg := DefaultConfig("cartd")
	cfg.Enabled = false

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer(disabled) returned error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function should not be nil even when disabled")
	}

	// Shutdown is a no-op when disabled.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown(disabled) returned error: %v", err)
	}
}

func TestInitTracer_Enabled(t *testing.T) {
	// Use a non-routable endpoint so the exporter never connects; the SDK
	// still initializes because batched export is async.
	cfg := Config{
		ServiceName:    "cartd",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:0",
		SampleRate:     1.0,
		Enabled:        true,
	}

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer(enabled) returned error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function should not be nil")
	}

	tp := otel.GetTracerProvider()
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Errorf("expected *sdktrace.TracerProvider, got %T", tp)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Logf("shutdown returned (expected due to unreachable endpoint): %v", err)
	}
}

func TestInitTracer_SampleRateZero(t *testing.T) {
	cfg := Config{
		ServiceName:    "cartd",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:0",
		SampleRate:     0.0,
		Enabled:        true,
	}

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer(sample=0) returned error: %v", err)
	}
	defer shutdown(context.Background()) //nolint:errcheck
}

func TestInitTracer_SampleRatePartial(t *testing.T) {
	cfg := Config{
		ServiceName:    "cartd",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:0",
		SampleRate:     0.5,
		Enabled:        true,
	}

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer(sample=0.5) returned error: %v", err)
	}
	defer shutdown(context.Background()) //nolint:errcheck
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("cartd")

	if cfg.ServiceName != "cartd" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "cartd")
	}
	if cfg.Enabled {
		t.Error("default config should have Enabled = false")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %f, want 1.0", cfg.SampleRate)
	}
	if cfg.OTLPEndpoint != "localhost:4318" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.OTLPEndpoint, "localhost:4318")
	}
}

func TestTracer(t *testing.T) {
	tracer := Tracer("cart-service")
	if tracer == nil {
		t.Fatal("Tracer should not return nil")
	}

	_, span := tracer.Start(context.Background(), "reconcile")
	defer span.End()

	if !span.SpanContext().IsValid() || !span.IsRecording() {
		// With no SDK provider configured the span is a no-op; that is
		// fine, we only verify it does not panic.
		t.Log("span is no-op (no SDK provider set)")
	}
}
