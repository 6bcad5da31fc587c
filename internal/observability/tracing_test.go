package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"turtleworld.ai/internal/sim/world"
)

func TestInitTracingExportsStepSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Writer: &buf}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	env, err := world.New(world.Config{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if _, err := env.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "environment.step") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestInitTracingDisabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Fatalf("provider = %T, want noop", otel.GetTracerProvider())
	}
	ShutdownWithTimeout(shutdown, nil)
}
