package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestInitTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer(ServiceName, logger, WithWriter(&buf))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := Tracer("telemetry-test").Start(context.Background(), "test-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "test-span") {
		t.Errorf("expected span name in export, got %q", out)
	}
	if !strings.Contains(out, ServiceName) {
		t.Errorf("expected service name in export, got %q", out)
	}
}

func TestInitTracer_ZeroRatioDropsRootSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer(ServiceName, logger, WithWriter(&buf), WithSampleRatio(0))
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := Tracer("telemetry-test").Start(context.Background(), "dropped-span")
	if span.SpanContext().IsSampled() {
		t.Error("expected span to be unsampled")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if strings.Contains(buf.String(), "dropped-span") {
		t.Errorf("unsampled span was exported: %q", buf.String())
	}
}
