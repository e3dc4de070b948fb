/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestEnforcementSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartEnforcementSpan(ctx, "srv-weather", "get_forecast")
	EndEnforcementSpan(span, "user-42", "allow", true, 3.5)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "enforcement.decide" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "enforcement.decide")
	}

	attrs := spans[0].Attributes
	foundServer, foundTool, foundDecision := false, false, false
	for _, a := range attrs {
		switch string(a.Key) {
		case "governor.server_canonical_id":
			foundServer = a.Value.AsString() == "srv-weather"
		case "governor.tool_name":
			foundTool = a.Value.AsString() == "get_forecast"
		case "governor.decision":
			foundDecision = a.Value.AsString() == "allow"
		}
	}
	if !foundServer {
		t.Error("missing governor.server_canonical_id attribute")
	}
	if !foundTool {
		t.Error("missing governor.tool_name attribute")
	}
	if !foundDecision {
		t.Error("missing governor.decision attribute")
	}
}

func TestScanSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartScanSpan(ctx, "srv-weather", "ContainerImage")
	EndScanSpan(span, "scan-srv-weather-abc123", nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "scan.submit" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "scan.submit")
	}
}

func TestScanSpanRecordsError(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartScanSpan(ctx, "srv-weather", "ContainerImage")
	EndScanSpan(span, "", errors.New("job create failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "governor.error" && a.Value.AsString() == "job create failed" {
			found = true
		}
	}
	if !found {
		t.Error("missing governor.error attribute")
	}
}

func TestPurgeSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartPurgeSpan(ctx, 7776000)
	EndPurgeSpan(span, 128, nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "audit.purge" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "audit.purge")
	}
}
