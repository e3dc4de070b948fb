/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the governance core.
//
// Custom span attributes use the `governor.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "governor/enforcement"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // always plaintext gRPC; no TLS option is wired
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("governor"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartEnforcementSpan creates the parent span for one enforced MCP call:
// the enforcement middleware opens it before calling the policy engine and
// closes it once the allow/deny decision has been written to the response.
func StartEnforcementSpan(ctx context.Context, serverCanonicalID, toolName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "enforcement.decide",
		trace.WithAttributes(
			attribute.String("governor.server_canonical_id", serverCanonicalID),
			attribute.String("governor.tool_name", toolName),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndEnforcementSpan enriches the enforcement span with the decision reached
// and the identity it was reached for.
func EndEnforcementSpan(span trace.Span, principalID, decisionCode string, allowed bool, latencyMs float64) {
	span.SetAttributes(
		attribute.String("governor.principal_id", principalID),
		attribute.String("governor.decision", decisionCode),
		attribute.Bool("governor.allowed", allowed),
		attribute.Float64("governor.latency_ms", latencyMs),
	)
	span.End()
}

// StartScanSpan creates a span for one scan Job submission, from the
// orchestrator's Submit call through the Kubernetes API.
func StartScanSpan(ctx context.Context, serverCanonicalID, sourceType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "scan.submit",
		trace.WithAttributes(
			attribute.String("governor.server_canonical_id", serverCanonicalID),
			attribute.String("governor.source_type", sourceType),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndScanSpan enriches the scan span with the submitted Job's name and any
// submission error.
func EndScanSpan(span trace.Span, jobName string, err error) {
	span.SetAttributes(attribute.String("governor.job_name", jobName))
	if err != nil {
		span.SetAttributes(attribute.String("governor.error", err.Error()))
	}
	span.End()
}

// StartPurgeSpan creates a span for one audit retention purge run.
func StartPurgeSpan(ctx context.Context, retentionSeconds float64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "audit.purge",
		trace.WithAttributes(
			attribute.Float64("governor.retention_seconds", retentionSeconds),
		),
	)
}

// EndPurgeSpan enriches the purge span with how many events were removed.
func EndPurgeSpan(span trace.Span, deleted int64, err error) {
	span.SetAttributes(attribute.Int64("governor.purged_count", deleted))
	if err != nil {
		span.SetAttributes(attribute.String("governor.error", err.Error()))
	}
	span.End()
}
