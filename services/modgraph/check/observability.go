// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const checkTracerName = "modgraph.check"

// runMetrics are the OTel instruments of a check run. They are created from
// the global meter provider, which telemetry.Setup replaces when a metrics
// sink is configured.
type runMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	findings metric.Int64Counter
	files    metric.Int64Histogram
}

func newRunMetrics() *runMetrics {
	meter := otel.Meter(checkTracerName)
	m := &runMetrics{}
	// Instrument creation only fails for invalid names; the returned
	// instrument is a usable no-op in that case.
	m.runs, _ = meter.Int64Counter("modgraph.check.runs",
		metric.WithDescription("Number of check runs by exit code."),
	)
	m.duration, _ = meter.Float64Histogram("modgraph.check.run_duration",
		metric.WithDescription("Duration of check runs."),
		metric.WithUnit("s"),
	)
	m.findings, _ = meter.Int64Counter("modgraph.check.findings",
		metric.WithDescription("Number of findings by kind."),
	)
	m.files, _ = meter.Int64Histogram("modgraph.check.files",
		metric.WithDescription("Number of files analyzed per run."),
	)
	return m
}

func (m *runMetrics) record(ctx context.Context, duration time.Duration, exitCode, files, cycles, unused int) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.Int("exit_code", exitCode)))
	m.duration.Record(ctx, duration.Seconds())
	m.files.Record(ctx, int64(files))
	m.findings.Add(ctx, int64(cycles), metric.WithAttributes(attribute.String("kind", "cycle")))
	m.findings.Add(ctx, int64(unused), metric.WithAttributes(attribute.String("kind", "unused")))
}

func startRunSpan(ctx context.Context, runID, projectRoot string) (context.Context, trace.Span) {
	return otel.Tracer(checkTracerName).Start(ctx, "check.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("project_root", projectRoot),
		),
	)
}

func startPhaseSpan(ctx context.Context, phase Phase) (context.Context, trace.Span) {
	return otel.Tracer(checkTracerName).Start(ctx, "check."+phase.String())
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
