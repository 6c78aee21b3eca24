// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package usage

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const usageTracerName = "modgraph.usage"

var (
	analyzeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modgraph",
			Subsystem: "usage",
			Name:      "analyze_duration_seconds",
			Help:      "Duration of usage analysis in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	// occurrencesTotal counts occurrences by resolution outcome.
	//
	// Labels:
	//   - outcome: "resolved", "unresolved"
	occurrencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modgraph",
			Subsystem: "usage",
			Name:      "occurrences_total",
			Help:      "Total number of identifier occurrences by resolution outcome.",
		},
		[]string{"outcome"},
	)

	unusedDeclarations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modgraph",
			Subsystem: "usage",
			Name:      "unused_declarations",
			Help:      "Number of unused declarations found by the last analysis.",
		},
	)
)

func startAnalyzeSpan(ctx context.Context, files int) (context.Context, trace.Span) {
	return otel.Tracer(usageTracerName).Start(ctx, "usage.Analyze",
		trace.WithAttributes(attribute.Int("files", files)),
	)
}

func setAnalyzeSpanResult(span trace.Span, stats Stats) {
	span.SetAttributes(
		attribute.Int("declarations", stats.Declarations),
		attribute.Int("occurrences", stats.Occurrences),
		attribute.Int("resolved", stats.Resolved),
		attribute.Int("unused", stats.Unused),
		attribute.Int("ignored", stats.Ignored),
	)
}

func recordAnalyzeError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func recordAnalyzeMetrics(duration time.Duration, stats Stats) {
	analyzeDuration.Observe(duration.Seconds())
	occurrencesTotal.WithLabelValues("resolved").Add(float64(stats.Resolved))
	occurrencesTotal.WithLabelValues("unresolved").Add(float64(stats.Occurrences - stats.Resolved))
	unusedDeclarations.Set(float64(stats.Unused))
}
