// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

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

// astTracerName is the OTel tracer name for the parsing front-end.
const astTracerName = "modgraph.ast"

// Package-level Prometheus metrics for parse operations.
var (
	// parseDuration measures per-file parse time.
	//
	// Labels:
	//   - language: "typescript"
	//   - status: "success" or "error"
	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modgraph",
			Subsystem: "ast",
			Name:      "parse_duration_seconds",
			Help:      "Duration of single-file parses in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"language", "status"},
	)

	// parseFilesTotal counts parsed files.
	parseFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modgraph",
			Subsystem: "ast",
			Name:      "files_total",
			Help:      "Total number of files parsed.",
		},
		[]string{"language", "status"},
	)

	// parseDeclarationsTotal counts extracted top-level declarations.
	parseDeclarationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modgraph",
			Subsystem: "ast",
			Name:      "declarations_total",
			Help:      "Total number of top-level declarations extracted.",
		},
	)
)

func startParseSpan(ctx context.Context, language, filePath string, size int) (context.Context, trace.Span) {
	return otel.Tracer(astTracerName).Start(ctx, "ast.Parser.Parse",
		trace.WithAttributes(
			attribute.String("language", language),
			attribute.String("file", filePath),
			attribute.Int("size_bytes", size),
		),
	)
}

func setParseSpanResult(span trace.Span, result *ParseResult) {
	span.SetAttributes(
		attribute.Int("imports", len(result.Imports)),
		attribute.Int("declarations", len(result.Declarations)),
		attribute.Int("occurrences", len(result.Occurrences)),
		attribute.Int("errors", len(result.Errors)),
	)
}

func recordParseError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func recordParseMetrics(language string, duration time.Duration, declarations int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	parseDuration.WithLabelValues(language, status).Observe(duration.Seconds())
	parseFilesTotal.WithLabelValues(language, status).Inc()
	if success {
		parseDeclarationsTotal.Add(float64(declarations))
	}
}
