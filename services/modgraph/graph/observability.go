// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// graphTracerName is the OTel tracer name for graph operations.
const graphTracerName = "modgraph.graph"

var (
	// buildDuration measures graph build time.
	//
	// Labels:
	//   - status: "success" or "error"
	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modgraph",
			Subsystem: "graph",
			Name:      "build_duration_seconds",
			Help:      "Duration of import graph builds in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)

	// graphNodes is the node count of the last built graph.
	graphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modgraph",
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Number of files in the last built import graph.",
		},
	)

	// graphEdges is the edge count of the last built graph.
	graphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modgraph",
			Subsystem: "graph",
			Name:      "edges",
			Help:      "Number of import edges in the last built import graph.",
		},
	)

	// importsTotal counts import specifiers by resolution outcome.
	//
	// Labels:
	//   - outcome: "resolved", "unresolved", "external", "skipped"
	importsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modgraph",
			Subsystem: "graph",
			Name:      "imports_total",
			Help:      "Total import specifiers seen, by resolution outcome.",
		},
		[]string{"outcome"},
	)

	// cyclesFound is the number of cycles found by the last detection.
	cyclesFound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modgraph",
			Subsystem: "graph",
			Name:      "cycles",
			Help:      "Number of import cycles found by the last detection.",
		},
	)
)

func startBuildSpan(ctx context.Context, fileCount int) (context.Context, trace.Span) {
	return otel.Tracer(graphTracerName).Start(ctx, "graph.Builder.Build",
		trace.WithAttributes(
			attribute.Int("file_count", fileCount),
		),
	)
}

func setBuildSpanResult(span trace.Span, stats BuildStats) {
	span.SetAttributes(
		attribute.Int("nodes", stats.FilesProcessed),
		attribute.Int("edges", stats.EdgesCreated),
		attribute.Int("imports.relative", stats.RelativeImports),
		attribute.Int("imports.external", stats.ExternalImports),
		attribute.Int("imports.unresolved", stats.UnresolvedImports),
	)
}

func recordBuildMetrics(duration time.Duration, g *ModuleGraph, stats BuildStats, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	buildDuration.WithLabelValues(status).Observe(duration.Seconds())
	if !success || g == nil {
		return
	}
	graphNodes.Set(float64(g.NodeCount()))
	graphEdges.Set(float64(g.EdgeCount()))
	importsTotal.WithLabelValues("resolved").Add(float64(stats.RelativeImports - stats.UnresolvedImports))
	importsTotal.WithLabelValues("unresolved").Add(float64(stats.UnresolvedImports))
	importsTotal.WithLabelValues("external").Add(float64(stats.ExternalImports))
	importsTotal.WithLabelValues("skipped").Add(float64(stats.SkippedImports))
}

func recordCycleMetrics(count int) {
	cyclesFound.Set(float64(count))
}
