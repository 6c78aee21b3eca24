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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// ctxCheckInterval is how many files are processed between context checks.
const ctxCheckInterval = 64

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// ProjectRoot is the absolute path the parse result paths are relative to.
	ProjectRoot string

	// Extensions are the source extensions tried during resolution, in order.
	// Default: DefaultExtensions
	Extensions []string

	// IncludeDynamicImports turns `import("...")` expressions into edges.
	// Default: false
	IncludeDynamicImports bool

	// IncludeCommonJS turns `require("...")` calls into edges.
	// Default: true
	IncludeCommonJS bool

	// IncludeTypeOnlyImports turns `import type` statements into edges.
	// Default: true
	IncludeTypeOnlyImports bool

	// Logger receives debug output for dropped imports.
	Logger *slog.Logger
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		Extensions:             append([]string(nil), DefaultExtensions...),
		IncludeCommonJS:        true,
		IncludeTypeOnlyImports: true,
		Logger:                 slog.Default(),
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithProjectRoot sets the project root path.
func WithProjectRoot(root string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProjectRoot = root
	}
}

// WithExtensions sets the source extensions used for resolution.
func WithExtensions(exts []string) BuilderOption {
	return func(o *BuilderOptions) {
		if len(exts) > 0 {
			o.Extensions = append([]string(nil), exts...)
		}
	}
}

// WithDynamicImports controls whether dynamic imports create edges.
func WithDynamicImports(include bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.IncludeDynamicImports = include
	}
}

// WithCommonJS controls whether require() calls create edges.
func WithCommonJS(include bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.IncludeCommonJS = include
	}
}

// WithTypeOnlyImports controls whether type-only imports create edges.
func WithTypeOnlyImports(include bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.IncludeTypeOnlyImports = include
	}
}

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// BuildStats summarizes a build.
type BuildStats struct {
	FilesProcessed    int   `json:"files_processed"`
	ImportsSeen       int   `json:"imports_seen"`
	RelativeImports   int   `json:"relative_imports"`
	ExternalImports   int   `json:"external_imports"`
	UnresolvedImports int   `json:"unresolved_imports"`
	SkippedImports    int   `json:"skipped_imports"`
	EdgesCreated      int   `json:"edges_created"`
	DurationMilli     int64 `json:"duration_milli"`
}

// UnresolvedImport is a relative specifier that names no discovered file.
type UnresolvedImport struct {
	FilePath  string       `json:"file"`
	Specifier string       `json:"specifier"`
	Location  ast.Location `json:"location"`
}

// BuildResult is the output of Builder.Build.
type BuildResult struct {
	// Graph is frozen.
	Graph *ModuleGraph

	// Resolver is the import resolver the graph was built with. Usage
	// analysis reuses it so both phases agree on import targets.
	Resolver *ImportResolver

	// Unresolved lists dropped relative imports in file order.
	Unresolved []UnresolvedImport

	Stats BuildStats
}

// Builder constructs module graphs from parse results.
//
// The builder is stateless and can be reused across builds. Each Build call
// creates a new graph.
//
// Thread Safety:
//
//	Builder is safe for concurrent use.
type Builder struct {
	options BuilderOptions
}

// NewBuilder creates a new Builder with the given options.
//
// Example:
//
//	builder := NewBuilder(
//	    WithProjectRoot("/path/to/project"),
//	    WithExtensions([]string{".ts", ".tsx"}),
//	)
func NewBuilder(opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Builder{options: options}
}

// Build constructs the import graph of the given files.
//
// Description:
//
//	Every parse result becomes a node, including results of files that
//	failed to parse. For each import with a relative specifier the target is
//	resolved with an ImportResolver; resolved targets become edges, misses
//	are dropped with a debug log. Non-relative specifiers are counted as
//	external and ignored.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked every ctxCheckInterval files.
//	results - One parse result per discovered file. Must not contain nil
//	          entries or duplicate paths.
//
// Outputs:
//
//	*BuildResult - The frozen graph, its resolver and statistics.
//	error - Non-nil on invalid input or cancellation.
func (b *Builder) Build(ctx context.Context, results []*ast.ParseResult) (*BuildResult, error) {
	ctx, span := startBuildSpan(ctx, len(results))
	defer span.End()

	start := time.Now()
	logger := b.options.Logger

	fail := func(err error) (*BuildResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordBuildMetrics(time.Since(start), nil, BuildStats{}, false)
		return nil, err
	}

	files := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for i, r := range results {
		if r == nil {
			return fail(fmt.Errorf("parse result %d is nil", i))
		}
		if _, dup := seen[r.FilePath]; dup {
			return fail(fmt.Errorf("duplicate parse result for %s", r.FilePath))
		}
		seen[r.FilePath] = struct{}{}
		files = append(files, r.FilePath)
	}

	g := NewModuleGraph(b.options.ProjectRoot, files)
	resolver, err := NewImportResolver(b.options.ProjectRoot, files,
		WithResolverExtensions(b.options.Extensions),
		WithResolverLogger(logger),
	)
	if err != nil {
		return fail(err)
	}

	result := &BuildResult{
		Graph:      g,
		Resolver:   resolver,
		Unresolved: make([]UnresolvedImport, 0),
	}
	stats := &result.Stats

	for i, r := range results {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("graph build canceled: %w", err))
			}
		}
		stats.FilesProcessed++

		if err := g.SetExports(r.FilePath, r.ExportedNames()); err != nil {
			return fail(fmt.Errorf("recording exports of %s: %w", r.FilePath, err))
		}

		for _, imp := range r.Imports {
			stats.ImportsSeen++
			if !b.includes(imp) {
				stats.SkippedImports++
				continue
			}
			if !imp.IsRelative() {
				stats.ExternalImports++
				continue
			}
			stats.RelativeImports++

			target, ok := resolver.Resolve(r.FilePath, imp.Path)
			if !ok {
				stats.UnresolvedImports++
				result.Unresolved = append(result.Unresolved, UnresolvedImport{
					FilePath:  r.FilePath,
					Specifier: imp.Path,
					Location:  imp.Location,
				})
				continue
			}

			added, err := g.AddEdge(r.FilePath, target)
			if err != nil {
				return fail(fmt.Errorf("adding edge %s -> %s: %w", r.FilePath, target, err))
			}
			if added {
				stats.EdgesCreated++
			}
		}
	}

	g.Freeze()
	g.BuiltAtMilli = time.Now().UnixMilli()
	stats.DurationMilli = time.Since(start).Milliseconds()

	logger.Debug("import graph built",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("external_imports", stats.ExternalImports),
		slog.Int("unresolved_imports", stats.UnresolvedImports))

	setBuildSpanResult(span, *stats)
	recordBuildMetrics(time.Since(start), g, *stats, true)

	return result, nil
}

// includes reports whether the import kind participates in the graph.
func (b *Builder) includes(imp ast.Import) bool {
	switch {
	case imp.IsDynamic:
		return b.options.IncludeDynamicImports
	case imp.IsCommonJS:
		return b.options.IncludeCommonJS
	case imp.IsTypeOnly:
		return b.options.IncludeTypeOnlyImports
	}
	return true
}
