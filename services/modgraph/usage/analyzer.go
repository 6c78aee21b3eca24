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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// ErrNilResolver indicates Analyze was called without a SymbolResolver.
var ErrNilResolver = errors.New("symbol resolver must not be nil")

const ctxCheckInterval = 64

// Usage is a declaration referenced from somewhere other than its own
// binding position.
type Usage struct {
	Site DeclarationSite `json:"site"`

	// References counts the distinct occurrences resolving to Site.
	References int `json:"references"`
}

// Stats summarizes an analysis.
type Stats struct {
	Files        int   `json:"files"`
	Declarations int   `json:"declarations"`
	Occurrences  int   `json:"occurrences"`
	Resolved     int   `json:"resolved"`
	Unused       int   `json:"unused"`
	Ignored      int   `json:"ignored"`
	DurationMs   int64 `json:"duration_ms"`
}

// Result is the outcome of usage analysis.
type Result struct {
	// Declarations are all top-level declarations, sorted like Unused.
	Declarations []ast.Declaration `json:"declarations"`

	// Usages are the referenced declarations, sorted by file and name.
	Usages []Usage `json:"usages"`

	// Unused are declarations without usages, sorted by file, line and name.
	// Declarations matched by an ignore pattern are not included.
	Unused []ast.Declaration `json:"unused"`

	Stats Stats `json:"stats"`

	used map[DeclarationSite]int
}

// IsUsed reports whether the declaration at site has at least one usage.
func (r *Result) IsUsed(site DeclarationSite) bool {
	return r.used[site] > 0
}

// IgnoreMatcher suppresses unused findings by name.
//
// A pattern without ":" is matched against the declaration name. A pattern
// with ":" is matched against "file:name", with "/" as the path separator,
// e.g. "src/legacy/**:*".
type IgnoreMatcher struct {
	names     []glob.Glob
	qualified []glob.Glob
}

// NewIgnoreMatcher compiles ignore patterns.
func NewIgnoreMatcher(patterns []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, ":") {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return nil, fmt.Errorf("compiling ignore pattern %q: %w", p, err)
			}
			m.qualified = append(m.qualified, g)
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling ignore pattern %q: %w", p, err)
		}
		m.names = append(m.names, g)
	}
	return m, nil
}

// Match reports whether d is ignored.
func (m *IgnoreMatcher) Match(d ast.Declaration) bool {
	if m == nil {
		return false
	}
	for _, g := range m.names {
		if g.Match(d.Name) {
			return true
		}
	}
	if len(m.qualified) == 0 {
		return false
	}
	key := d.FilePath + ":" + d.Name
	for _, g := range m.qualified {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// AnalyzeOption configures Analyze.
type AnalyzeOption func(*analyzeOptions)

type analyzeOptions struct {
	ignore *IgnoreMatcher
	logger *slog.Logger
}

// WithIgnore suppresses findings matched by m.
func WithIgnore(m *IgnoreMatcher) AnalyzeOption {
	return func(o *analyzeOptions) {
		o.ignore = m
	}
}

// WithLogger sets the analysis logger.
func WithLogger(logger *slog.Logger) AnalyzeOption {
	return func(o *analyzeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Analyze finds top-level declarations that are never used.
//
// Description:
//
//	The first pass collects the declarations of every file. The second pass
//	resolves every occurrence of every file to its declaration site. Only
//	after both passes have covered the entire file set is a declaration
//	judged unused, so forward references across files are honored and the
//	result does not depend on file order.
//
//	Declarations without a name are skipped. Occurrences the resolver
//	cannot link are ignored, and so are occurrences resolving to a site that
//	is not a known declaration.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked every ctxCheckInterval files.
//	results - Parse results of every discovered file. Nil entries are ignored.
//	resolver - Links occurrences to declaration sites. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Result - Declarations, usages and unused declarations.
//	error - ErrNilResolver, or the context error on cancellation.
//
// Thread Safety:
//
//	Safe for concurrent use if resolver is.
func Analyze(ctx context.Context, results []*ast.ParseResult, resolver SymbolResolver, opts ...AnalyzeOption) (*Result, error) {
	ctx, span := startAnalyzeSpan(ctx, len(results))
	defer span.End()

	options := analyzeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}

	if resolver == nil {
		recordAnalyzeError(span, ErrNilResolver)
		return nil, ErrNilResolver
	}

	start := time.Now()
	result := &Result{
		Declarations: make([]ast.Declaration, 0),
		Usages:       make([]Usage, 0),
		Unused:       make([]ast.Declaration, 0),
		used:         make(map[DeclarationSite]int),
	}
	stats := &result.Stats

	declared := make(map[DeclarationSite]struct{})
	for i, r := range results {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				err = fmt.Errorf("usage analysis canceled: %w", err)
				recordAnalyzeError(span, err)
				return nil, err
			}
		}
		if r == nil {
			continue
		}
		stats.Files++
		for _, d := range r.Declarations {
			if d.Name == "" {
				continue
			}
			site := DeclarationSite{FilePath: d.FilePath, Name: d.Name}
			if _, dup := declared[site]; dup {
				continue
			}
			declared[site] = struct{}{}
			result.Declarations = append(result.Declarations, d)
		}
	}
	stats.Declarations = len(result.Declarations)

	for i, r := range results {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				err = fmt.Errorf("usage analysis canceled: %w", err)
				recordAnalyzeError(span, err)
				return nil, err
			}
		}
		if r == nil {
			continue
		}
		for _, occ := range r.Occurrences {
			stats.Occurrences++
			site, ok := resolver.ResolveDeclarationSite(occ)
			if !ok {
				continue
			}
			if _, known := declared[site]; !known {
				continue
			}
			stats.Resolved++
			result.used[site]++
		}
	}

	for site, refs := range result.used {
		result.Usages = append(result.Usages, Usage{Site: site, References: refs})
	}
	sort.Slice(result.Usages, func(i, j int) bool {
		a, b := result.Usages[i].Site, result.Usages[j].Site
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.Name < b.Name
	})

	sortDeclarations(result.Declarations)
	for _, d := range result.Declarations {
		if result.used[DeclarationSite{FilePath: d.FilePath, Name: d.Name}] > 0 {
			continue
		}
		if options.ignore.Match(d) {
			stats.Ignored++
			continue
		}
		result.Unused = append(result.Unused, d)
	}
	stats.Unused = len(result.Unused)
	stats.DurationMs = time.Since(start).Milliseconds()

	options.logger.Debug("usage analysis complete",
		slog.Int("declarations", stats.Declarations),
		slog.Int("occurrences", stats.Occurrences),
		slog.Int("resolved", stats.Resolved),
		slog.Int("unused", stats.Unused),
		slog.Int("ignored", stats.Ignored))

	setAnalyzeSpanResult(span, *stats)
	recordAnalyzeMetrics(time.Since(start), *stats)

	return result, nil
}

// sortDeclarations orders declarations by file, line and name.
func sortDeclarations(decls []ast.Declaration) {
	sort.SliceStable(decls, func(i, j int) bool {
		a, b := decls[i], decls[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Location.Line != b.Location.Line {
			return a.Location.Line < b.Location.Line
		}
		return a.Name < b.Name
	})
}
