// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery finds the source files of a project.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoRoots indicates Discover was called without root directories.
var ErrNoRoots = errors.New("no root directories")

// DefaultExcludeDirs are directory names never descended into.
var DefaultExcludeDirs = []string{"node_modules", "dist", "build", "coverage", ".git", ".next"}

// DeclarationFileSuffixes mark generated type-declaration files.
var DeclarationFileSuffixes = []string{".d.ts", ".d.mts", ".d.cts"}

var discoveredFiles = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "modgraph",
	Subsystem: "discovery",
	Name:      "files",
	Help:      "Number of source files found by the last discovery.",
})

// Options configures Discover.
type Options struct {
	// ProjectRoot is the directory result paths are relative to.
	ProjectRoot string

	// Roots are scanned recursively. Relative roots are joined to ProjectRoot.
	Roots []string

	// Extensions select source files. Default: .ts, .tsx
	Extensions []string

	// ExcludeDirs are directory names skipped at any depth.
	// Default: DefaultExcludeDirs
	ExcludeDirs []string

	// ExcludeGlobs drop matching files. A pattern containing "/" is matched
	// against the project-relative path, any other against the base name.
	ExcludeGlobs []string

	Logger *slog.Logger
}

// Stats summarizes a discovery walk.
type Stats struct {
	DirsVisited  int `json:"dirs_visited"`
	FilesSeen    int `json:"files_seen"`
	FilesMatched int `json:"files_matched"`
	Excluded     int `json:"excluded"`
}

// Result is the output of Discover.
type Result struct {
	// ProjectRoot is the absolute project root.
	ProjectRoot string

	// Files are sorted, duplicate-free, project-relative paths with forward slashes.
	Files []string

	// SkippedRoots are roots that do not exist or are not usable directories.
	SkippedRoots []string

	Stats Stats
}

// Discover walks the root directories and returns the source files below them.
//
// Description:
//
//	Roots that do not exist, are not directories, or lie outside the project
//	root are logged as warnings and skipped. Overlapping roots contribute
//	each file once. Type-declaration files (.d.ts and friends) are never
//	returned. A directory that cannot be read ends the walk with an error.
//
// Inputs:
//
//	ctx - Context for cancellation, checked per directory entry.
//	opts - Discovery options. Roots must not be empty.
//
// Outputs:
//
//	*Result - The discovered files. Files may be empty.
//	error - ErrNoRoots, an I/O error, or the context error.
func Discover(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := otel.Tracer("modgraph.discovery").Start(ctx, "discovery.Discover",
		trace.WithAttributes(attribute.Int("roots", len(opts.Roots))),
	)
	defer span.End()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(opts.Roots) == 0 {
		return fail(ErrNoRoots)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = []string{".ts", ".tsx"}
	}
	excludeDirs := opts.ExcludeDirs
	if excludeDirs == nil {
		excludeDirs = DefaultExcludeDirs
	}
	excluded := make(map[string]struct{}, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = struct{}{}
	}

	pathGlobs, baseGlobs, err := compileGlobs(opts.ExcludeGlobs)
	if err != nil {
		return fail(err)
	}

	projectRoot, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return fail(fmt.Errorf("resolving project root %s: %w", opts.ProjectRoot, err))
	}

	result := &Result{
		ProjectRoot:  projectRoot,
		Files:        make([]string, 0),
		SkippedRoots: make([]string, 0),
	}
	seen := make(map[string]struct{})

	for _, root := range opts.Roots {
		absRoot := root
		if !filepath.IsAbs(absRoot) {
			absRoot = filepath.Join(projectRoot, root)
		}
		absRoot = filepath.Clean(absRoot)

		if reason := unusableRoot(projectRoot, absRoot); reason != "" {
			logger.Warn("skipping root",
				slog.String("root", root),
				slog.String("reason", reason))
			result.SkippedRoots = append(result.SkippedRoots, root)
			continue
		}

		err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("walking %s: %w", p, err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			if d.IsDir() {
				if _, skip := excluded[d.Name()]; skip && p != absRoot {
					return filepath.SkipDir
				}
				result.Stats.DirsVisited++
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			result.Stats.FilesSeen++

			name := d.Name()
			if !hasExtension(name, extensions) || isDeclarationFile(name) {
				return nil
			}

			rel, err := filepath.Rel(projectRoot, p)
			if err != nil {
				return fmt.Errorf("relativizing %s: %w", p, err)
			}
			rel = filepath.ToSlash(rel)

			if matchAny(pathGlobs, rel) || matchAny(baseGlobs, name) {
				result.Stats.Excluded++
				return nil
			}
			if _, dup := seen[rel]; dup {
				return nil
			}
			seen[rel] = struct{}{}
			result.Files = append(result.Files, rel)
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(fmt.Errorf("discovery canceled: %w", ctxErr))
			}
			return fail(fmt.Errorf("scanning root %s: %w", root, err))
		}
	}

	sort.Strings(result.Files)
	result.Stats.FilesMatched = len(result.Files)
	discoveredFiles.Set(float64(len(result.Files)))

	span.SetAttributes(
		attribute.Int("files", len(result.Files)),
		attribute.Int("skipped_roots", len(result.SkippedRoots)),
	)
	logger.Debug("discovery complete",
		slog.Int("files", len(result.Files)),
		slog.Int("dirs_visited", result.Stats.DirsVisited),
		slog.Int("excluded", result.Stats.Excluded),
		slog.Int("skipped_roots", len(result.SkippedRoots)))

	return result, nil
}

// unusableRoot returns why absRoot cannot be scanned, or "".
func unusableRoot(projectRoot, absRoot string) string {
	rel, err := filepath.Rel(projectRoot, absRoot)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "outside project root"
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "does not exist"
		}
		return err.Error()
	}
	if !info.IsDir() {
		return "not a directory"
	}
	return ""
}

func compileGlobs(patterns []string) (pathGlobs, baseGlobs []glob.Glob, err error) {
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		if strings.Contains(p, "/") {
			pathGlobs = append(pathGlobs, g)
		} else {
			baseGlobs = append(baseGlobs, g)
		}
	}
	return pathGlobs, baseGlobs, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func isDeclarationFile(name string) bool {
	for _, suffix := range DeclarationFileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
