// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package check runs one analysis pass over a project and maps its findings
// to a process exit code.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
	"github.com/AleutianAI/modgraph/services/modgraph/config"
	"github.com/AleutianAI/modgraph/services/modgraph/discovery"
	"github.com/AleutianAI/modgraph/services/modgraph/graph"
	"github.com/AleutianAI/modgraph/services/modgraph/report"
	"github.com/AleutianAI/modgraph/services/modgraph/usage"
)

// Exit codes of a run.
const (
	ExitOK       = 0
	ExitFindings = 1
	ExitError    = 2
)

var (
	// ErrRunnerUsed is returned by Run on a runner that already ran.
	ErrRunnerUsed = errors.New("runner already used")

	// ErrNilConfig is returned by NewRunner without a configuration.
	ErrNilConfig = errors.New("config must not be nil")
)

// Phase is the position of a runner in its pipeline. Phases only move
// forward; no phase is entered twice.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDiscovering
	PhaseGraphBuilt
	PhaseCyclesChecked
	PhaseUsageChecked
	PhaseReported
	PhaseTerminal
)

// String returns the phase name used in logs and span names.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscovering:
		return "discovering"
	case PhaseGraphBuilt:
		return "graph_built"
	case PhaseCyclesChecked:
		return "cycles_checked"
	case PhaseUsageChecked:
		return "usage_checked"
	case PhaseReported:
		return "reported"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Checks selects which analyses a run performs.
type Checks struct {
	Cycles bool
	Unused bool
}

// AllChecks runs both analyses.
func AllChecks() Checks {
	return Checks{Cycles: true, Unused: true}
}

// ChecksFromFlags maps the --circular and --unused flags to checks. Neither
// flag, or both, selects every check.
func ChecksFromFlags(circular, unused bool) Checks {
	if circular == unused {
		return AllChecks()
	}
	return Checks{Cycles: circular, Unused: unused}
}

// Emitter renders a finished report. Emitters run in order during the
// Reported phase; the first error ends the run.
type Emitter func(r *report.Report) error

// Options configures a Runner.
type Options struct {
	// ProjectRoot is the directory relative paths are reported against.
	// Defaults to the working directory.
	ProjectRoot string

	// Roots overrides Config.Roots when non-empty.
	Roots []string

	// Config must not be nil.
	Config *config.Config

	Checks Checks

	// SnapshotLabel labels the snapshot saved when Config.SnapshotDir is set.
	SnapshotLabel string

	Emitters []Emitter

	Logger *slog.Logger
}

// Outcome is the result of a finished run.
type Outcome struct {
	Report   *report.Report
	ExitCode int

	// Snapshot is the saved snapshot, nil when history is disabled or the
	// save failed.
	Snapshot *graph.SnapshotMetadata
}

// Runner executes the pipeline
//
//	Idle → Discovering → GraphBuilt → CyclesChecked → UsageChecked → Reported → Terminal
//
// exactly once. Every structure is built by the run that uses it; a new run
// needs a new Runner.
//
// Thread Safety: Not safe for concurrent use.
type Runner struct {
	opts    Options
	roots   []string
	parser  *ast.TypeScriptParser
	logger  *slog.Logger
	metrics *runMetrics
	phase   Phase
}

// NewRunner validates opts and returns an idle runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, ErrNilConfig
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProjectRoot == "" {
		opts.ProjectRoot = "."
	}
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	opts.ProjectRoot = root

	roots := opts.Roots
	if len(roots) == 0 {
		roots = opts.Config.Roots
	}
	if len(roots) == 0 {
		roots = config.Default().Roots
	}

	return &Runner{
		opts:  opts,
		roots: roots,
		parser: ast.NewTypeScriptParser(
			ast.WithTypeScriptMaxFileSize(opts.Config.MaxFileSizeBytes),
			ast.WithTypeScriptLogger(opts.Logger),
		),
		logger:  opts.Logger,
		metrics: newRunMetrics(),
		phase:   PhaseIdle,
	}, nil
}

// Phase returns the current phase.
func (r *Runner) Phase() Phase {
	return r.phase
}

// Roots returns the root directories the run scans.
func (r *Runner) Roots() []string {
	return r.roots
}

// ProjectRoot returns the absolute project root.
func (r *Runner) ProjectRoot() string {
	return r.opts.ProjectRoot
}

func (r *Runner) advance(next Phase) {
	r.logger.Debug("check phase",
		slog.String("from", r.phase.String()),
		slog.String("to", next.String()))
	r.phase = next
}

// Run performs the analysis and emits the report.
//
// Description:
//
//	Discovers the source files, parses every file eagerly, builds the
//	import graph, runs the selected checks, saves a snapshot when history
//	is enabled and passes the report to each emitter. Discovery that finds
//	no files still produces an empty report.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between files and phases.
//
// Outputs:
//
//	*Outcome - The report and its exit code. Nil on error.
//	error - ErrRunnerUsed, a discovery I/O error, a read error, an emitter
//	        error or the context error. Callers exit with ExitError.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	if r.phase != PhaseIdle {
		return nil, ErrRunnerUsed
	}
	start := time.Now()
	runID := uuid.NewString()
	cfg := r.opts.Config

	ctx, span := startRunSpan(ctx, runID, r.opts.ProjectRoot)
	defer span.End()

	fail := func(err error) (*Outcome, error) {
		recordSpanError(span, err)
		r.metrics.record(ctx, time.Since(start), ExitError, 0, 0, 0)
		return nil, err
	}

	r.advance(PhaseDiscovering)
	disc, err := discovery.Discover(ctx, discovery.Options{
		ProjectRoot:  r.opts.ProjectRoot,
		Roots:        r.roots,
		Extensions:   cfg.Extensions,
		ExcludeDirs:  cfg.ExcludeDirs,
		ExcludeGlobs: cfg.ExcludeGlobs,
		Logger:       r.logger,
	})
	if err != nil {
		return fail(fmt.Errorf("discovering sources: %w", err))
	}

	results, failures, err := r.parseAll(ctx, disc.Files)
	if err != nil {
		return fail(err)
	}

	builder := graph.NewBuilder(
		graph.WithProjectRoot(r.opts.ProjectRoot),
		graph.WithExtensions(cfg.Extensions),
		graph.WithDynamicImports(cfg.IncludeDynamicImports),
		graph.WithCommonJS(cfg.IncludeCommonJS),
		graph.WithTypeOnlyImports(cfg.IncludeTypeOnlyImports),
		graph.WithLogger(r.logger),
	)
	built, err := builder.Build(ctx, results)
	if err != nil {
		return fail(fmt.Errorf("building import graph: %w", err))
	}
	r.advance(PhaseGraphBuilt)

	rep := &report.Report{
		RunID:         runID,
		ProjectRoot:   r.opts.ProjectRoot,
		Roots:         r.roots,
		SkippedRoots:  disc.SkippedRoots,
		Graph:         built.Graph,
		CycleCheck:    r.opts.Checks.Cycles,
		UnusedCheck:   r.opts.Checks.Unused,
		Unresolved:    built.Unresolved,
		BuildStats:    built.Stats,
		ParseFailures: failures,
	}

	if r.opts.Checks.Cycles {
		_, phaseSpan := startPhaseSpan(ctx, PhaseCyclesChecked)
		rep.Cycles = graph.DetectCycles(built.Graph)
		phaseSpan.End()
	}
	r.advance(PhaseCyclesChecked)

	if r.opts.Checks.Unused {
		ignore, err := usage.NewIgnoreMatcher(cfg.IgnoreUnused)
		if err != nil {
			return fail(fmt.Errorf("%w: ignore_unused: %v", config.ErrInvalidConfig, err))
		}
		resolver := usage.NewProjectResolver(results, built.Resolver,
			usage.WithResolverLogger(r.logger))
		analysis, err := usage.Analyze(ctx, results, resolver,
			usage.WithIgnore(ignore),
			usage.WithLogger(r.logger))
		if err != nil {
			return fail(fmt.Errorf("analyzing usage: %w", err))
		}
		rep.Unused = analysis.Unused
		rep.UsageStats = analysis.Stats
	}
	r.advance(PhaseUsageChecked)

	outcome := &Outcome{Report: rep}
	if cfg.SnapshotDir != "" {
		outcome.Snapshot = r.saveSnapshot(ctx, rep)
	}

	for _, emit := range r.opts.Emitters {
		if err := emit(rep); err != nil {
			return fail(fmt.Errorf("emitting report: %w", err))
		}
	}
	r.advance(PhaseReported)

	outcome.ExitCode = ExitCode(rep)
	r.advance(PhaseTerminal)

	r.metrics.record(ctx, time.Since(start), outcome.ExitCode, rep.FileCount(), len(rep.Cycles), len(rep.Unused))
	r.logger.Info("check complete",
		slog.String("run_id", runID),
		slog.Int("files", rep.FileCount()),
		slog.Int("cycles", len(rep.Cycles)),
		slog.Int("unused", len(rep.Unused)),
		slog.Int("exit_code", outcome.ExitCode),
		slog.Duration("duration", time.Since(start)))

	return outcome, nil
}

// parseAll reads and parses every file. Files that are too large or not
// valid UTF-8 become empty results and are returned as failures.
func (r *Runner) parseAll(ctx context.Context, files []string) ([]*ast.ParseResult, []string, error) {
	results := make([]*ast.ParseResult, 0, len(files))
	var failures []string

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("parsing canceled: %w", err)
		}

		content, err := os.ReadFile(filepath.Join(r.opts.ProjectRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", rel, err)
		}

		result, err := r.parser.Parse(ctx, content, rel)
		switch {
		case err == nil:
			results = append(results, result)
		case errors.Is(err, ast.ErrFileTooLarge), errors.Is(err, ast.ErrInvalidContent):
			r.logger.Warn("file not parsed",
				slog.String("file", rel),
				slog.Any("error", err))
			results = append(results, ast.NewEmptyResult(rel))
			failures = append(failures, rel)
		default:
			return nil, nil, fmt.Errorf("parsing %s: %w", rel, err)
		}
	}
	return results, failures, nil
}

// saveSnapshot records the run in the history store. Failures are logged;
// history never affects the exit code.
func (r *Runner) saveSnapshot(ctx context.Context, rep *report.Report) *graph.SnapshotMetadata {
	dir := r.opts.Config.ResolveSnapshotDir(r.opts.ProjectRoot)

	db, err := graph.OpenSnapshotDB(dir)
	if err != nil {
		r.logger.Warn("snapshot store unavailable",
			slog.String("dir", dir),
			slog.Any("error", err))
		return nil
	}
	defer db.Close()

	mgr, err := graph.NewSnapshotManager(db, r.logger)
	if err != nil {
		r.logger.Warn("snapshot manager unavailable", slog.Any("error", err))
		return nil
	}

	meta, err := mgr.Save(ctx, rep.Graph, graph.SnapshotFindings{
		Cycles: rep.Cycles,
		Unused: rep.Unused,
	}, rep.RunID, r.opts.SnapshotLabel)
	if err != nil {
		r.logger.Warn("snapshot not saved", slog.Any("error", err))
		return nil
	}
	r.logger.Debug("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.String("dir", dir))
	return meta
}

// ExitCode maps a report to the process exit status.
//
// Cycles block whenever the cycle check ran. Unused declarations block only
// when the unused check ran alone; alongside the cycle check they are
// informational.
func ExitCode(r *report.Report) int {
	if r == nil {
		return ExitOK
	}
	if r.CycleCheck && len(r.Cycles) > 0 {
		return ExitFindings
	}
	if r.UnusedCheck && !r.CycleCheck && len(r.Unused) > 0 {
		return ExitFindings
	}
	return ExitOK
}
