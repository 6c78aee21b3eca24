// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command modgraph checks a TypeScript source tree for import cycles and
// unused top-level declarations.
//
// Usage:
//
//	modgraph [flags] [dir...]
//	modgraph graph [dir...]
//	modgraph watch [flags] [dir...]
//	modgraph snapshots list|diff
//
// Exit status is 0 when no blocking finding exists, 1 when the cycle check
// found a cycle or the unused check alone found an unused declaration, and
// 2 on configuration or I/O errors.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/modgraph/services/modgraph/check"
	"github.com/AleutianAI/modgraph/services/modgraph/config"
	"github.com/AleutianAI/modgraph/services/modgraph/report"
	"github.com/AleutianAI/modgraph/services/modgraph/telemetry"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath      string
	projectRoot     string
	logLevel        string
	snapshotDir     string
	traceFile       string
	metricsFile     string
	metricsJSONFile string
	otlpEndpoint    string
}

// checkFlags select and render the analyses of a check or watch run.
type checkFlags struct {
	circular      bool
	unused        bool
	dotFile       string
	jsonOutput    bool
	color         string
	verbose       bool
	snapshotLabel string
}

// cli holds the state of one invocation.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	global globalFlags
	check  checkFlags
	logger *slog.Logger

	// exitCode is set by commands that finish with findings.
	exitCode int
}

// execute runs the command line and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, logger: slog.New(slog.DiscardHandler)}
	root := c.newRootCommand()
	root.SetArgs(dropUnknownFlags(root, args))
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "modgraph: %v\n", err)
		return check.ExitError
	}
	return c.exitCode
}

// dropUnknownFlags removes flag tokens that no command in the tree defines.
// Unknown flags are ignored, and left in place pflag would take the
// following argument as their value.
func dropUnknownFlags(root *cobra.Command, args []string) []string {
	long := make(map[string]*pflag.Flag)
	short := make(map[string]*pflag.Flag)
	add := func(f *pflag.Flag) {
		long[f.Name] = f
		if f.Shorthand != "" {
			short[f.Shorthand] = f
		}
	}
	var collect func(cmd *cobra.Command)
	collect = func(cmd *cobra.Command) {
		cmd.InitDefaultHelpFlag()
		cmd.Flags().VisitAll(add)
		cmd.PersistentFlags().VisitAll(add)
		for _, sub := range cmd.Commands() {
			collect(sub)
		}
	}
	collect(root)

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if len(arg) < 2 || arg[0] != '-' {
			out = append(out, arg)
			continue
		}

		var f *pflag.Flag
		var inline bool
		if strings.HasPrefix(arg, "--") {
			name, _, hasValue := strings.Cut(arg[2:], "=")
			f, inline = long[name], hasValue
		} else {
			f, inline = short[arg[1:2]], len(arg) > 2
		}
		if f == nil {
			continue
		}
		out = append(out, arg)
		// A value flag without an inline value owns the next token.
		if !inline && f.NoOptDefVal == "" && i+1 < len(args) {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

func (c *cli) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "modgraph [flags] [dir...]",
		Short: "Find import cycles and unused declarations in TypeScript sources",
		Long: `modgraph discovers the .ts and .tsx files under the given directories
(default: the roots of modgraph.config.yaml, or "src"), builds the
file-level graph of relative imports and reports import cycles and
top-level declarations that are never referenced.

A directory named like a subcommand (graph, watch, snapshots) is taken
as that subcommand; pass it with a path prefix instead, e.g. ./graph.`,
		Args:               cobra.ArbitraryArgs,
		SilenceUsage:       true,
		SilenceErrors:      true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setupLogger()
		},
		RunE: c.runCheckCommand,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.global.configPath, "config", "", "configuration file (default: <project-root>/"+config.FileName+")")
	pf.StringVar(&c.global.projectRoot, "project-root", ".", "project root directory")
	pf.StringVar(&c.global.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&c.global.snapshotDir, "snapshot-dir", "", "snapshot history directory (overrides snapshot_dir)")
	pf.StringVar(&c.global.traceFile, "trace-file", "", "write OpenTelemetry spans as JSON to this file")
	pf.StringVar(&c.global.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	pf.StringVar(&c.global.metricsJSONFile, "metrics-json-file", "", "write OpenTelemetry metrics as JSON to this file on exit")
	pf.StringVar(&c.global.otlpEndpoint, "otlp-endpoint", "", "export spans to this OTLP/gRPC collector (host:port)")

	c.addCheckFlags(root)

	root.AddCommand(
		c.newGraphCommand(),
		c.newWatchCommand(),
		c.newSnapshotsCommand(),
	)
	return root
}

func (c *cli) addCheckFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&c.check.circular, "circular", false, "only check for import cycles")
	f.BoolVar(&c.check.unused, "unused", false, "only check for unused declarations")
	f.StringVar(&c.check.dotFile, "dot", "", "write the import graph in DOT format to this file")
	f.BoolVar(&c.check.jsonOutput, "json", false, "print the report as JSON")
	f.StringVar(&c.check.color, "color", "auto", "colorize output: auto, always, never")
	f.BoolVar(&c.check.verbose, "verbose", false, "list unresolved imports and unparsed files")
	f.StringVar(&c.check.snapshotLabel, "snapshot-label", "", "label for the saved snapshot")
}

func (c *cli) setupLogger() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.global.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", c.global.logLevel)
	}
	c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(c.logger)
	return nil
}

// projectRoot returns the absolute project root.
func (c *cli) projectRoot() (string, error) {
	root, err := filepath.Abs(c.global.projectRoot)
	if err != nil {
		return "", fmt.Errorf("resolving project root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", root)
	}
	return root, nil
}

// loadConfig reads the project configuration and applies flag overrides.
func (c *cli) loadConfig(projectRoot string) (*config.Config, error) {
	cfg, err := config.Load(projectRoot, c.global.configPath)
	if err != nil {
		return nil, err
	}
	if c.global.snapshotDir != "" {
		cfg.SnapshotDir = c.global.snapshotDir
	}
	if cfg.Source != "" {
		c.logger.Debug("configuration loaded", slog.String("path", cfg.Source))
	}
	return cfg, nil
}

// withTelemetry runs fn with the telemetry sinks of the global flags and
// flushes them afterwards.
func (c *cli) withTelemetry(ctx context.Context, fn func(ctx context.Context) error) error {
	tel, err := telemetry.Setup(ctx, telemetry.Options{
		TraceFile:       c.global.traceFile,
		OTLPEndpoint:    c.global.otlpEndpoint,
		MetricsFile:     c.global.metricsFile,
		MetricsJSONFile: c.global.metricsJSONFile,
		Logger:          c.logger,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}

	runErr := fn(ctx)
	if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("telemetry shutdown", slog.Any("error", err))
	}
	return runErr
}

// emitters returns the report writers selected by the check flags.
func (c *cli) emitters() ([]check.Emitter, error) {
	mode, err := report.ParseColorMode(c.check.color)
	if err != nil {
		return nil, err
	}

	var out []check.Emitter
	if c.check.dotFile != "" {
		path := c.check.dotFile
		out = append(out, func(r *report.Report) error {
			return writeDOTFile(path, r)
		})
	}
	if c.check.jsonOutput {
		out = append(out, func(r *report.Report) error {
			return report.WriteJSON(c.stdout, r)
		})
	} else {
		opts := report.TextOptions{Color: mode, Verbose: c.check.verbose}
		out = append(out, func(r *report.Report) error {
			return report.WriteText(c.stdout, r, opts)
		})
	}
	return out, nil
}

func writeDOTFile(path string, r *report.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating DOT file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing DOT file: %w", cerr)
		}
	}()
	return report.WriteDOT(f, r.Graph, r.Cycles)
}
