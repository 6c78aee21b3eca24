// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/modgraph/services/modgraph/check"
)

var (
	watchDebounce    time.Duration
	watchMinInterval time.Duration
)

func (c *cli) newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [flags] [dir...]",
		Short: "Rerun the check whenever a source file changes",
		Long: `Run the check, then run it again after every change to a source file
under the roots. Each run rebuilds the graph from scratch and reloads the
configuration. Stop with Ctrl-C.`,
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               c.runWatchCommand,
	}
	c.addCheckFlags(cmd)
	cmd.Flags().DurationVar(&watchDebounce, "debounce", check.DefaultDebounce, "quiet period before a rerun")
	cmd.Flags().DurationVar(&watchMinInterval, "min-interval", check.DefaultMinInterval, "minimum time between runs")
	return cmd
}

func (c *cli) runWatchCommand(cmd *cobra.Command, args []string) error {
	projectRoot, err := c.projectRoot()
	if err != nil {
		return err
	}
	cfg, err := c.loadConfig(projectRoot)
	if err != nil {
		return err
	}
	emitters, err := c.emitters()
	if err != nil {
		return err
	}

	roots := args
	if len(roots) == 0 {
		roots = cfg.Roots
	}
	dirs := make([]string, 0, len(roots))
	for _, r := range roots {
		if !filepath.IsAbs(r) {
			r = filepath.Join(projectRoot, r)
		}
		dirs = append(dirs, r)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func(ctx context.Context) error {
		// Each run sees the current configuration file.
		runCfg, err := c.loadConfig(projectRoot)
		if err != nil {
			return err
		}
		runner, err := check.NewRunner(check.Options{
			ProjectRoot:   projectRoot,
			Roots:         args,
			Config:        runCfg,
			Checks:        check.ChecksFromFlags(c.check.circular, c.check.unused),
			SnapshotLabel: c.check.snapshotLabel,
			Emitters:      emitters,
			Logger:        c.logger,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "\n[%s]\n", time.Now().Format(time.TimeOnly))
		outcome, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		c.logger.Info("watch run finished", slog.Int("exit_code", outcome.ExitCode))
		return nil
	}

	return c.withTelemetry(ctx, func(ctx context.Context) error {
		return check.Watch(ctx, check.WatchOptions{
			Dirs:        dirs,
			Extensions:  cfg.Extensions,
			ExcludeDirs: cfg.ExcludeDirs,
			Debounce:    watchDebounce,
			MinInterval: watchMinInterval,
			Logger:      c.logger,
		}, run)
	})
}
