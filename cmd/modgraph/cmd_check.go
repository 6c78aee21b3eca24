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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/modgraph/services/modgraph/check"
)

// runCheckCommand runs one analysis and records its exit code.
func (c *cli) runCheckCommand(cmd *cobra.Command, args []string) error {
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

	return c.withTelemetry(cmd.Context(), func(ctx context.Context) error {
		runner, err := check.NewRunner(check.Options{
			ProjectRoot:   projectRoot,
			Roots:         args,
			Config:        cfg,
			Checks:        check.ChecksFromFlags(c.check.circular, c.check.unused),
			SnapshotLabel: c.check.snapshotLabel,
			Emitters:      emitters,
			Logger:        c.logger,
		})
		if err != nil {
			return err
		}
		outcome, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		c.exitCode = outcome.ExitCode
		return nil
	})
}
