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
	"github.com/AleutianAI/modgraph/services/modgraph/report"
)

func (c *cli) newGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "graph [dir...]",
		Short:              "Print the import graph in DOT format",
		Long:               "Print the file-level import graph in Graphviz DOT format. Edges on import cycles are drawn in red.",
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               c.runGraphCommand,
	}
}

// runGraphCommand writes DOT to stdout. Cycles are highlighted but do not
// affect the exit code.
func (c *cli) runGraphCommand(cmd *cobra.Command, args []string) error {
	projectRoot, err := c.projectRoot()
	if err != nil {
		return err
	}
	cfg, err := c.loadConfig(projectRoot)
	if err != nil {
		return err
	}
	// History records full checks only.
	cfg.SnapshotDir = ""

	return c.withTelemetry(cmd.Context(), func(ctx context.Context) error {
		runner, err := check.NewRunner(check.Options{
			ProjectRoot: projectRoot,
			Roots:       args,
			Config:      cfg,
			Checks:      check.Checks{Cycles: true},
			Emitters: []check.Emitter{func(r *report.Report) error {
				return report.WriteDOT(c.stdout, r.Graph, r.Cycles)
			}},
			Logger: c.logger,
		})
		if err != nil {
			return err
		}
		_, err = runner.Run(ctx)
		return err
	})
}
