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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/modgraph/services/modgraph/check"
	"github.com/AleutianAI/modgraph/services/modgraph/graph"
)

var (
	snapshotsLimit int
	snapshotsJSON  bool
)

// errHistoryDisabled is returned when no snapshot directory is configured.
var errHistoryDisabled = errors.New("snapshot history is disabled: set snapshot_dir or --snapshot-dir")

func (c *cli) newSnapshotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect the snapshot history of past checks",
	}

	list := &cobra.Command{
		Use:                "list",
		Short:              "List saved snapshots, newest first",
		Args:               cobra.NoArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               c.runSnapshotsListCommand,
	}
	list.Flags().IntVar(&snapshotsLimit, "limit", 20, "maximum number of snapshots")

	diff := &cobra.Command{
		Use:   "diff [base-id target-id]",
		Short: "Compare two snapshots (default: the two newest)",
		Long: `Compare two snapshots. Without arguments the second-newest snapshot is
compared with the newest. Exits 1 when the target introduces cycles or
unused declarations.`,
		Args:               cobra.RangeArgs(0, 2),
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               c.runSnapshotsDiffCommand,
	}
	diff.Flags().BoolVar(&snapshotsJSON, "json", false, "print the diff as JSON")

	cmd.AddCommand(list, diff)
	return cmd
}

// openSnapshots opens the history store of the project. The returned func
// closes the store.
func (c *cli) openSnapshots() (*graph.SnapshotManager, string, func(), error) {
	projectRoot, err := c.projectRoot()
	if err != nil {
		return nil, "", nil, err
	}
	cfg, err := c.loadConfig(projectRoot)
	if err != nil {
		return nil, "", nil, err
	}
	dir := cfg.ResolveSnapshotDir(projectRoot)
	if dir == "" {
		return nil, "", nil, errHistoryDisabled
	}

	db, err := graph.OpenSnapshotDB(dir)
	if err != nil {
		return nil, "", nil, err
	}
	mgr, err := graph.NewSnapshotManager(db, c.logger)
	if err != nil {
		db.Close()
		return nil, "", nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			c.logger.Warn("closing snapshot store", slog.Any("error", err))
		}
	}
	return mgr, graph.ProjectHash(projectRoot), closeDB, nil
}

func (c *cli) runSnapshotsListCommand(cmd *cobra.Command, _ []string) error {
	mgr, projectHash, closeDB, err := c.openSnapshots()
	if err != nil {
		return err
	}
	defer closeDB()

	metas, err := mgr.List(cmd.Context(), projectHash, snapshotsLimit)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(c.stdout, "No snapshots.")
		return nil
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tFILES\tIMPORTS\tCYCLES\tUNUSED\tLABEL")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			m.SnapshotID,
			time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339),
			m.NodeCount, m.EdgeCount, m.CycleCount, m.UnusedCount, m.Label)
	}
	return tw.Flush()
}

func (c *cli) runSnapshotsDiffCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, projectHash, closeDB, err := c.openSnapshots()
	if err != nil {
		return err
	}
	defer closeDB()

	baseID, targetID := "", ""
	switch len(args) {
	case 2:
		baseID, targetID = args[0], args[1]
	case 1:
		return fmt.Errorf("diff needs two snapshot IDs or none")
	default:
		metas, err := mgr.List(ctx, projectHash, 2)
		if err != nil {
			return err
		}
		if len(metas) < 2 {
			return fmt.Errorf("diff needs at least two snapshots, found %d", len(metas))
		}
		baseID, targetID = metas[1].SnapshotID, metas[0].SnapshotID
	}

	base, err := mgr.Load(ctx, baseID)
	if err != nil {
		return err
	}
	target, err := mgr.Load(ctx, targetID)
	if err != nil {
		return err
	}
	diff, err := graph.DiffSnapshots(base, target)
	if err != nil {
		return err
	}

	if snapshotsJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diff); err != nil {
			return err
		}
	} else {
		writeDiffText(c.stdout, diff)
	}

	if diff.Summary.Regressed {
		c.exitCode = check.ExitFindings
	}
	return nil
}

func writeDiffText(w io.Writer, d *graph.SnapshotDiff) {
	fmt.Fprintf(w, "%s -> %s: %d changes in %d files\n",
		d.BaseSnapshotID, d.TargetSnapshotID, d.Summary.TotalChanges, d.Summary.FilesAffected)
	for _, n := range d.NodesAdded {
		fmt.Fprintf(w, "  + file   %s\n", n)
	}
	for _, n := range d.NodesRemoved {
		fmt.Fprintf(w, "  - file   %s\n", n)
	}
	for _, e := range d.EdgesAdded {
		fmt.Fprintf(w, "  + import %s -> %s\n", e.From, e.To)
	}
	for _, e := range d.EdgesRemoved {
		fmt.Fprintf(w, "  - import %s -> %s\n", e.From, e.To)
	}
	for _, cy := range d.CyclesIntroduced {
		fmt.Fprintf(w, "  + cycle  %s\n", cy.String())
	}
	for _, cy := range d.CyclesResolved {
		fmt.Fprintf(w, "  - cycle  %s\n", cy.String())
	}
	for _, u := range d.UnusedIntroduced {
		fmt.Fprintf(w, "  + unused %s\n", u)
	}
	for _, u := range d.UnusedResolved {
		fmt.Fprintf(w, "  - unused %s\n", u)
	}
}
