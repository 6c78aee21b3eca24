// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ColorMode selects text styling.
type ColorMode int

const (
	// ColorAuto styles output only when the writer is a terminal.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode parses "auto", "always" or "never".
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	}
	return ColorAuto, fmt.Errorf("unknown color mode %q", s)
}

// TextOptions configures WriteText.
type TextOptions struct {
	Color ColorMode

	// Verbose lists unresolved relative imports and parse failures.
	Verbose bool
}

// styles renders the parts of the text report. The zero value is plain.
type styles struct {
	heading func(string) string
	failure func(string) string
	success func(string) string
	warning func(string) string
	dim     func(string) string
}

func plainStyles() styles {
	id := func(s string) string { return s }
	return styles{heading: id, failure: id, success: id, warning: id, dim: id}
}

func terminalStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	heading := r.NewStyle().Bold(true)
	failure := r.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	success := r.NewStyle().Foreground(lipgloss.Color("10"))
	warning := r.NewStyle().Foreground(lipgloss.Color("11"))
	dim := r.NewStyle().Faint(true)
	return styles{
		heading: func(s string) string { return heading.Render(s) },
		failure: func(s string) string { return failure.Render(s) },
		success: func(s string) string { return success.Render(s) },
		warning: func(s string) string { return warning.Render(s) },
		dim:     func(s string) string { return dim.Render(s) },
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WriteText writes the console report.
//
// Description:
//
//	The report lists skipped roots, then the cycles and unused declarations
//	of the checks that ran, each followed by a success line when the check
//	found nothing. Without styling the output depends only on the findings,
//	so unchanged input gives byte-identical reports.
//
// Inputs:
//
//	w - Destination.
//	r - Findings. Must not be nil.
//	opts - Styling and verbosity.
//
// Outputs:
//
//	error - Non-nil if r is nil or writing fails.
func WriteText(w io.Writer, r *Report, opts TextOptions) error {
	if r == nil {
		return fmt.Errorf("report must not be nil")
	}

	st := plainStyles()
	if opts.Color == ColorAlways || (opts.Color == ColorAuto && IsTerminal(w)) {
		st = terminalStyles(w)
	}

	bw := bufio.NewWriter(w)
	edges := 0
	if r.Graph != nil {
		edges = r.Graph.EdgeCount()
	}
	fmt.Fprintf(bw, "%s %d files, %d imports between them\n",
		st.heading("Analyzed"), r.FileCount(), edges)

	for _, root := range r.SkippedRoots {
		fmt.Fprintf(bw, "%s skipped root %q\n", st.warning("warning:"), root)
	}

	if r.CycleCheck {
		fmt.Fprintln(bw)
		if len(r.Cycles) == 0 {
			fmt.Fprintln(bw, st.success("No circular dependencies found."))
		} else {
			fmt.Fprintf(bw, "%s\n", st.failure(fmt.Sprintf("Found %d circular %s:", len(r.Cycles), plural(len(r.Cycles), "dependency", "dependencies"))))
			for i, c := range r.Cycles {
				fmt.Fprintf(bw, "  %d. %s\n", i+1, c.String())
			}
		}
	}

	if r.UnusedCheck {
		fmt.Fprintln(bw)
		if len(r.Unused) == 0 {
			fmt.Fprintln(bw, st.success("No unused declarations found."))
		} else {
			fmt.Fprintf(bw, "%s\n", st.failure(fmt.Sprintf("Found %d unused %s:", len(r.Unused), plural(len(r.Unused), "declaration", "declarations"))))
			for _, d := range r.Unused {
				fmt.Fprintf(bw, "  %s:%d:%d %s %s\n",
					d.FilePath, d.Location.Line, d.Location.Column+1, d.Name, st.dim("("+d.Kind.String()+")"))
			}
		}
	}

	if opts.Verbose {
		if len(r.Unresolved) > 0 {
			fmt.Fprintln(bw)
			fmt.Fprintln(bw, st.heading(fmt.Sprintf("Unresolved relative imports (%d):", len(r.Unresolved))))
			for _, u := range r.Unresolved {
				fmt.Fprintf(bw, "  %s:%d %q\n", u.FilePath, u.Location.Line, u.Specifier)
			}
		}
		if len(r.ParseFailures) > 0 {
			fmt.Fprintln(bw)
			fmt.Fprintln(bw, st.heading(fmt.Sprintf("Files not parsed (%d):", len(r.ParseFailures))))
			for _, f := range r.ParseFailures {
				fmt.Fprintf(bw, "  %s\n", f)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing text report: %w", err)
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
