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
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// writeTree creates files under root. Paths use forward slashes.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", f, err)
		}
		if err := os.WriteFile(full, []byte("export {};\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
}

// parsed returns a parse result carrying the given import specifiers.
func parsed(path string, specifiers ...string) *ast.ParseResult {
	r := ast.NewEmptyResult(path)
	for i, s := range specifiers {
		r.Imports = append(r.Imports, ast.Import{
			Path:     s,
			Location: ast.Location{Line: i + 1, Column: 0},
		})
	}
	return r
}

func TestImportResolver_Resolve(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"src/app.ts",
		"src/util.ts",
		"src/view.tsx",
		"src/lib/index.ts",
		"src/compiled.ts",
		"shared/types.ts",
	}
	writeTree(t, root, files...)

	r, err := NewImportResolver(root, files)
	if err != nil {
		t.Fatalf("NewImportResolver: %v", err)
	}

	tests := []struct {
		name      string
		from      string
		specifier string
		want      string
		wantOK    bool
	}{
		{"exact path with extension", "src/app.ts", "./util.ts", "src/util.ts", true},
		{"appended .ts", "src/app.ts", "./util", "src/util.ts", true},
		{"appended .tsx", "src/app.ts", "./view", "src/view.tsx", true},
		{"index fallback", "src/app.ts", "./lib", "src/lib/index.ts", true},
		{"trailing slash index fallback", "src/app.ts", "./lib/", "src/lib/index.ts", true},
		{"js extension mapped to ts", "src/app.ts", "./compiled.js", "src/compiled.ts", true},
		{"parent directory", "src/lib/index.ts", "../../shared/types", "shared/types.ts", true},
		{"current directory", "src/lib/index.ts", ".", "src/lib/index.ts", true},
		{"missing file", "src/app.ts", "./missing", "", false},
		{"non-relative", "src/app.ts", "react", "", false},
		{"escapes project root", "src/app.ts", "../../outside", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.from, tt.specifier)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q, %q) ok = %v, want %v", tt.from, tt.specifier, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.from, tt.specifier, got, tt.want)
			}
		})
	}
}

func TestImportResolver_RequiresDiscoveryAndDisk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.ts", "on-disk-only.ts")

	// ghost.ts is discovered but was never written.
	r, err := NewImportResolver(root, []string{"a.ts", "ghost.ts"})
	if err != nil {
		t.Fatalf("NewImportResolver: %v", err)
	}

	if _, ok := r.Resolve("a.ts", "./ghost"); ok {
		t.Error("expected discovered-but-missing file to be unresolved")
	}
	if _, ok := r.Resolve("a.ts", "./on-disk-only"); ok {
		t.Error("expected undiscovered file to be unresolved")
	}
}

func TestImportResolver_DirectoryIsNotAFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.ts")
	if err := os.MkdirAll(filepath.Join(root, "pkg.ts"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	r, err := NewImportResolver(root, []string{"a.ts", "pkg.ts"})
	if err != nil {
		t.Fatalf("NewImportResolver: %v", err)
	}
	if _, ok := r.Resolve("a.ts", "./pkg"); ok {
		t.Error("a directory named like a source file must not resolve")
	}
}

func TestBuilder_Build(t *testing.T) {
	root := t.TempDir()
	files := []string{"src/a.ts", "src/b.ts", "src/lib/index.ts"}
	writeTree(t, root, files...)

	results := []*ast.ParseResult{
		parsed("src/a.ts", "./b", "./lib", "react", "./b.ts", "./missing"),
		parsed("src/b.ts", "./lib/index"),
		parsed("src/lib/index.ts"),
	}

	br, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), results)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	g := br.Graph
	if !g.IsFrozen() {
		t.Error("expected frozen graph")
	}
	if got := g.Nodes(); !reflect.DeepEqual(got, []string{"src/a.ts", "src/b.ts", "src/lib/index.ts"}) {
		t.Errorf("unexpected nodes %v", got)
	}

	// Duplicate "./b.ts" collapses into the first "./b" edge.
	if got := g.Dependencies("src/a.ts"); !reflect.DeepEqual(got, []string{"src/b.ts", "src/lib/index.ts"}) {
		t.Errorf("unexpected dependencies of a: %v", got)
	}
	if got := g.Dependencies("src/lib/index.ts"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil adjacency for leaf, got %v", got)
	}

	stats := br.Stats
	if stats.FilesProcessed != 3 {
		t.Errorf("FilesProcessed = %d, want 3", stats.FilesProcessed)
	}
	if stats.ExternalImports != 1 {
		t.Errorf("ExternalImports = %d, want 1", stats.ExternalImports)
	}
	if stats.UnresolvedImports != 1 {
		t.Errorf("UnresolvedImports = %d, want 1", stats.UnresolvedImports)
	}
	if stats.EdgesCreated != 3 {
		t.Errorf("EdgesCreated = %d, want 3", stats.EdgesCreated)
	}
	if len(br.Unresolved) != 1 || br.Unresolved[0].Specifier != "./missing" {
		t.Errorf("unexpected unresolved list %v", br.Unresolved)
	}
	if br.Resolver == nil {
		t.Error("expected resolver on build result")
	}
}

func TestBuilder_IndexFallback(t *testing.T) {
	t.Run("index present", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, "src/a.ts", "src/lib/index.ts")

		br, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []*ast.ParseResult{
			parsed("src/a.ts", "./lib"),
			parsed("src/lib/index.ts"),
		})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if got := br.Graph.Dependencies("src/a.ts"); !reflect.DeepEqual(got, []string{"src/lib/index.ts"}) {
			t.Errorf("expected edge to index file, got %v", got)
		}
	})

	t.Run("index absent", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, "src/a.ts")
		if err := os.MkdirAll(filepath.Join(root, "src", "lib"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}

		br, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []*ast.ParseResult{
			parsed("src/a.ts", "./lib"),
		})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if br.Graph.EdgeCount() != 0 {
			t.Errorf("expected no edges, got %v", br.Graph.Edges())
		}
		if br.Stats.UnresolvedImports != 1 {
			t.Errorf("UnresolvedImports = %d, want 1", br.Stats.UnresolvedImports)
		}
	})
}

func TestBuilder_ImportKinds(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.ts", "lazy.ts", "legacy.ts", "types.ts")

	results := []*ast.ParseResult{
		{
			FilePath: "a.ts",
			Imports: []ast.Import{
				{Path: "./lazy", IsDynamic: true},
				{Path: "./legacy", IsCommonJS: true},
				{Path: "./types", IsTypeOnly: true},
			},
		},
		parsed("lazy.ts"),
		parsed("legacy.ts"),
		parsed("types.ts"),
	}

	tests := []struct {
		name string
		opts []BuilderOption
		want []string
	}{
		{
			name: "defaults",
			want: []string{"legacy.ts", "types.ts"},
		},
		{
			name: "with dynamic imports",
			opts: []BuilderOption{WithDynamicImports(true)},
			want: []string{"lazy.ts", "legacy.ts", "types.ts"},
		},
		{
			name: "without commonjs and type-only",
			opts: []BuilderOption{WithCommonJS(false), WithTypeOnlyImports(false)},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]BuilderOption{WithProjectRoot(root)}, tt.opts...)
			br, err := NewBuilder(opts...).Build(context.Background(), results)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := br.Graph.Dependencies("a.ts"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("dependencies = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuilder_CarriesExports(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.ts")

	r := parsed("a.ts")
	r.Exports = []ast.Export{{Name: "zeta"}, {Name: "alpha"}, {Name: "*", Source: "./other"}}

	br, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []*ast.ParseResult{r})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := br.Graph.Exports("a.ts"); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("exports = %v, want [alpha zeta]", got)
	}
}

func TestBuilder_BuildsCycleGraph(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.ts", "b.ts")

	br, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []*ast.ParseResult{
		parsed("a.ts", "./b"),
		parsed("b.ts", "./a"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cycles := DetectCycles(br.Graph)
	want := []Cycle{{"a.ts", "b.ts", "a.ts"}}
	if !reflect.DeepEqual(cycles, want) {
		t.Errorf("cycles = %v, want %v", cycles, want)
	}
}

func TestBuilder_InvalidInput(t *testing.T) {
	root := t.TempDir()

	t.Run("nil result", func(t *testing.T) {
		_, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []*ast.ParseResult{nil})
		if err == nil {
			t.Fatal("expected error for nil result")
		}
	})

	t.Run("duplicate path", func(t *testing.T) {
		_, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []*ast.ParseResult{
			parsed("a.ts"), parsed("a.ts"),
		})
		if err == nil {
			t.Fatal("expected error for duplicate path")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewBuilder(WithProjectRoot(root)).Build(ctx, []*ast.ParseResult{parsed("a.ts")})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestBuilder_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.ts", "b.ts", "c.ts")
	results := []*ast.ParseResult{
		parsed("a.ts", "./b", "./c"),
		parsed("b.ts", "./c"),
		parsed("c.ts", "./a"),
	}

	first, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), results)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), results)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if first.Graph.Hash() != second.Graph.Hash() {
		t.Error("expected identical graph hashes across builds")
	}
	if !reflect.DeepEqual(DetectCycles(first.Graph), DetectCycles(second.Graph)) {
		t.Error("expected identical cycles across builds")
	}
}
