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
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// DefaultResolverCacheSize is the number of filesystem probes the resolver remembers.
const DefaultResolverCacheSize = 4096

// DefaultExtensions are the source extensions tried during resolution, in order.
var DefaultExtensions = []string{".ts", ".tsx"}

// jsExtensionMap maps compiled-output extensions written in specifiers to
// the source extensions that produce them.
var jsExtensionMap = map[string][]string{
	".js":  {".ts", ".tsx"},
	".jsx": {".tsx", ".ts"},
	".mjs": {".mts"},
	".cjs": {".cts"},
}

// ResolverOption configures an ImportResolver.
type ResolverOption func(*ImportResolver)

// WithResolverExtensions sets the source extensions, in resolution order.
func WithResolverExtensions(exts []string) ResolverOption {
	return func(r *ImportResolver) {
		if len(exts) > 0 {
			r.extensions = append([]string(nil), exts...)
		}
	}
}

// WithResolverLogger sets the logger for resolution misses.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *ImportResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// ImportResolver maps relative import specifiers to discovered files.
//
// Description:
//
//	A specifier beginning with "." is resolved against the directory of the
//	importing file. Candidates are tried in order:
//
//	  1. the path itself, if it carries a source extension
//	  2. the path with each source extension appended
//	  3. a ".js", ".jsx", ".mjs" or ".cjs" path mapped to its TypeScript source
//	  4. "<path>/index<ext>" for each source extension
//
//	The first candidate that is a discovered file and exists on disk wins.
//	Disk probes are cached, so repeated lookups of the same candidate cost
//	one stat.
//
// Thread Safety:
//
//	Safe for concurrent use. The probe cache is internally synchronized.
type ImportResolver struct {
	projectRoot string
	extensions  []string
	known       map[string]struct{}
	probes      *lru.Cache[string, bool]
	logger      *slog.Logger
}

// NewImportResolver creates a resolver over the given discovered files.
//
// Inputs:
//
//	projectRoot - Absolute path the file paths are relative to.
//	files - Project-relative, forward-slash paths of discovered files.
//	opts - Optional configuration.
//
// Outputs:
//
//	*ImportResolver - The resolver.
//	error - Non-nil if the probe cache cannot be created.
func NewImportResolver(projectRoot string, files []string, opts ...ResolverOption) (*ImportResolver, error) {
	probes, err := lru.New[string, bool](DefaultResolverCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating probe cache: %w", err)
	}

	r := &ImportResolver{
		projectRoot: projectRoot,
		extensions:  append([]string(nil), DefaultExtensions...),
		known:       make(map[string]struct{}, len(files)),
		probes:      probes,
		logger:      slog.Default(),
	}
	for _, f := range files {
		r.known[f] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the discovered file a relative specifier refers to.
//
// Inputs:
//
//	fromFile - Project-relative path of the importing file.
//	specifier - The raw import specifier.
//
// Outputs:
//
//	string - Project-relative path of the target file.
//	bool - False for non-relative specifiers and for targets that are not
//	       discovered files on disk.
func (r *ImportResolver) Resolve(fromFile, specifier string) (string, bool) {
	if !ast.IsRelativeSpecifier(specifier) {
		return "", false
	}

	base := path.Join(path.Dir(fromFile), specifier)
	if base == ".." || strings.HasPrefix(base, "../") {
		r.logger.Debug("import escapes project root",
			slog.String("file", fromFile),
			slog.String("specifier", specifier))
		return "", false
	}

	for _, candidate := range r.candidates(base) {
		if r.isSourceFile(candidate) {
			return candidate, true
		}
	}

	r.logger.Debug("unresolved relative import",
		slog.String("file", fromFile),
		slog.String("specifier", specifier))
	return "", false
}

// candidates lists the paths tried for base, in resolution order.
func (r *ImportResolver) candidates(base string) []string {
	ext := path.Ext(base)
	out := make([]string, 0, 2*len(r.extensions)+3)

	if r.hasSourceExtension(base) {
		out = append(out, base)
	}
	for _, e := range r.extensions {
		out = append(out, base+e)
	}
	if mapped, ok := jsExtensionMap[ext]; ok {
		stem := strings.TrimSuffix(base, ext)
		for _, e := range mapped {
			out = append(out, stem+e)
		}
	}
	for _, e := range r.extensions {
		out = append(out, base+"/index"+e)
	}
	return out
}

func (r *ImportResolver) hasSourceExtension(p string) bool {
	for _, e := range r.extensions {
		if strings.HasSuffix(p, e) {
			return true
		}
	}
	return false
}

// isSourceFile reports whether candidate is discovered and a regular file on disk.
func (r *ImportResolver) isSourceFile(candidate string) bool {
	if _, ok := r.known[candidate]; !ok {
		return false
	}
	if exists, ok := r.probes.Get(candidate); ok {
		return exists
	}
	info, err := os.Stat(filepath.Join(r.projectRoot, filepath.FromSlash(candidate)))
	exists := err == nil && info.Mode().IsRegular()
	r.probes.Add(candidate, exists)
	return exists
}
