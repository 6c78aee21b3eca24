// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package usage

import (
	"log/slog"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// DefaultMaxHops bounds how many re-export hops are followed for one lookup.
const DefaultMaxHops = 16

// ImportResolver maps a relative import specifier to a discovered file.
//
// graph.ImportResolver satisfies this interface.
type ImportResolver interface {
	Resolve(fromFile, specifier string) (string, bool)
}

// DeclarationSite identifies a top-level declaration.
type DeclarationSite struct {
	FilePath string `json:"file"`
	Name     string `json:"name"`
}

// String renders the site as "file:name".
func (s DeclarationSite) String() string {
	return s.FilePath + ":" + s.Name
}

// SymbolResolver links an identifier occurrence to the declaration it refers to.
//
// Implementations return false when the occurrence cannot be linked, for
// example globals, external package imports or names the front-end could not
// follow. An unresolved occurrence is not a usage of anything.
type SymbolResolver interface {
	ResolveDeclarationSite(occ ast.Occurrence) (DeclarationSite, bool)
}

// importEntry is one local binding created by an import statement.
type importEntry struct {
	specifier string
	imported  string
}

// fileSymbols is the per-file lookup table of ProjectResolver.
type fileSymbols struct {
	declared map[string]struct{}
	imports  map[string]importEntry
	exports  map[string][]ast.Export
	stars    []string
}

// ResolverOption configures a ProjectResolver.
type ResolverOption func(*ProjectResolver)

// WithMaxHops sets the re-export hop limit.
func WithMaxHops(n int) ResolverOption {
	return func(r *ProjectResolver) {
		if n > 0 {
			r.maxHops = n
		}
	}
}

// WithResolverLogger sets the logger for resolution misses.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *ProjectResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// ProjectResolver resolves occurrences against the whole discovered file set.
//
// Description:
//
//	An unqualified name resolves to the top-level declaration of the same
//	file first. Otherwise, if the file imports the name, the import is
//	followed to the exporting file and through its export table:
//
//	  - `export { a as b }` and `export default a` map to local declarations
//	  - `export { x } from "./y"` follows to ./y
//	  - `export * from "./y"` is searched when no explicit export matches
//	  - a name exported after being imported follows that import
//
//	A qualified occurrence `ns.x` resolves x in the module that the
//	namespace import `ns` refers to. If ns is not a namespace import, the
//	qualifier itself is resolved.
//
//	Each lookup follows at most maxHops re-exports, which also terminates
//	re-export cycles.
//
// Thread Safety:
//
//	Safe for concurrent use after construction if the ImportResolver is.
type ProjectResolver struct {
	files   map[string]*fileSymbols
	imports ImportResolver
	maxHops int
	logger  *slog.Logger
}

// NewProjectResolver indexes parse results for declaration-site lookups.
//
// Inputs:
//
//	results - Parse results of every discovered file. Nil entries are ignored.
//	imports - Resolver for relative import specifiers. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*ProjectResolver - The resolver.
func NewProjectResolver(results []*ast.ParseResult, imports ImportResolver, opts ...ResolverOption) *ProjectResolver {
	r := &ProjectResolver{
		files:   make(map[string]*fileSymbols, len(results)),
		imports: imports,
		maxHops: DefaultMaxHops,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		fs := &fileSymbols{
			declared: make(map[string]struct{}, len(res.Declarations)),
			imports:  make(map[string]importEntry),
			exports:  make(map[string][]ast.Export, len(res.Exports)),
		}
		for _, d := range res.Declarations {
			fs.declared[d.Name] = struct{}{}
		}
		for _, imp := range res.Imports {
			// Re-export bindings are not local names.
			if imp.IsReExport || imp.IsDynamic {
				continue
			}
			for _, b := range imp.Bindings {
				if _, dup := fs.imports[b.Local]; dup {
					continue
				}
				fs.imports[b.Local] = importEntry{specifier: imp.Path, imported: b.Imported}
			}
		}
		for _, e := range res.Exports {
			if e.IsStar() {
				fs.stars = append(fs.stars, e.Source)
				continue
			}
			fs.exports[e.Name] = append(fs.exports[e.Name], e)
		}
		r.files[res.FilePath] = fs
	}
	return r
}

// ResolveDeclarationSite implements SymbolResolver.
func (r *ProjectResolver) ResolveDeclarationSite(occ ast.Occurrence) (DeclarationSite, bool) {
	if occ.Name == "" {
		return DeclarationSite{}, false
	}

	var (
		site DeclarationSite
		ok   bool
	)
	if occ.Qualifier != "" {
		if module, isNamespace := r.namespaceModule(occ.FilePath, occ.Qualifier, 0); isNamespace {
			site, ok = r.resolveExport(module, occ.Name, 0)
		} else {
			site, ok = r.resolveLocal(occ.FilePath, occ.Qualifier, 0)
		}
	} else {
		site, ok = r.resolveLocal(occ.FilePath, occ.Name, 0)
	}

	if !ok {
		r.logger.Debug("occurrence not resolved",
			slog.String("file", occ.FilePath),
			slog.String("qualifier", occ.Qualifier),
			slog.String("name", occ.Name))
	}
	return site, ok
}

// resolveLocal resolves a name visible at the top level of file.
func (r *ProjectResolver) resolveLocal(file, name string, hops int) (DeclarationSite, bool) {
	fs, ok := r.files[file]
	if !ok {
		return DeclarationSite{}, false
	}
	if _, declared := fs.declared[name]; declared {
		return DeclarationSite{FilePath: file, Name: name}, true
	}
	entry, imported := fs.imports[name]
	if !imported || entry.imported == "*" {
		return DeclarationSite{}, false
	}
	target, ok := r.resolveModule(file, entry.specifier)
	if !ok {
		return DeclarationSite{}, false
	}
	return r.resolveExport(target, entry.imported, hops+1)
}

// resolveExport resolves the symbol file exports under name.
func (r *ProjectResolver) resolveExport(file, name string, hops int) (DeclarationSite, bool) {
	if hops > r.maxHops {
		r.logger.Debug("re-export hop limit reached",
			slog.String("file", file),
			slog.String("name", name))
		return DeclarationSite{}, false
	}
	fs, ok := r.files[file]
	if !ok {
		return DeclarationSite{}, false
	}

	for _, e := range fs.exports[name] {
		if e.IsReExport() {
			if e.Imported == "*" {
				continue
			}
			target, ok := r.resolveModule(file, e.Source)
			if !ok {
				continue
			}
			if site, ok := r.resolveExport(target, e.Imported, hops+1); ok {
				return site, true
			}
			continue
		}
		if e.LocalName == "" {
			continue
		}
		if site, ok := r.resolveLocal(file, e.LocalName, hops); ok {
			return site, true
		}
	}

	// `export * from` never forwards the default export.
	if name == "default" {
		return DeclarationSite{}, false
	}
	for _, source := range fs.stars {
		target, ok := r.resolveModule(file, source)
		if !ok {
			continue
		}
		if site, ok := r.resolveExport(target, name, hops+1); ok {
			return site, true
		}
	}
	return DeclarationSite{}, false
}

// namespaceModule reports the module a namespace binding of file refers to.
// Both `import * as ns` and an imported `export * as ns from` count.
func (r *ProjectResolver) namespaceModule(file, local string, hops int) (string, bool) {
	if hops > r.maxHops {
		return "", false
	}
	fs, ok := r.files[file]
	if !ok {
		return "", false
	}
	if _, declared := fs.declared[local]; declared {
		return "", false
	}
	entry, ok := fs.imports[local]
	if !ok {
		return "", false
	}
	target, ok := r.resolveModule(file, entry.specifier)
	if !ok {
		return "", false
	}
	if entry.imported == "*" {
		return target, true
	}
	return r.exportedNamespace(target, entry.imported, hops+1)
}

// exportedNamespace follows `export * as name from` entries of file.
func (r *ProjectResolver) exportedNamespace(file, name string, hops int) (string, bool) {
	if hops > r.maxHops {
		return "", false
	}
	fs, ok := r.files[file]
	if !ok {
		return "", false
	}
	for _, e := range fs.exports[name] {
		switch {
		case e.IsReExport() && e.Imported == "*":
			return r.resolveModule(file, e.Source)
		case e.IsReExport():
			if target, ok := r.resolveModule(file, e.Source); ok {
				return r.exportedNamespace(target, e.Imported, hops+1)
			}
		case e.LocalName != "":
			return r.namespaceModule(file, e.LocalName, hops+1)
		}
	}
	return "", false
}

func (r *ProjectResolver) resolveModule(file, specifier string) (string, bool) {
	if r.imports == nil || !ast.IsRelativeSpecifier(specifier) {
		return "", false
	}
	return r.imports.Resolve(file, specifier)
}
