// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts the module-level facts of TypeScript source files.
//
// The front-end produces, per file, the import specifiers that create module
// dependencies, the export table, the top-level declarations, and the free
// identifier occurrences that can refer to those declarations. It does not
// perform type checking.
package ast

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// DefaultMaxFileSize is the largest file the parser accepts (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the size above which a parse is logged as large (1MB).
	WarnFileSize = 1024 * 1024
)

var (
	// ErrFileTooLarge indicates the content exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("content is not valid UTF-8")
)

// DeclarationKind classifies a top-level declaration.
type DeclarationKind int

const (
	DeclarationKindUnknown DeclarationKind = iota
	DeclarationKindVariable
	DeclarationKindFunction
	DeclarationKindClass
	DeclarationKindInterface
	DeclarationKindTypeAlias
	DeclarationKindEnum
)

var declarationKindNames = map[DeclarationKind]string{
	DeclarationKindUnknown:   "unknown",
	DeclarationKindVariable:  "variable",
	DeclarationKindFunction:  "function",
	DeclarationKindClass:     "class",
	DeclarationKindInterface: "interface",
	DeclarationKindTypeAlias: "type",
	DeclarationKindEnum:      "enum",
}

// String returns the lowercase name of the kind.
func (k DeclarationKind) String() string {
	if name, ok := declarationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DeclarationKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k DeclarationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name. Unknown names decode to DeclarationKindUnknown.
func (k *DeclarationKind) UnmarshalText(text []byte) error {
	for kind, name := range declarationKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	*k = DeclarationKindUnknown
	return nil
}

// Location is a 1-based line and 0-based column in a source file.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ImportBinding is one name an import statement introduces into module scope.
//
// Imported is the name exported by the target module, "default" for a
// default import, or "*" for a namespace import.
type ImportBinding struct {
	Local    string `json:"local"`
	Imported string `json:"imported"`
}

// IsNamespace reports whether the binding names the whole target module.
func (b ImportBinding) IsNamespace() bool {
	return b.Imported == "*"
}

// Import is a module dependency found in a source file.
type Import struct {
	// Path is the raw specifier, e.g. "./user.service" or "react".
	Path string `json:"path"`

	// Bindings are the local names the import introduces. Empty for
	// side-effect imports and re-exports.
	Bindings []ImportBinding `json:"bindings,omitempty"`

	IsTypeOnly bool `json:"is_type_only,omitempty"`

	// IsReExport marks `export ... from` statements.
	IsReExport bool `json:"is_re_export,omitempty"`

	// IsDynamic marks `import("...")` expressions.
	IsDynamic bool `json:"is_dynamic,omitempty"`

	// IsCommonJS marks `require("...")` calls.
	IsCommonJS bool `json:"is_commonjs,omitempty"`

	Location Location `json:"location"`
}

// IsRelative reports whether the specifier is a relative path.
func (i Import) IsRelative() bool {
	return IsRelativeSpecifier(i.Path)
}

// IsRelativeSpecifier reports whether spec begins with ".".
func IsRelativeSpecifier(spec string) bool {
	return len(spec) > 0 && spec[0] == '.'
}

// Export is one entry of a module's export table.
//
// A local export has LocalName set (empty for anonymous default exports).
// A re-export has Source set and Imported naming the symbol in the source
// module, "*" for `export * as ns from`. Name "*" with a Source denotes
// `export * from`.
type Export struct {
	Name      string   `json:"name"`
	LocalName string   `json:"local_name,omitempty"`
	Source    string   `json:"source,omitempty"`
	Imported  string   `json:"imported,omitempty"`
	Location  Location `json:"location"`
}

// IsStar reports whether the entry is an `export * from` clause.
func (e Export) IsStar() bool {
	return e.Name == "*" && e.Source != ""
}

// IsReExport reports whether the entry forwards a symbol of another module.
func (e Export) IsReExport() bool {
	return e.Source != ""
}

// Declaration is a top-level declaration of a module.
type Declaration struct {
	FilePath string          `json:"file"`
	Name     string          `json:"name"`
	Kind     DeclarationKind `json:"kind"`
	Exported bool            `json:"exported"`
	Location Location        `json:"location"`
}

// Occurrence is a free reference to a name in a source file.
//
// Qualifier is set for namespace member accesses such as `ns.helper` or the
// type reference `ns.Options`; Name is then the member name.
type Occurrence struct {
	FilePath  string   `json:"file"`
	Name      string   `json:"name"`
	Qualifier string   `json:"qualifier,omitempty"`
	Location  Location `json:"location"`
}

// ParseResult is everything the front-end extracted from one file.
type ParseResult struct {
	// FilePath is project-relative with forward slashes.
	FilePath string

	Language string

	// Hash is the SHA-256 of the content, hex encoded.
	Hash string

	Imports      []Import
	Exports      []Export
	Declarations []Declaration
	Occurrences  []Occurrence

	// Errors are non-fatal problems, e.g. syntax errors tree-sitter recovered from.
	Errors []string
}

// NewEmptyResult returns the result of a file that contributes nothing.
//
// Used for files that could not be parsed: they remain graph nodes but have
// no imports and no symbols.
func NewEmptyResult(filePath string) *ParseResult {
	return &ParseResult{
		FilePath:     filePath,
		Language:     "typescript",
		Imports:      make([]Import, 0),
		Exports:      make([]Export, 0),
		Declarations: make([]Declaration, 0),
		Occurrences:  make([]Occurrence, 0),
		Errors:       make([]string, 0),
	}
}

// Validate checks the structural invariants of the result.
func (r *ParseResult) Validate() error {
	if r.FilePath == "" {
		return errors.New("file path is empty")
	}
	seen := make(map[string]struct{}, len(r.Declarations))
	for i, d := range r.Declarations {
		if d.Name == "" {
			return fmt.Errorf("declaration %d has empty name", i)
		}
		if d.FilePath != r.FilePath {
			return fmt.Errorf("declaration %q has file %q, want %q", d.Name, d.FilePath, r.FilePath)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("declaration %q recorded twice", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	for i, imp := range r.Imports {
		if imp.Path == "" {
			return fmt.Errorf("import %d has empty path", i)
		}
	}
	return nil
}

// ImportSpecifiers returns the raw specifiers in source order, duplicates included.
func (r *ParseResult) ImportSpecifiers() []string {
	specs := make([]string, 0, len(r.Imports))
	for _, imp := range r.Imports {
		specs = append(specs, imp.Path)
	}
	return specs
}

// ExportedNames returns the sorted, duplicate-free exported names.
// Star re-exports are not included.
func (r *ParseResult) ExportedNames() []string {
	set := make(map[string]struct{}, len(r.Exports))
	for _, e := range r.Exports {
		if e.IsStar() {
			continue
		}
		set[e.Name] = struct{}{}
	}
	return sortedKeys(set)
}

// DeclaredNames returns the sorted names of the top-level declarations.
func (r *ParseResult) DeclaredNames() []string {
	set := make(map[string]struct{}, len(r.Declarations))
	for _, d := range r.Declarations {
		set[d.Name] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
