// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TypeScriptParserOption configures a TypeScriptParser instance.
type TypeScriptParserOption func(*TypeScriptParser)

// WithTypeScriptMaxFileSize sets the maximum file size the parser will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Non-positive values are ignored.
//
// Example:
//
//	parser := NewTypeScriptParser(WithTypeScriptMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithTypeScriptMaxFileSize(bytes int64) TypeScriptParserOption {
	return func(p *TypeScriptParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithTypeScriptLogger sets the logger used for parse warnings.
func WithTypeScriptLogger(logger *slog.Logger) TypeScriptParserOption {
	return func(p *TypeScriptParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// TypeScriptParser extracts module facts from TypeScript and TSX sources.
//
// Description:
//
//	TypeScriptParser uses tree-sitter to parse a file and extract the four
//	things module analysis needs: imports (static, re-export, dynamic and
//	CommonJS), the export table, top-level declarations, and free identifier
//	occurrences. Occurrences exclude binding positions and names shadowed by
//	a local binding, so every occurrence is a candidate reference to a
//	module-scope name.
//
// Thread Safety:
//
//	TypeScriptParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser.
//
// Example:
//
//	parser := NewTypeScriptParser()
//	result, err := parser.Parse(ctx, []byte("import { a } from './a'; a();"), "src/main.ts")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.ImportSpecifiers()) // [./a]
type TypeScriptParser struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewTypeScriptParser creates a new TypeScriptParser with the given options.
//
// Inputs:
//   - opts: Optional configuration functions (WithTypeScriptMaxFileSize, WithTypeScriptLogger)
//
// Outputs:
//   - *TypeScriptParser: Configured parser instance, never nil
//
// Thread Safety:
//
//	The returned TypeScriptParser is safe for concurrent use.
func NewTypeScriptParser(opts ...TypeScriptParserOption) *TypeScriptParser {
	p := &TypeScriptParser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Parse extracts module facts from TypeScript source code.
//
// Description:
//
//	The grammar is chosen by extension: TSX for ".tsx", TypeScript otherwise.
//	Tree-sitter is error-tolerant; syntax errors are recorded in
//	ParseResult.Errors and the recovered tree is still analyzed.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw source bytes. Must be valid UTF-8.
//   - filePath: Project-relative path with forward slashes.
//
// Outputs:
//   - *ParseResult: Extracted facts. Never nil on success.
//   - error: Non-nil for complete failures:
//   - ErrFileTooLarge: Content exceeds maxFileSize
//   - ErrInvalidContent: Content is not valid UTF-8
//   - Context errors: Context was canceled or timed out
//
// Limitations:
//   - `var` declarations are scoped to their enclosing block, not hoisted to
//     the function.
//   - Namespace re-exports (`export * as ns`) are recorded but members
//     accessed through them are not followed.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *TypeScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, "typescript", filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics("typescript", time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		err := fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
		recordParseError(span, err)
		recordParseMetrics("typescript", time.Since(start), 0, false)
		return nil, err
	}

	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		err := fmt.Errorf("%w: %s", ErrInvalidContent, filePath)
		recordParseError(span, err)
		recordParseMetrics("typescript", time.Since(start), 0, false)
		return nil, err
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	if strings.HasSuffix(filePath, ".tsx") {
		parser.SetLanguage(tsx.GetLanguage())
	} else {
		parser.SetLanguage(typescript.GetLanguage())
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseError(span, err)
		recordParseMetrics("typescript", time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics("typescript", time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	result := NewEmptyResult(filePath)
	result.Hash = hex.EncodeToString(hash[:])

	rootNode := tree.RootNode()
	if rootNode == nil {
		result.Errors = append(result.Errors, "tree-sitter returned nil root node")
		return result, nil
	}

	if rootNode.HasError() {
		result.Errors = append(result.Errors, "source contains syntax errors")
		p.logger.Debug("syntax errors in source",
			slog.String("file", filePath))
	}

	ex := newExtraction(content, filePath, result)
	ex.extractTopLevel(rootNode)
	ex.walk(rootNode, nil, 0)
	ex.finish()

	if err := result.Validate(); err != nil {
		recordParseError(span, err)
		recordParseMetrics("typescript", time.Since(start), 0, false)
		return nil, fmt.Errorf("result validation failed: %w", err)
	}

	setParseSpanResult(span, result)
	recordParseMetrics("typescript", time.Since(start), len(result.Declarations), true)

	return result, nil
}

// Language returns the canonical language name for this parser.
func (p *TypeScriptParser) Language() string {
	return "typescript"
}

// Extensions returns the file extensions this parser handles.
func (p *TypeScriptParser) Extensions() []string {
	return []string{".ts", ".tsx", ".mts", ".cts"}
}

// extraction holds the state of a single Parse call.
type extraction struct {
	content  []byte
	filePath string
	result   *ParseResult

	// bindingSites holds the start bytes of identifiers in binding position.
	bindingSites map[uint32]struct{}

	declIndex map[string]int
	occSeen   map[occurrenceKey]struct{}

	// handledCalls are require() calls already recorded as top-level imports.
	handledCalls map[uint32]struct{}

	tooDeep bool
}

type occurrenceKey struct {
	qualifier string
	name      string
}

func newExtraction(content []byte, filePath string, result *ParseResult) *extraction {
	return &extraction{
		content:      content,
		filePath:     filePath,
		result:       result,
		bindingSites: make(map[uint32]struct{}),
		declIndex:    make(map[string]int),
		occSeen:      make(map[occurrenceKey]struct{}),
		handledCalls: make(map[uint32]struct{}),
	}
}

// finish puts imports in source order. Dynamic and CommonJS imports are found
// after the top-level pass.
func (ex *extraction) finish() {
	sort.SliceStable(ex.result.Imports, func(i, j int) bool {
		a, b := ex.result.Imports[i].Location, ex.result.Imports[j].Location
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	if ex.tooDeep {
		ex.result.Errors = append(ex.result.Errors, fmt.Sprintf("nesting deeper than %d levels not analyzed", maxWalkDepth))
	}
}

// extractTopLevel records imports, exports and declarations of the module scope.
func (ex *extraction) extractTopLevel(root *sitter.Node) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			ex.processImport(child)
		case "export_statement":
			ex.processExport(child)
		default:
			ex.processDeclaration(child, false)
		}
	}
}

func (ex *extraction) processImport(node *sitter.Node) {
	imp := Import{Location: nodeLocation(node)}

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "type", "typeof":
			imp.IsTypeOnly = true
		case "string":
			imp.Path = ex.stringContent(child)
		case "import_clause":
			imp.Bindings = ex.importClauseBindings(child)
		case "import_require_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				c := child.NamedChild(j)
				switch c.Type() {
				case "identifier":
					ex.markBinding(c)
					imp.Bindings = append(imp.Bindings, ImportBinding{Local: ex.text(c), Imported: "*"})
				case "string":
					imp.Path = ex.stringContent(c)
				}
			}
			imp.IsCommonJS = true
		}
	}

	if imp.Path == "" {
		return
	}
	ex.result.Imports = append(ex.result.Imports, imp)
}

func (ex *extraction) importClauseBindings(clause *sitter.Node) []ImportBinding {
	var bindings []ImportBinding
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		child := clause.NamedChild(i)
		switch child.Type() {
		case "identifier":
			ex.markBinding(child)
			bindings = append(bindings, ImportBinding{Local: ex.text(child), Imported: "default"})
		case "namespace_import":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if id := child.NamedChild(j); id.Type() == "identifier" {
					ex.markBinding(id)
					bindings = append(bindings, ImportBinding{Local: ex.text(id), Imported: "*"})
				}
			}
		case "named_imports":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				name := spec.ChildByFieldName("name")
				if name == nil {
					continue
				}
				imported := ex.moduleExportName(name)
				local := imported
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					ex.markBinding(alias)
					local = ex.text(alias)
				} else {
					ex.markBinding(name)
				}
				bindings = append(bindings, ImportBinding{Local: local, Imported: imported})
			}
		}
	}
	return bindings
}

func (ex *extraction) processExport(node *sitter.Node) {
	loc := nodeLocation(node)
	isDefault := false
	star := false
	sawFrom := false
	source := ""
	var clause, namespaceExport, value *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "default":
			isDefault = true
		case "*":
			star = true
		case "=":
			// `export = x` is the CommonJS form of a default export.
			isDefault = true
		case "from":
			sawFrom = true
		case "string":
			if sawFrom {
				source = ex.stringContent(child)
			}
		case "export_clause":
			clause = child
		case "namespace_export":
			namespaceExport = child
		}
	}
	if v := node.ChildByFieldName("value"); v != nil {
		value = v
	} else if isDefault {
		value = lastNamedChild(node)
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		names := ex.processDeclaration(decl, true)
		if isDefault {
			local := ""
			if len(names) == 1 {
				local = names[0]
			}
			ex.addExport(Export{Name: "default", LocalName: local, Location: loc})
			return
		}
		for _, name := range names {
			ex.addExport(Export{Name: name, LocalName: name, Location: loc})
		}
		return
	}

	if isDefault && source == "" {
		local := ""
		if value != nil && value.Type() == "identifier" {
			// Exporting a name does not use it, same as `export { name }`.
			ex.markBinding(value)
			local = ex.text(value)
		}
		ex.addExport(Export{Name: "default", LocalName: local, Location: loc})
		return
	}

	var reexportBindings []ImportBinding
	if clause != nil {
		for i := 0; i < int(clause.NamedChildCount()); i++ {
			spec := clause.NamedChild(i)
			if spec.Type() != "export_specifier" {
				continue
			}
			nameNode := spec.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			ex.markBinding(nameNode)
			name := ex.moduleExportName(nameNode)
			exported := name
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				ex.markBinding(alias)
				exported = ex.moduleExportName(alias)
			}
			if source != "" {
				ex.addExport(Export{Name: exported, Source: source, Imported: name, Location: loc})
				reexportBindings = append(reexportBindings, ImportBinding{Local: exported, Imported: name})
			} else {
				ex.addExport(Export{Name: exported, LocalName: name, Location: loc})
			}
		}
	}

	if namespaceExport != nil {
		for i := 0; i < int(namespaceExport.NamedChildCount()); i++ {
			id := namespaceExport.NamedChild(i)
			ex.markBinding(id)
			ex.addExport(Export{Name: ex.moduleExportName(id), Source: source, Imported: "*", Location: loc})
		}
	} else if star && source != "" {
		ex.addExport(Export{Name: "*", Source: source, Location: loc})
	}

	if source != "" {
		ex.result.Imports = append(ex.result.Imports, Import{
			Path:       source,
			Bindings:   reexportBindings,
			IsReExport: true,
			Location:   loc,
		})
	}
}

// processDeclaration records the top-level declarations of node and returns
// their names. Non-declaration statements yield nil.
func (ex *extraction) processDeclaration(node *sitter.Node, exported bool) []string {
	var kind DeclarationKind
	switch node.Type() {
	case "lexical_declaration", "variable_declaration":
		return ex.processVariables(node, exported)
	case "ambient_declaration":
		var names []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			names = append(names, ex.processDeclaration(node.NamedChild(i), exported)...)
		}
		return names
	case "function_declaration", "generator_function_declaration", "function_signature":
		kind = DeclarationKindFunction
	case "class_declaration", "abstract_class_declaration":
		kind = DeclarationKindClass
	case "interface_declaration":
		kind = DeclarationKindInterface
	case "type_alias_declaration":
		kind = DeclarationKindTypeAlias
	case "enum_declaration":
		kind = DeclarationKindEnum
	default:
		return nil
	}

	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	ex.markBinding(nameNode)
	name := ex.text(nameNode)
	ex.addDeclaration(name, kind, exported, nodeLocation(nameNode))
	return []string{name}
}

func (ex *extraction) processVariables(node *sitter.Node, exported bool) []string {
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		declarator := node.NamedChild(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}
		nameNode := declarator.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		ids := ex.collectPatternBindings(nameNode, nil)
		for _, id := range ids {
			name := ex.text(id)
			ex.addDeclaration(name, DeclarationKindVariable, exported, nodeLocation(id))
			names = append(names, name)
		}

		value := declarator.ChildByFieldName("value")
		if spec := ex.requireSpecifier(value); spec != "" {
			imp := Import{Path: spec, IsCommonJS: true, Location: nodeLocation(value)}
			if nameNode.Type() == "identifier" {
				imp.Bindings = []ImportBinding{{Local: ex.text(nameNode), Imported: "*"}}
			}
			ex.result.Imports = append(ex.result.Imports, imp)
			ex.handledCalls[value.StartByte()] = struct{}{}
		}
	}
	return names
}

func (ex *extraction) addDeclaration(name string, kind DeclarationKind, exported bool, loc Location) {
	if name == "" {
		return
	}
	// Overload signatures and declaration merging repeat a name.
	if idx, ok := ex.declIndex[name]; ok {
		if exported {
			ex.result.Declarations[idx].Exported = true
		}
		return
	}
	ex.declIndex[name] = len(ex.result.Declarations)
	ex.result.Declarations = append(ex.result.Declarations, Declaration{
		FilePath: ex.filePath,
		Name:     name,
		Kind:     kind,
		Exported: exported,
		Location: loc,
	})
}

func (ex *extraction) addExport(e Export) {
	if e.Name == "" {
		return
	}
	ex.result.Exports = append(ex.result.Exports, e)
	if e.LocalName != "" {
		if idx, ok := ex.declIndex[e.LocalName]; ok {
			ex.result.Declarations[idx].Exported = true
		}
	}
}

// requireSpecifier returns the argument of a `require("...")` call, or "".
func (ex *extraction) requireSpecifier(node *sitter.Node) string {
	if node == nil || node.Type() != "call_expression" {
		return ""
	}
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || ex.text(fn) != "require" {
		return ""
	}
	return ex.firstStringArgument(node)
}

func (ex *extraction) firstStringArgument(call *sitter.Node) string {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return ""
	}
	return ex.stringContent(first)
}

func (ex *extraction) markBinding(node *sitter.Node) {
	if node != nil {
		ex.bindingSites[node.StartByte()] = struct{}{}
	}
}

func (ex *extraction) isBindingSite(node *sitter.Node) bool {
	_, ok := ex.bindingSites[node.StartByte()]
	return ok
}

func (ex *extraction) text(node *sitter.Node) string {
	return string(ex.content[node.StartByte():node.EndByte()])
}

// moduleExportName returns an identifier's text or a string name's content.
func (ex *extraction) moduleExportName(node *sitter.Node) string {
	if node.Type() == "string" {
		return ex.stringContent(node)
	}
	return ex.text(node)
}

// stringContent extracts the content from a string node.
func (ex *extraction) stringContent(node *sitter.Node) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "string_fragment" {
			return ex.text(child)
		}
	}
	return strings.Trim(ex.text(node), "\"'`")
}

func nodeLocation(node *sitter.Node) Location {
	p := node.StartPoint()
	return Location{Line: int(p.Row) + 1, Column: int(p.Column)}
}

func lastNamedChild(node *sitter.Node) *sitter.Node {
	n := int(node.NamedChildCount())
	if n == 0 {
		return nil
	}
	return node.NamedChild(n - 1)
}
