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
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxWalkDepth bounds the recursion of the occurrence walk.
const maxWalkDepth = 2048

// scope is the set of names bound by one scope-introducing node.
type scope map[string]struct{}

// functionLikeNodes introduce a scope holding parameters and type parameters.
var functionLikeNodes = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"function_expression":            true,
	"function":                       true,
	"generator_function":             true,
	"arrow_function":                 true,
	"method_definition":              true,
	"function_signature":             true,
	"method_signature":               true,
	"abstract_method_signature":      true,
	"call_signature":                 true,
	"construct_signature":            true,
	"function_type":                  true,
	"constructor_type":               true,
}

// typeScopeNodes introduce a scope holding type parameters.
var typeScopeNodes = map[string]bool{
	"class_declaration":          true,
	"abstract_class_declaration": true,
	"class":                      true,
	"interface_declaration":      true,
	"type_alias_declaration":     true,
}

// skippedNodes never contain references.
var skippedNodes = map[string]bool{
	"import_statement":            true,
	"comment":                     true,
	"property_identifier":         true,
	"private_property_identifier": true,
	"statement_identifier":        true,
	"string":                      true,
	"regex":                       true,
	"number":                      true,
	"predefined_type":             true,
}

// walk records free identifier occurrences below n.
//
// scopes is the chain of local scopes enclosing n, innermost last. The module
// scope is not part of the chain: a name bound at top level is still free as
// far as the walk is concerned and is resolved later against declarations and
// imports.
func (ex *extraction) walk(n *sitter.Node, scopes []scope, depth int) {
	if n == nil {
		return
	}
	if depth > maxWalkDepth {
		ex.tooDeep = true
		return
	}
	typ := n.Type()
	if skippedNodes[typ] {
		return
	}
	if s := ex.scopeBindings(n); s != nil {
		scopes = append(scopes, s)
	}

	switch typ {
	case "identifier", "type_identifier", "shorthand_property_identifier":
		ex.reference(n, scopes)
		return

	case "export_statement":
		ex.walkExport(n, scopes, depth)
		return

	case "nested_type_identifier", "nested_identifier":
		if module, member := qualifiedParts(n); module != nil {
			ex.qualifiedReference(module, member, scopes)
			ex.walk(module, scopes, depth+1)
		} else if n.NamedChildCount() > 0 {
			ex.walk(n.NamedChild(0), scopes, depth+1)
		}
		return

	case "member_expression":
		obj := n.ChildByFieldName("object")
		prop := n.ChildByFieldName("property")
		if obj != nil && prop != nil && obj.Type() == "identifier" && prop.Type() == "property_identifier" {
			ex.qualifiedReference(obj, prop, scopes)
		}

	case "call_expression":
		ex.recordCallImport(n)

	case "jsx_opening_element", "jsx_closing_element", "jsx_self_closing_element":
		// Lowercase tag names are intrinsic elements, not references.
		if name := n.ChildByFieldName("name"); name != nil && name.Type() == "identifier" && startsLower(ex.text(name)) {
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if child := n.NamedChild(i); child.StartByte() != name.StartByte() {
					ex.walk(child, scopes, depth+1)
				}
			}
			return
		}

	case "internal_module", "module":
		ex.markBinding(n.ChildByFieldName("name"))
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		ex.walk(n.Child(i), scopes, depth+1)
	}
}

// walkExport visits the parts of an export statement that can hold references.
// Export clauses name bindings without using them.
func (ex *extraction) walkExport(n *sitter.Node, scopes []scope, depth int) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "export_clause", "namespace_export", "string":
			continue
		}
		ex.walk(child, scopes, depth+1)
	}
}

func (ex *extraction) reference(n *sitter.Node, scopes []scope) {
	if ex.isBindingSite(n) {
		return
	}
	name := ex.text(n)
	if isLocallyBound(name, scopes) {
		return
	}
	ex.addOccurrence("", name, n)
}

func (ex *extraction) qualifiedReference(qualifier, member *sitter.Node, scopes []scope) {
	q := ex.text(qualifier)
	if isLocallyBound(q, scopes) {
		return
	}
	ex.addOccurrence(q, ex.text(member), member)
}

func (ex *extraction) addOccurrence(qualifier, name string, n *sitter.Node) {
	if name == "" {
		return
	}
	key := occurrenceKey{qualifier: qualifier, name: name}
	if _, seen := ex.occSeen[key]; seen {
		return
	}
	ex.occSeen[key] = struct{}{}
	ex.result.Occurrences = append(ex.result.Occurrences, Occurrence{
		FilePath:  ex.filePath,
		Name:      name,
		Qualifier: qualifier,
		Location:  nodeLocation(n),
	})
}

// recordCallImport records dynamic `import("...")` and nested `require("...")`
// calls as imports.
func (ex *extraction) recordCallImport(call *sitter.Node) {
	if _, done := ex.handledCalls[call.StartByte()]; done {
		return
	}
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return
	}
	imp := Import{Location: nodeLocation(call)}
	switch {
	case fn.Type() == "import":
		imp.IsDynamic = true
	case fn.Type() == "identifier" && ex.text(fn) == "require":
		imp.IsCommonJS = true
	default:
		return
	}
	imp.Path = ex.firstStringArgument(call)
	if imp.Path == "" {
		return
	}
	ex.handledCalls[call.StartByte()] = struct{}{}
	ex.result.Imports = append(ex.result.Imports, imp)
}

// scopeBindings returns the names bound by n if n introduces a scope, else nil.
func (ex *extraction) scopeBindings(n *sitter.Node) scope {
	typ := n.Type()
	switch {
	case functionLikeNodes[typ]:
		s := make(scope)
		if params := n.ChildByFieldName("parameters"); params != nil {
			for i := 0; i < int(params.NamedChildCount()); i++ {
				ex.collectPatternBindings(params.NamedChild(i), s)
			}
		}
		if param := n.ChildByFieldName("parameter"); param != nil {
			ex.collectPatternBindings(param, s)
		}
		ex.collectTypeParameters(n, s)
		// A named function expression binds its own name inside its body.
		if typ == "function_expression" || typ == "function" || typ == "generator_function" {
			if name := n.ChildByFieldName("name"); name != nil {
				ex.bind(name, s)
			}
		}
		return s

	case typeScopeNodes[typ]:
		s := make(scope)
		ex.collectTypeParameters(n, s)
		if typ == "class" {
			if name := n.ChildByFieldName("name"); name != nil {
				ex.bind(name, s)
			}
		}
		return s

	case typ == "statement_block", typ == "class_static_block":
		s := make(scope)
		ex.collectBlockDeclarations(n, s)
		return s

	case typ == "switch_body":
		s := make(scope)
		for i := 0; i < int(n.NamedChildCount()); i++ {
			ex.collectBlockDeclarations(n.NamedChild(i), s)
		}
		return s

	case typ == "for_statement":
		s := make(scope)
		if init := n.ChildByFieldName("initializer"); init != nil {
			ex.collectStatementBindings(init, s)
		}
		return s

	case typ == "for_in_statement":
		s := make(scope)
		if hasDeclarationKind(n) {
			if left := n.ChildByFieldName("left"); left != nil {
				ex.collectPatternBindings(left, s)
			}
		}
		return s

	case typ == "catch_clause":
		s := make(scope)
		if param := n.ChildByFieldName("parameter"); param != nil {
			ex.collectPatternBindings(param, s)
		}
		return s
	}
	return nil
}

func (ex *extraction) collectBlockDeclarations(block *sitter.Node, s scope) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		ex.collectStatementBindings(block.NamedChild(i), s)
	}
}

// collectStatementBindings adds the names a declaration statement binds in
// its enclosing block.
func (ex *extraction) collectStatementBindings(stmt *sitter.Node, s scope) {
	switch stmt.Type() {
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			declarator := stmt.NamedChild(i)
			if declarator.Type() != "variable_declarator" {
				continue
			}
			if name := declarator.ChildByFieldName("name"); name != nil {
				ex.collectPatternBindings(name, s)
			}
		}
	case "function_declaration", "generator_function_declaration", "function_signature",
		"class_declaration", "abstract_class_declaration", "enum_declaration",
		"interface_declaration", "type_alias_declaration":
		if name := stmt.ChildByFieldName("name"); name != nil {
			ex.bind(name, s)
		}
	case "export_statement":
		if decl := stmt.ChildByFieldName("declaration"); decl != nil {
			ex.collectStatementBindings(decl, s)
		}
	}
}

// collectPatternBindings adds the identifiers bound by a binding pattern to s
// and returns them in source order. s may be nil.
func (ex *extraction) collectPatternBindings(n *sitter.Node, s scope) []*sitter.Node {
	var ids []*sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "identifier", "shorthand_property_identifier_pattern":
			ex.bind(n, s)
			ids = append(ids, n)
		case "object_pattern", "array_pattern", "rest_pattern":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				visit(n.NamedChild(i))
			}
		case "pair_pattern":
			visit(n.ChildByFieldName("value"))
		case "assignment_pattern", "object_assignment_pattern":
			visit(n.ChildByFieldName("left"))
		case "required_parameter", "optional_parameter":
			visit(n.ChildByFieldName("pattern"))
		}
	}
	visit(n)
	return ids
}

func (ex *extraction) collectTypeParameters(n *sitter.Node, s scope) {
	params := n.ChildByFieldName("type_parameters")
	if params == nil {
		return
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		tp := params.NamedChild(i)
		if tp.Type() != "type_parameter" {
			continue
		}
		if name := tp.ChildByFieldName("name"); name != nil {
			ex.bind(name, s)
		}
	}
}

func (ex *extraction) bind(name *sitter.Node, s scope) {
	ex.markBinding(name)
	if s != nil {
		s[ex.text(name)] = struct{}{}
	}
}

func isLocallyBound(name string, scopes []scope) bool {
	for i := len(scopes) - 1; i >= 0; i-- {
		if _, ok := scopes[i][name]; ok {
			return true
		}
	}
	return false
}

// hasDeclarationKind reports whether a for-in/for-of head declares its variable.
func hasDeclarationKind(n *sitter.Node) bool {
	if n.ChildByFieldName("kind") != nil {
		return true
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case "const", "let", "var":
			return true
		}
	}
	return false
}

// qualifiedParts splits `a.B` into its leftmost identifier and member name.
// Deeper chains such as `a.b.C` yield nil.
func qualifiedParts(n *sitter.Node) (module, member *sitter.Node) {
	module = n.ChildByFieldName("module")
	member = n.ChildByFieldName("name")
	if module == nil && member == nil {
		module = n.ChildByFieldName("object")
		member = n.ChildByFieldName("property")
	}
	if module == nil || member == nil {
		count := int(n.NamedChildCount())
		if count < 2 {
			return nil, nil
		}
		module = n.NamedChild(0)
		member = n.NamedChild(count - 1)
	}
	if module.Type() != "identifier" {
		return nil, nil
	}
	return module, member
}

func startsLower(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLower(r)
}
