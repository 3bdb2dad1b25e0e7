package languages

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

var jsStringTypes = map[string]bool{
	"string":          true,
	"template_string": true,
}

// TypeScriptParser implements parsing for TypeScript and JavaScript source files.
// A fresh tree-sitter parser is created per Parse call so one instance can be
// shared by concurrent loaders.
type TypeScriptParser struct {
	lang parser.Language
	exts []string
}

// NewTypeScriptParser creates a parser for .ts/.tsx files
func NewTypeScriptParser() *TypeScriptParser {
	return &TypeScriptParser{
		lang: parser.LangTypeScript,
		exts: []string{".ts", ".tsx", ".mts", ".cts"},
	}
}

// NewJavaScriptParser creates a parser for .js/.jsx/.mjs/.cjs files
func NewJavaScriptParser() *TypeScriptParser {
	return &TypeScriptParser{
		lang: parser.LangJavaScript,
		exts: []string{".js", ".jsx", ".mjs", ".cjs"},
	}
}

func (t *TypeScriptParser) Language() parser.Language {
	return t.lang
}

func (t *TypeScriptParser) Extensions() []string {
	return t.exts
}

func (t *TypeScriptParser) grammar(filename string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tsx":
		return tsx.GetLanguage()
	case ".ts", ".mts", ".cts":
		return typescript.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

func (t *TypeScriptParser) Parse(ctx context.Context, filename string, content []byte) (*parser.SourceUnit, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(t.grammar(filename))

	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}

	root := tree.RootNode()
	if perr := syntaxError(root, filename); perr != nil {
		tree.Close()
		return nil, perr
	}

	unit := newUnit(t.lang, filename, content, tree)
	ex := &jsExtractor{content: content, unit: unit, exported: make(map[string]bool)}
	ex.extractProgram(root)
	collectProtectedRows(root, jsStringTypes, unit.ProtectedRows)
	ex.applyExports()

	return unit, nil
}

type jsExtractor struct {
	content  []byte
	unit     *parser.SourceUnit
	exported map[string]bool
}

func (t *jsExtractor) extractProgram(root *sitter.Node) {
	seenStatement := false
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "hash_bang_line":
			t.unit.Prologue = endOfLine(t.content, int(node.EndByte()))
			continue
		case "comment":
			continue
		case "expression_statement":
			if !seenStatement && isDirective(node) {
				t.unit.Prologue = endOfLine(t.content, int(node.EndByte()))
				continue
			}
		}
		seenStatement = true
		t.extractStatement(node, false, false)
	}
}

func isDirective(node *sitter.Node) bool {
	child := firstNamedNonComment(node)
	return child != nil && child.Type() == "string"
}

func (t *jsExtractor) extractStatement(node *sitter.Node, exported, isDefault bool) {
	switch node.Type() {
	case "function_declaration", "generator_function_declaration":
		if fn := t.extractFunction(node, "", nameOf(node, t.content)); fn != nil {
			fn.IsExported = exported
			fn.IsDefaultExport = isDefault
			if isDefault {
				t.unit.Exports["default"] = fn.Name
			}
		}

	case "class_declaration", "abstract_class_declaration":
		t.extractClass(node)
		if exported {
			t.exported[nameOf(node, t.content)] = true
		}

	case "lexical_declaration", "variable_declaration":
		t.extractVariableDeclarations(node, exported)

	case "export_statement":
		t.unit.HasESM = true
		t.extractExport(node)

	case "import_statement":
		t.extractImport(node)

	case "expression_statement":
		t.extractExpressionStatement(node)
	}
}

func nameOf(node *sitter.Node, content []byte) string {
	return nodeText(node.ChildByFieldName("name"), content)
}

func (t *jsExtractor) extractFunction(node *sitter.Node, class, name string) *parser.FunctionDecl {
	if name == "" {
		return nil
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		// overload signatures and abstract methods have nothing to wrap
		return nil
	}

	fn := &parser.FunctionDecl{
		Name:          name,
		QualifiedName: qualify(class, name),
		Class:         class,
		Kind:          parser.SymbolFunction,
		IsAsync:       hasChildOfType(node, "async"),
	}
	if class != "" {
		fn.Kind = parser.SymbolMethod
	}
	fillSpan(fn, node, body)

	if body.Type() == "statement_block" {
		fn.BodyKind = parser.BodyBlock
		fn.DocEndRow = directiveEndRow(body)
		fn.LeadingCall = t.leadingCall(body)
	} else {
		fn.BodyKind = parser.BodyExpression
	}
	fn.Calls = t.extractCalls(body)

	t.unit.Functions = append(t.unit.Functions, fn)
	return fn
}

// extractBoundFunction records `const name = () => {}` style declarations.
// The declaration span starts at the declarator so the node id is stable.
func (t *jsExtractor) extractBoundFunction(declarator, value *sitter.Node, class, name string) *parser.FunctionDecl {
	fn := t.extractFunction(value, class, name)
	if fn == nil {
		return nil
	}
	fn.Start = int(declarator.StartByte())
	fn.StartLine = int(declarator.StartPoint().Row) + 1
	fn.DeclRow = int(declarator.StartPoint().Row)
	return fn
}

func (t *jsExtractor) extractClass(node *sitter.Node) {
	className := nameOf(node, t.content)
	if className == "" {
		return
	}
	t.unit.Classes[className] = true

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_definition":
			t.extractFunction(member, className, nameOf(member, t.content))
		case "field_definition", "public_field_definition":
			value := member.ChildByFieldName("value")
			if value == nil || !isFunctionValue(value) {
				continue
			}
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil {
				nameNode = member.ChildByFieldName("property")
			}
			t.extractBoundFunction(member, value, className, nodeText(nameNode, t.content))
		}
	}
}

func isFunctionValue(node *sitter.Node) bool {
	switch node.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func (t *jsExtractor) extractVariableDeclarations(node *sitter.Node, exported bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		valueNode := child.ChildByFieldName("value")
		if nameNode == nil || valueNode == nil {
			continue
		}

		if isFunctionValue(valueNode) && nameNode.Type() == "identifier" {
			if fn := t.extractBoundFunction(child, valueNode, "", nodeText(nameNode, t.content)); fn != nil {
				fn.IsExported = exported
			}
			continue
		}

		t.extractRequire(node, nameNode, valueNode)
	}
}

// extractRequire handles CommonJS bindings:
//
//	const m = require("./m")
//	const { a, b: c } = require("./m")
//	const a = require("./m").a
func (t *jsExtractor) extractRequire(statement, nameNode, valueNode *sitter.Node) {
	module, member := t.requireTarget(valueNode)
	if module == "" {
		return
	}
	t.unit.HasRequire = true
	t.unit.ImportSpans = append(t.unit.ImportSpans, parser.ImportSpan{
		Module: module,
		Start:  int(statement.StartByte()),
		End:    int(statement.EndByte()),
	})
	line := int(statement.StartPoint().Row) + 1

	switch nameNode.Type() {
	case "identifier":
		local := nodeText(nameNode, t.content)
		binding := parser.ImportBinding{Local: local, Module: module, Kind: parser.BindingNamespace, Line: line}
		if member != "" {
			binding.Kind = parser.BindingNamed
			binding.Imported = member
		}
		t.unit.Imports[local] = binding
	case "object_pattern":
		for i := 0; i < int(nameNode.NamedChildCount()); i++ {
			prop := nameNode.NamedChild(i)
			switch prop.Type() {
			case "shorthand_property_identifier_pattern", "shorthand_property_identifier":
				local := nodeText(prop, t.content)
				t.unit.Imports[local] = parser.ImportBinding{Local: local, Module: module, Imported: local, Kind: parser.BindingNamed, Line: line}
			case "pair_pattern":
				key := nodeText(prop.ChildByFieldName("key"), t.content)
				local := nodeText(prop.ChildByFieldName("value"), t.content)
				if key != "" && local != "" {
					t.unit.Imports[local] = parser.ImportBinding{Local: local, Module: module, Imported: key, Kind: parser.BindingNamed, Line: line}
				}
			}
		}
	}
}

func (t *jsExtractor) requireTarget(node *sitter.Node) (module, member string) {
	switch node.Type() {
	case "await_expression":
		return t.requireTarget(firstNamedNonComment(node))
	case "member_expression":
		object := node.ChildByFieldName("object")
		if object == nil || object.Type() != "call_expression" {
			return "", ""
		}
		module, _ = t.requireTarget(object)
		return module, nodeText(node.ChildByFieldName("property"), t.content)
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn == nil || nodeText(fn, t.content) != "require" {
			return "", ""
		}
		args := node.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return "", ""
		}
		arg := args.NamedChild(0)
		if arg.Type() != "string" {
			return "", ""
		}
		return unquote(arg.Content(t.content)), ""
	}
	return "", ""
}

func (t *jsExtractor) extractExport(node *sitter.Node) {
	isDefault := hasChildOfType(node, "default")
	source := node.ChildByFieldName("source")

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "export_clause":
			if source != nil {
				// re-exports bind nothing locally
				continue
			}
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				local := nodeText(spec.ChildByFieldName("name"), t.content)
				exportedAs := nodeText(spec.ChildByFieldName("alias"), t.content)
				if exportedAs == "" {
					exportedAs = local
				}
				t.unit.Exports[exportedAs] = local
				t.exported[local] = true
			}
		case "identifier":
			if isDefault {
				name := nodeText(child, t.content)
				t.unit.Exports["default"] = name
				t.exported[name] = true
			}
		case "arrow_function", "function", "function_expression", "generator_function":
			if isDefault {
				if fn := t.extractFunction(child, "", "default"); fn != nil {
					fn.IsExported = true
					fn.IsDefaultExport = true
					t.unit.Exports["default"] = fn.Name
				}
			}
		case "decorator", "comment":
		default:
			t.extractStatement(child, true, isDefault)
		}
	}
}

func (t *jsExtractor) extractImport(node *sitter.Node) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	module := unquote(sourceNode.Content(t.content))
	t.unit.HasESM = true
	t.unit.ImportSpans = append(t.unit.ImportSpans, parser.ImportSpan{
		Module: module,
		Start:  int(node.StartByte()),
		End:    int(node.EndByte()),
	})
	line := int(node.StartPoint().Row) + 1

	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			part := clause.NamedChild(j)
			switch part.Type() {
			case "identifier":
				local := nodeText(part, t.content)
				t.unit.Imports[local] = parser.ImportBinding{Local: local, Module: module, Imported: "default", Kind: parser.BindingDefault, Line: line}
			case "namespace_import":
				local := nodeText(firstNamedNonComment(part), t.content)
				if local != "" {
					t.unit.Imports[local] = parser.ImportBinding{Local: local, Module: module, Kind: parser.BindingNamespace, Line: line}
				}
			case "named_imports":
				for k := 0; k < int(part.NamedChildCount()); k++ {
					spec := part.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					imported := nodeText(spec.ChildByFieldName("name"), t.content)
					local := nodeText(spec.ChildByFieldName("alias"), t.content)
					if local == "" {
						local = imported
					}
					if local != "" {
						t.unit.Imports[local] = parser.ImportBinding{Local: local, Module: module, Imported: imported, Kind: parser.BindingNamed, Line: line}
					}
				}
			}
		}
	}
}

// extractExpressionStatement handles CommonJS exports and bare require calls:
//
//	module.exports = handler
//	module.exports = function handler() {}
//	module.exports = { a, b: c, d: () => {}, async e() {} }
//	exports.run = async () => {}
//	require("./setup")
func (t *jsExtractor) extractExpressionStatement(node *sitter.Node) {
	expr := firstNamedNonComment(node)
	if expr == nil {
		return
	}

	if expr.Type() == "call_expression" {
		if module, _ := t.requireTarget(expr); module != "" {
			t.unit.HasRequire = true
			t.unit.ImportSpans = append(t.unit.ImportSpans, parser.ImportSpan{
				Module: module,
				Start:  int(node.StartByte()),
				End:    int(node.EndByte()),
			})
		}
		return
	}
	if expr.Type() != "assignment_expression" {
		return
	}

	left := nodeText(expr.ChildByFieldName("left"), t.content)
	right := expr.ChildByFieldName("right")
	if right == nil {
		return
	}

	switch {
	case left == "module.exports":
		switch {
		case right.Type() == "identifier":
			name := nodeText(right, t.content)
			t.unit.Exports["default"] = name
			t.exported[name] = true
		case right.Type() == "object":
			t.extractExportObject(right)
		case isFunctionValue(right):
			name := nameOf(right, t.content)
			if name == "" {
				name = "default"
			}
			if fn := t.extractBoundFunction(expr, right, "", name); fn != nil {
				fn.IsExported = true
				fn.IsDefaultExport = true
				t.unit.Exports["default"] = fn.Name
			}
		}
	case strings.HasPrefix(left, "module.exports.") || strings.HasPrefix(left, "exports."):
		name := left[strings.LastIndex(left, ".")+1:]
		switch {
		case isFunctionValue(right):
			if fn := t.extractBoundFunction(expr, right, "", name); fn != nil {
				fn.IsExported = true
			}
			t.unit.Exports[name] = name
		case right.Type() == "identifier":
			local := nodeText(right, t.content)
			t.unit.Exports[name] = local
			t.exported[local] = true
		}
	}
}

func (t *jsExtractor) extractExportObject(object *sitter.Node) {
	for i := 0; i < int(object.NamedChildCount()); i++ {
		prop := object.NamedChild(i)
		switch prop.Type() {
		case "shorthand_property_identifier":
			name := nodeText(prop, t.content)
			t.unit.Exports[name] = name
			t.exported[name] = true
		case "pair":
			key := propertyKey(prop.ChildByFieldName("key"), t.content)
			value := prop.ChildByFieldName("value")
			switch {
			case key == "" || value == nil:
			case value.Type() == "identifier":
				local := nodeText(value, t.content)
				t.unit.Exports[key] = local
				t.exported[local] = true
			case isFunctionValue(value):
				if fn := t.extractBoundFunction(prop, value, "", key); fn != nil {
					fn.IsExported = true
					t.unit.Exports[key] = fn.Name
				}
			}
		case "method_definition":
			key := propertyKey(prop.ChildByFieldName("name"), t.content)
			if fn := t.extractFunction(prop, "", key); fn != nil {
				fn.IsExported = true
				t.unit.Exports[key] = fn.Name
			}
		}
	}
}

// propertyKey returns an object key as written, without quotes for string keys.
func propertyKey(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	if node.Type() == "string" {
		return unquote(node.Content(content))
	}
	return nodeText(node, content)
}

func (t *jsExtractor) applyExports() {
	defaultName := t.unit.Exports["default"]
	for _, fn := range t.unit.Functions {
		if fn.Class == "" && t.exported[fn.Name] {
			fn.IsExported = true
		}
		if fn.Class != "" && t.exported[fn.Class] {
			fn.IsExported = true
		}
		if fn.Class == "" && defaultName != "" && fn.Name == defaultName {
			fn.IsDefaultExport = true
		}
	}
}

// directiveEndRow returns the last row of the block's directive prologue
// ("use strict"), or -1.
func directiveEndRow(block *sitter.Node) int {
	end := -1
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if child.Type() != "expression_statement" || !isDirective(child) {
			break
		}
		end = int(child.EndPoint().Row)
	}
	return end
}

// firstStatement returns the first statement of a block after comments and directives.
func firstStatement(block *sitter.Node) *sitter.Node {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() == "comment" || (child.Type() == "expression_statement" && isDirective(child)) {
			continue
		}
		return child
	}
	return nil
}

// leadingCall returns the callee text of the first statement in a block when
// that statement is a call or a declaration initialised by a call.
func (t *jsExtractor) leadingCall(block *sitter.Node) string {
	first := firstStatement(block)
	if first == nil {
		return ""
	}
	var expr *sitter.Node
	switch first.Type() {
	case "lexical_declaration", "variable_declaration":
		if declarator := firstNamedNonComment(first); declarator != nil {
			expr = declarator.ChildByFieldName("value")
		}
	case "expression_statement":
		expr = firstNamedNonComment(first)
	}
	for expr != nil && expr.Type() == "await_expression" {
		expr = firstNamedNonComment(expr)
	}
	if expr == nil || expr.Type() != "call_expression" {
		return ""
	}
	return nodeText(expr.ChildByFieldName("function"), t.content)
}

func (t *jsExtractor) extractCalls(node *sitter.Node) []parser.CallSite {
	if node == nil {
		return nil
	}
	calls := make([]parser.CallSite, 0)
	t.collectCalls(node, &calls)
	return calls
}

func (t *jsExtractor) collectCalls(node *sitter.Node, calls *[]parser.CallSite) {
	if node == nil {
		return
	}

	if node.Type() == "call_expression" {
		if callSite, ok := t.extractCallSite(node); ok {
			*calls = append(*calls, callSite)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		t.collectCalls(node.Child(i), calls)
	}
}

func (t *jsExtractor) extractCallSite(callNode *sitter.Node) (parser.CallSite, bool) {
	fnNode := callNode.ChildByFieldName("function")
	if fnNode == nil {
		return parser.CallSite{}, false
	}
	callSite := parser.CallSite{
		Offset: int(callNode.StartByte()),
		Line:   int(callNode.StartPoint().Row) + 1,
		Raw:    nodeText(fnNode, t.content),
	}

	switch fnNode.Type() {
	case "identifier":
		callSite.Shape = parser.CallIdentifier
		callSite.Name = nodeText(fnNode, t.content)
	case "member_expression":
		object := fnNode.ChildByFieldName("object")
		callSite.Name = nodeText(fnNode.ChildByFieldName("property"), t.content)
		callSite.Qualifier = nodeText(object, t.content)
		switch {
		case object != nil && object.Type() == "this":
			callSite.Shape = parser.CallReceiver
			callSite.Receiver = "this"
		case isStaticChain(object):
			callSite.Shape = parser.CallMember
			callSite.Root = rootIdentifier(callSite.Qualifier)
		default:
			callSite.Shape = parser.CallOther
		}
	case "subscript_expression":
		callSite.Shape = parser.CallComputed
		callSite.Qualifier = nodeText(fnNode.ChildByFieldName("object"), t.content)
		callSite.Name = callSite.Raw
	case "import", "super":
		return parser.CallSite{}, false
	default:
		callSite.Shape = parser.CallOther
		qualifier, name := splitQualifiedName(callSite.Raw)
		callSite.Qualifier, callSite.Name = qualifier, name
	}
	if callSite.Name == "" {
		callSite.Name = callSite.Raw
	}
	return callSite, true
}

// isStaticChain reports whether node is an identifier or a dotted chain of identifiers.
func isStaticChain(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "identifier":
		return true
	case "member_expression":
		return isStaticChain(node.ChildByFieldName("object"))
	}
	return false
}
