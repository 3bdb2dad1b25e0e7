package languages

import (
	"context"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

var pyStringTypes = map[string]bool{
	"string": true,
}

// PythonParser implements parsing for Python source files
type PythonParser struct{}

// NewPythonParser creates a new Python parser
func NewPythonParser() *PythonParser {
	return &PythonParser{}
}

func (p *PythonParser) Language() parser.Language {
	return parser.LangPython
}

func (p *PythonParser) Extensions() []string {
	return []string{".py", ".pyw"}
}

func (p *PythonParser) Parse(ctx context.Context, filename string, content []byte) (*parser.SourceUnit, error) {
	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(python.GetLanguage())

	tree, err := sp.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}

	root := tree.RootNode()
	if perr := syntaxError(root, filename); perr != nil {
		tree.Close()
		return nil, perr
	}

	unit := newUnit(parser.LangPython, filename, content, tree)
	ex := &pyExtractor{content: content, unit: unit}
	ex.extractModule(root)
	collectProtectedRows(root, pyStringTypes, unit.ProtectedRows)

	return unit, nil
}

type pyExtractor struct {
	content []byte
	unit    *parser.SourceUnit
}

func (p *pyExtractor) extractModule(root *sitter.Node) {
	inPrologue := true
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)

		if inPrologue {
			switch {
			case node.Type() == "comment":
				p.unit.Prologue = endOfLine(p.content, int(node.EndByte()))
				continue
			case node.Type() == "expression_statement" && isDocstring(node):
				p.unit.Prologue = endOfLine(p.content, int(node.EndByte()))
				inPrologue = false
				continue
			}
			inPrologue = false
		}

		switch node.Type() {
		case "function_definition":
			p.extractFunction(node, "", nil)
		case "decorated_definition":
			p.extractDecorated(node, "")
		case "class_definition":
			p.extractClass(node)
		case "import_statement":
			p.extractImport(node)
		case "import_from_statement", "future_import_statement":
			p.extractFromImport(node)
		}
	}
}

func isDocstring(node *sitter.Node) bool {
	if node == nil || node.Type() != "expression_statement" || node.NamedChildCount() != 1 {
		return false
	}
	return node.NamedChild(0).Type() == "string"
}

func (p *pyExtractor) extractDecorated(node *sitter.Node, class string) {
	var decorators []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "decorator" {
			decorators = append(decorators, p.decoratorName(child))
		}
	}

	def := node.ChildByFieldName("definition")
	if def == nil {
		return
	}
	switch def.Type() {
	case "function_definition":
		if fn := p.extractFunction(def, class, decorators); fn != nil {
			// the decorator lines belong to the declaration
			fn.Start = int(node.StartByte())
			fn.StartLine = int(node.StartPoint().Row) + 1
		}
	case "class_definition":
		if class == "" {
			p.extractClass(def)
		}
	}
}

// decoratorName returns the decorator expression without arguments:
// @tracing(agent="x") -> tracing, @app.route("/") -> app.route
func (p *pyExtractor) decoratorName(node *sitter.Node) string {
	expr := firstNamedNonComment(node)
	if expr == nil {
		return strings.TrimPrefix(nodeText(node, p.content), "@")
	}
	if expr.Type() == "call" {
		return nodeText(expr.ChildByFieldName("function"), p.content)
	}
	return nodeText(expr, p.content)
}

func (p *pyExtractor) extractFunction(node *sitter.Node, class string, decorators []string) *parser.FunctionDecl {
	name := nameOf(node, p.content)
	body := node.ChildByFieldName("body")
	if name == "" || body == nil {
		return nil
	}

	fn := &parser.FunctionDecl{
		Name:          name,
		QualifiedName: qualify(class, name),
		Class:         class,
		Kind:          parser.SymbolFunction,
		BodyKind:      parser.BodyBlock,
		IsAsync:       hasChildOfType(node, "async"),
		IsExported:    !strings.HasPrefix(name, "_") || (strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")),
		Decorators:    decorators,
	}
	if class != "" {
		fn.Kind = parser.SymbolMethod
	}
	fillSpan(fn, node, body)

	statements := namedStatements(body)
	if len(statements) > 0 && isDocstring(statements[0]) {
		fn.DocEndRow = int(statements[0].EndPoint().Row)
		statements = statements[1:]
	}
	if len(statements) > 0 {
		fn.LeadingCall = p.leadingCall(statements[0])
	}
	fn.Calls = p.extractCalls(body)

	p.unit.Functions = append(p.unit.Functions, fn)
	return fn
}

func namedStatements(block *sitter.Node) []*sitter.Node {
	statements := make([]*sitter.Node, 0, block.NamedChildCount())
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() != "comment" {
			statements = append(statements, child)
		}
	}
	return statements
}

func (p *pyExtractor) leadingCall(statement *sitter.Node) string {
	if statement.Type() != "expression_statement" {
		return ""
	}
	expr := firstNamedNonComment(statement)
	if expr != nil && expr.Type() == "assignment" {
		expr = expr.ChildByFieldName("right")
	}
	for expr != nil && expr.Type() == "await" {
		expr = firstNamedNonComment(expr)
	}
	if expr == nil || expr.Type() != "call" {
		return ""
	}
	return nodeText(expr.ChildByFieldName("function"), p.content)
}

func (p *pyExtractor) extractClass(node *sitter.Node) {
	className := nameOf(node, p.content)
	if className == "" {
		return
	}
	p.unit.Classes[className] = true

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "function_definition":
			p.extractFunction(member, className, nil)
		case "decorated_definition":
			p.extractDecorated(member, className)
		}
	}
}

func (p *pyExtractor) addImportSpan(node *sitter.Node, module string) {
	p.unit.ImportSpans = append(p.unit.ImportSpans, parser.ImportSpan{
		Module: module,
		Start:  int(node.StartByte()),
		End:    int(node.EndByte()),
	})
}

// extractImport handles `import a`, `import a.b` and `import a.b as c`.
// A dotted import without alias binds both the full path and its first segment.
func (p *pyExtractor) extractImport(node *sitter.Node) {
	line := int(node.StartPoint().Row) + 1
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			module := nodeText(child, p.content)
			p.addImportSpan(node, module)
			p.unit.Imports[module] = parser.ImportBinding{Local: module, Module: module, Kind: parser.BindingNamespace, Line: line}
			if head := rootIdentifier(module); head != module {
				if _, exists := p.unit.Imports[head]; !exists {
					p.unit.Imports[head] = parser.ImportBinding{Local: head, Module: head, Kind: parser.BindingNamespace, Line: line}
				}
			}
		case "aliased_import":
			module := nodeText(child.ChildByFieldName("name"), p.content)
			alias := nodeText(child.ChildByFieldName("alias"), p.content)
			p.addImportSpan(node, module)
			if alias != "" {
				p.unit.Imports[alias] = parser.ImportBinding{Local: alias, Module: module, Kind: parser.BindingNamespace, Line: line}
			}
		}
	}
}

// extractFromImport handles `from m import f, g as h` including relative modules.
func (p *pyExtractor) extractFromImport(node *sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	module := nodeText(moduleNode, p.content)
	if node.Type() == "future_import_statement" {
		module = "__future__"
	}
	if module == "" {
		return
	}
	p.addImportSpan(node, module)
	line := int(node.StartPoint().Row) + 1

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if moduleNode != nil && child.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			name := nodeText(child, p.content)
			p.unit.Imports[name] = parser.ImportBinding{Local: name, Module: module, Imported: name, Kind: parser.BindingNamed, Line: line}
		case "aliased_import":
			name := nodeText(child.ChildByFieldName("name"), p.content)
			alias := nodeText(child.ChildByFieldName("alias"), p.content)
			if alias == "" {
				alias = name
			}
			p.unit.Imports[alias] = parser.ImportBinding{Local: alias, Module: module, Imported: name, Kind: parser.BindingNamed, Line: line}
		}
	}
}

func (p *pyExtractor) extractCalls(node *sitter.Node) []parser.CallSite {
	calls := make([]parser.CallSite, 0)
	p.collectCalls(node, &calls)
	return calls
}

func (p *pyExtractor) collectCalls(node *sitter.Node, calls *[]parser.CallSite) {
	if node == nil {
		return
	}
	if node.Type() == "call" {
		if callSite, ok := p.extractCallSite(node); ok {
			*calls = append(*calls, callSite)
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		p.collectCalls(node.Child(i), calls)
	}
}

func (p *pyExtractor) extractCallSite(callNode *sitter.Node) (parser.CallSite, bool) {
	fnNode := callNode.ChildByFieldName("function")
	if fnNode == nil {
		return parser.CallSite{}, false
	}
	callSite := parser.CallSite{
		Offset: int(callNode.StartByte()),
		Line:   int(callNode.StartPoint().Row) + 1,
		Raw:    nodeText(fnNode, p.content),
	}

	switch fnNode.Type() {
	case "identifier":
		callSite.Shape = parser.CallIdentifier
		callSite.Name = callSite.Raw
	case "attribute":
		object := fnNode.ChildByFieldName("object")
		callSite.Name = nodeText(fnNode.ChildByFieldName("attribute"), p.content)
		callSite.Qualifier = nodeText(object, p.content)
		switch {
		case object != nil && object.Type() == "identifier" && (callSite.Qualifier == "self" || callSite.Qualifier == "cls"):
			callSite.Shape = parser.CallReceiver
			callSite.Receiver = callSite.Qualifier
		case isPyStaticChain(object):
			callSite.Shape = parser.CallMember
			callSite.Root = rootIdentifier(callSite.Qualifier)
		default:
			callSite.Shape = parser.CallOther
		}
	case "subscript":
		callSite.Shape = parser.CallComputed
		callSite.Qualifier = nodeText(fnNode.ChildByFieldName("value"), p.content)
		callSite.Name = callSite.Raw
	default:
		callSite.Shape = parser.CallOther
		callSite.Name = callSite.Raw
	}
	if callSite.Name == "" {
		callSite.Name = callSite.Raw
	}
	return callSite, true
}

func isPyStaticChain(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "identifier":
		return true
	case "attribute":
		return isPyStaticChain(node.ChildByFieldName("object"))
	}
	return false
}
