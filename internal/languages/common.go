package languages

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

func splitQualifiedName(raw string) (qualifier, name string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if idx := strings.LastIndex(raw, "."); idx != -1 {
		qualifier = strings.TrimSpace(raw[:idx])
		name = strings.TrimSpace(raw[idx+1:])
		return qualifier, name
	}
	return "", raw
}

// rootIdentifier returns the leftmost segment of a dotted chain.
func rootIdentifier(qualifier string) string {
	qualifier = strings.TrimSpace(qualifier)
	if idx := strings.IndexAny(qualifier, ".?"); idx != -1 {
		return qualifier[:idx]
	}
	return qualifier
}

func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return strings.TrimSpace(node.Content(content))
}

func hasChildOfType(node *sitter.Node, typ string) bool {
	if node == nil {
		return false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func firstNamedNonComment(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "comment" {
			return child
		}
	}
	return nil
}

// syntaxError finds the first error or missing node under root.
func syntaxError(root *sitter.Node, filename string) *parser.ParseError {
	if root == nil || !root.HasError() {
		return nil
	}
	var found *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found != nil || n == nil {
			return
		}
		if n.IsError() || n.IsMissing() {
			found = n
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	perr := &parser.ParseError{Path: filename, Message: "syntax error"}
	if found != nil {
		perr.Line = int(found.StartPoint().Row) + 1
		perr.Column = int(found.StartPoint().Column) + 1
		if found.IsMissing() {
			perr.Message = fmt.Sprintf("missing %s", found.Type())
		} else {
			perr.Message = "unexpected input"
		}
	}
	return perr
}

// collectProtectedRows marks rows that continue a multi-line string literal.
// Re-indenting those rows would change the literal's value.
func collectProtectedRows(node *sitter.Node, stringTypes map[string]bool, rows map[int]bool) {
	if node == nil {
		return
	}
	if stringTypes[node.Type()] {
		start := int(node.StartPoint().Row)
		end := int(node.EndPoint().Row)
		for row := start + 1; row <= end; row++ {
			rows[row] = true
		}
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectProtectedRows(node.Child(i), stringTypes, rows)
	}
}

// endOfLine returns the offset just past the newline terminating the line containing offset.
func endOfLine(content []byte, offset int) int {
	if offset >= len(content) {
		return len(content)
	}
	idx := bytes.IndexByte(content[offset:], '\n')
	if idx == -1 {
		return len(content)
	}
	return offset + idx + 1
}

func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}

func newUnit(lang parser.Language, filename string, content []byte, tree *sitter.Tree) *parser.SourceUnit {
	return &parser.SourceUnit{
		Path:          filename,
		Language:      lang,
		Content:       content,
		Tree:          tree,
		Functions:     make([]*parser.FunctionDecl, 0),
		Classes:       make(map[string]bool),
		Imports:       make(map[string]parser.ImportBinding),
		Exports:       make(map[string]string),
		ProtectedRows: make(map[int]bool),
	}
}

func fillSpan(fn *parser.FunctionDecl, node, body *sitter.Node) {
	fn.Start = int(node.StartByte())
	fn.End = int(node.EndByte())
	fn.StartLine = int(node.StartPoint().Row) + 1
	fn.EndLine = int(node.EndPoint().Row) + 1
	fn.DeclRow = int(node.StartPoint().Row)
	fn.DocEndRow = -1
	if body != nil {
		fn.Body = parser.Span{Start: int(body.StartByte()), End: int(body.EndByte())}
		fn.BodyRows = [2]int{int(body.StartPoint().Row), int(body.EndPoint().Row)}
	}
}

func qualify(class, name string) string {
	if class == "" {
		return name
	}
	return class + "." + name
}
