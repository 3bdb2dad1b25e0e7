package parser

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Language identifies the grammar a source unit was parsed with.
type Language string

const (
	LangJavaScript Language = "js"
	LangTypeScript Language = "ts"
	LangPython     Language = "py"
)

// IsJSFamily reports whether the language shares the JavaScript call and import model.
func (l Language) IsJSFamily() bool {
	return l == LangJavaScript || l == LangTypeScript
}

// SymbolKind represents the type of a discovered function symbol
type SymbolKind int

const (
	SymbolFunction SymbolKind = iota
	SymbolMethod
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolFunction:
		return "func"
	case SymbolMethod:
		return "method"
	default:
		return "unknown"
	}
}

// BodyKind distinguishes statement blocks from expression bodies (arrow functions).
type BodyKind int

const (
	BodyBlock BodyKind = iota
	BodyExpression
)

// CallShape describes the syntactic form of a call expression.
type CallShape int

const (
	// CallIdentifier is a bare call: foo()
	CallIdentifier CallShape = iota
	// CallMember is a call through a static member chain: ns.foo(), a.b.c()
	CallMember
	// CallReceiver is a call through this/self/cls: this.foo(), self.foo()
	CallReceiver
	// CallComputed is a call through a computed member: obj[name]()
	CallComputed
	// CallOther covers callees that are themselves expressions: (await f())(), fn()()
	CallOther
)

func (s CallShape) String() string {
	switch s {
	case CallIdentifier:
		return "identifier"
	case CallMember:
		return "member"
	case CallReceiver:
		return "receiver"
	case CallComputed:
		return "computed"
	default:
		return "other"
	}
}

// CallSite captures a function/method invocation discovered inside a function body.
type CallSite struct {
	Name      string    `json:"name"`
	Qualifier string    `json:"qualifier,omitempty"`
	Root      string    `json:"root,omitempty"` // leftmost identifier of Qualifier
	Receiver  string    `json:"receiver,omitempty"`
	Shape     CallShape `json:"shape"`
	Offset    int       `json:"offset"`
	Line      int       `json:"line"`
	Raw       string    `json:"raw,omitempty"`
}

// Span is a half-open byte range into a unit's content.
type Span struct {
	Start int
	End   int
}

// FunctionDecl is a function, method or variable-bound function expression
// declared at module scope or directly inside a class body.
type FunctionDecl struct {
	Name          string
	QualifiedName string // Class.method for methods
	Class         string
	Kind          SymbolKind

	Start     int // byte offset of the declaration (def/function keyword, or the declarator)
	End       int
	StartLine int // 1-based
	EndLine   int
	DeclRow   int // 0-based row whose indentation is the declaration's indentation

	Body      Span
	BodyKind  BodyKind
	BodyRows  [2]int // first and last 0-based row of the body
	DocEndRow int    // last row of a leading docstring or directive prologue, -1 when absent

	IsAsync         bool
	IsExported      bool
	IsDefaultExport bool
	Decorators      []string
	LeadingCall     string // callee of the first non-docstring statement
	Calls           []CallSite
}

// BindingKind is how an import binds a local name.
type BindingKind int

const (
	BindingNamed BindingKind = iota
	BindingDefault
	BindingNamespace
)

// ImportBinding maps a local name to the module it was imported from.
type ImportBinding struct {
	Local    string      `json:"local"`
	Module   string      `json:"module"`
	Imported string      `json:"imported,omitempty"` // exported name in Module; empty for namespace bindings
	Kind     BindingKind `json:"kind"`
	Line     int         `json:"line"`
}

// ImportSpan records a top-level import/require statement.
type ImportSpan struct {
	Module string
	Start  int
	End    int
}

// SourceUnit is one parsed file. Content is an immutable snapshot taken on first load;
// rewrites always operate on copies.
type SourceUnit struct {
	Path     string // absolute
	RelPath  string // relative to the project root, slash separated
	Language Language
	Content  []byte
	Hash     string
	Tree     *sitter.Tree

	Functions []*FunctionDecl
	Classes   map[string]bool
	Imports   map[string]ImportBinding // local name -> binding
	Exports   map[string]string        // exported name -> local declaration name ("default" for default exports)

	ImportSpans   []ImportSpan
	ProtectedRows map[int]bool // rows that continue a multi-line string literal
	Prologue      int          // insertion offset for a first import when there are none
	HasESM        bool
	HasRequire    bool
}

// Function looks a declaration up by qualified name first, then by bare name
// preferring module-level functions over methods.
func (u *SourceUnit) Function(name string) *FunctionDecl {
	if u == nil || name == "" {
		return nil
	}
	for _, fn := range u.Functions {
		if fn.QualifiedName == name {
			return fn
		}
	}
	var method *FunctionDecl
	for _, fn := range u.Functions {
		if fn.Name != name {
			continue
		}
		if fn.Class == "" {
			return fn
		}
		if method == nil {
			method = fn
		}
	}
	return method
}

// Method returns the method name declared on class, if any.
func (u *SourceUnit) Method(class, name string) *FunctionDecl {
	if u == nil || class == "" {
		return nil
	}
	for _, fn := range u.Functions {
		if fn.Class == class && fn.Name == name {
			return fn
		}
	}
	return nil
}

// ModuleFunction returns a module-level (non-method) function by name.
func (u *SourceUnit) ModuleFunction(name string) *FunctionDecl {
	if u == nil {
		return nil
	}
	for _, fn := range u.Functions {
		if fn.Class == "" && fn.Name == name {
			return fn
		}
	}
	return nil
}

// DefaultExport returns the function exported as the module default, if any.
func (u *SourceUnit) DefaultExport() *FunctionDecl {
	for _, fn := range u.Functions {
		if fn.IsDefaultExport {
			return fn
		}
	}
	return nil
}

// ImportsModule reports whether the unit already imports or requires module.
func (u *SourceUnit) ImportsModule(module string) bool {
	for _, span := range u.ImportSpans {
		if span.Module == module {
			return true
		}
	}
	return false
}

// ParseError reports a file that could not be parsed cleanly. The graph builder
// treats it as an unresolved callee unless the file is the entry file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}
