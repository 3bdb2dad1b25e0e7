package languages

import "github.com/autotrace-dev/autotrace/internal/parser"

// NewDefaultRegistry creates a registry with all supported language parsers
func NewDefaultRegistry() *parser.Registry {
	r := parser.NewRegistry()

	r.Register(NewJavaScriptParser())
	r.Register(NewTypeScriptParser())
	r.Register(NewPythonParser())

	return r
}
