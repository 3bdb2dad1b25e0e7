package instrument

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

// importSplice inserts the tracing import after the last top-level import, or
// at the prologue end (shebang, directives, module docstring) when there is none.
func importSplice(s *sourceText, t Target) splice {
	unit := s.unit
	pos := unit.Prologue
	if len(unit.ImportSpans) > 0 {
		last := 0
		for _, span := range unit.ImportSpans {
			last = max(last, span.End)
		}
		pos = s.start(s.rowOf(last) + 1)
	}

	text := importStatement(unit, t) + s.newline
	if pos > 0 && s.content[pos-1] != '\n' {
		text = s.newline + text
	}
	return splice{start: pos, end: pos, text: []byte(text)}
}

func importStatement(unit *parser.SourceUnit, t Target) string {
	names := t.Start + ", " + t.End
	if unit.Language == parser.LangPython {
		return "from " + t.Module + " import " + names
	}
	if importStyle(unit, t) == StyleCJS {
		return "const { " + names + " } = require(" + quoteJS(t.Module) + ");"
	}
	return "import { " + names + " } from " + quoteJS(t.Module) + ";"
}

func quoteJS(module string) string {
	return `"` + strings.ReplaceAll(module, `"`, `\"`) + `"`
}

// importStyle resolves the module system for a JS/TS file: configuration,
// then extension, then what the file already uses, then the nearest package.json.
func importStyle(unit *parser.SourceUnit, t Target) string {
	if t.ImportStyle == StyleESM || t.ImportStyle == StyleCJS {
		return t.ImportStyle
	}
	switch strings.ToLower(filepath.Ext(unit.Path)) {
	case ".mjs", ".mts":
		return StyleESM
	case ".cjs", ".cts":
		return StyleCJS
	}
	switch {
	case unit.HasESM:
		return StyleESM
	case unit.HasRequire:
		return StyleCJS
	case unit.Language == parser.LangTypeScript:
		return StyleESM
	}
	if packageType(filepath.Dir(unit.Path)) == "module" {
		return StyleESM
	}
	return StyleCJS
}

// packageType returns the "type" field of the nearest package.json above dir.
func packageType(dir string) string {
	for {
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		if err == nil {
			var pkg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &pkg) == nil {
				return pkg.Type
			}
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
