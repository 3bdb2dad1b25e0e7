package graph

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

type moduleKind int

const (
	moduleExternal moduleKind = iota
	moduleInternal
	moduleMissing
)

type moduleLocation struct {
	kind moduleKind
	path string
}

var jsExtensions = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// locateModule maps an import specifier seen in unit to a file. Bare package
// specifiers, and any file outside the boundary, are external.
func (b *build) locateModule(unit *parser.SourceUnit, spec string) moduleLocation {
	if spec == "" {
		return moduleLocation{kind: moduleMissing}
	}
	if unit.Language == parser.LangPython {
		return b.locatePython(unit, spec)
	}
	return b.locateJS(unit, spec)
}

func (b *build) locateJS(unit *parser.SourceUnit, spec string) moduleLocation {
	if strings.HasPrefix(spec, "node:") {
		return moduleLocation{kind: moduleExternal}
	}

	if strings.HasPrefix(spec, ".") || filepath.IsAbs(spec) {
		base := spec
		if !filepath.IsAbs(spec) {
			base = filepath.Join(filepath.Dir(unit.Path), filepath.FromSlash(spec))
		}
		if found := b.probeJS(base); found != "" {
			return b.classify(found)
		}
		if !b.boundary.Contains(base) {
			return moduleLocation{kind: moduleExternal}
		}
		return moduleLocation{kind: moduleMissing}
	}

	// baseUrl-style specifiers ("src/lib/client") resolve from the project root
	// when such a file exists; everything else is a package.
	if found := b.probeJS(filepath.Join(b.boundary.Root(), filepath.FromSlash(spec))); found != "" {
		return b.classify(found)
	}
	return moduleLocation{kind: moduleExternal}
}

func (b *build) probeJS(base string) string {
	candidates := make([]string, 0, 2*len(jsExtensions)+2)
	if ext := filepath.Ext(base); ext != "" {
		candidates = append(candidates, base)
		// TypeScript ESM imports name the emitted .js file
		if ext == ".js" || ext == ".mjs" || ext == ".cjs" || ext == ".jsx" {
			stem := strings.TrimSuffix(base, ext)
			for _, e := range jsExtensions {
				candidates = append(candidates, stem+e)
			}
		}
	}
	for _, e := range jsExtensions {
		candidates = append(candidates, base+e)
	}
	for _, e := range jsExtensions {
		candidates = append(candidates, filepath.Join(base, "index"+e))
	}
	return b.firstSupportedFile(candidates)
}

func (b *build) locatePython(unit *parser.SourceUnit, spec string) moduleLocation {
	if strings.HasPrefix(spec, ".") {
		dots := len(spec) - len(strings.TrimLeft(spec, "."))
		dir := filepath.Dir(unit.Path)
		for i := 1; i < dots; i++ {
			dir = filepath.Dir(dir)
		}
		rest := spec[dots:]
		if rest == "" {
			if found := b.firstSupportedFile([]string{filepath.Join(dir, "__init__.py")}); found != "" {
				return b.classify(found)
			}
			if b.boundary.Contains(dir) {
				// namespace package without __init__.py
				return moduleLocation{kind: moduleMissing, path: dir}
			}
			return moduleLocation{kind: moduleExternal}
		}
		if found := b.probePython(dir, rest); found != "" {
			return b.classify(found)
		}
		if !b.boundary.Contains(dir) {
			return moduleLocation{kind: moduleExternal}
		}
		return moduleLocation{kind: moduleMissing}
	}

	// absolute imports: the project root, a src/ layout, then the importing file's directory
	roots := []string{b.boundary.Root(), filepath.Join(b.boundary.Root(), "src"), filepath.Dir(unit.Path)}
	for _, root := range roots {
		if found := b.probePython(root, spec); found != "" {
			return b.classify(found)
		}
	}
	return moduleLocation{kind: moduleExternal}
}

func (b *build) probePython(dir, dotted string) string {
	base := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(dotted, ".", "/")))
	// a package directory shadows a sibling module of the same name
	return b.firstSupportedFile([]string{
		filepath.Join(base, "__init__.py"),
		base + ".py",
	})
}

// joinPythonModule names submodule name of module: ("pkg", "x") -> "pkg.x", (".", "x") -> ".x".
func joinPythonModule(module, name string) string {
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}

func (b *build) classify(path string) moduleLocation {
	if !b.boundary.Contains(path) {
		return moduleLocation{kind: moduleExternal, path: path}
	}
	return moduleLocation{kind: moduleInternal, path: path}
}

func (b *build) firstSupportedFile(candidates []string) string {
	for _, c := range candidates {
		if _, ok := b.loader.Registry().Detect(c); !ok {
			continue
		}
		info, err := os.Stat(c)
		if err == nil && info.Mode().IsRegular() {
			return filepath.Clean(c)
		}
	}
	return ""
}

var jsGlobals = map[string]bool{
	"console": true, "JSON": true, "Math": true, "Object": true, "Array": true,
	"Promise": true, "Date": true, "Number": true, "String": true, "Boolean": true,
	"Symbol": true, "Reflect": true, "Proxy": true, "Error": true, "RegExp": true,
	"Map": true, "Set": true, "WeakMap": true, "WeakSet": true, "BigInt": true,
	"process": true, "Buffer": true, "globalThis": true, "window": true, "document": true,
	"setTimeout": true, "setInterval": true, "clearTimeout": true, "clearInterval": true,
	"setImmediate": true, "queueMicrotask": true, "structuredClone": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURIComponent": true, "decodeURIComponent": true, "encodeURI": true, "decodeURI": true,
	"fetch": true, "require": true, "URL": true, "URLSearchParams": true,
	"TextEncoder": true, "TextDecoder": true, "AbortController": true, "crypto": true,
}

var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "range": true, "open": true, "str": true, "int": true,
	"float": true, "bool": true, "list": true, "dict": true, "set": true, "tuple": true,
	"bytes": true, "frozenset": true, "isinstance": true, "issubclass": true,
	"getattr": true, "setattr": true, "hasattr": true, "delattr": true,
	"enumerate": true, "zip": true, "map": true, "filter": true, "sorted": true,
	"reversed": true, "sum": true, "min": true, "max": true, "any": true, "all": true,
	"abs": true, "round": true, "repr": true, "type": true, "super": true, "iter": true,
	"next": true, "input": true, "format": true, "id": true, "hash": true, "vars": true,
	"dir": true, "callable": true, "object": true, "globals": true, "locals": true,
	"Exception": true, "ValueError": true, "TypeError": true, "KeyError": true,
	"RuntimeError": true, "NotImplementedError": true, "StopIteration": true,
}

func isBuiltin(lang parser.Language, name string) bool {
	if lang == parser.LangPython {
		return pythonBuiltins[name]
	}
	return jsGlobals[name]
}
