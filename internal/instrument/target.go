package instrument

import (
	"fmt"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

// Import styles for JavaScript targets
const (
	StyleAuto = "auto"
	StyleESM  = "esm"
	StyleCJS  = "cjs"
)

// Target names the tracing primitives injected for one language.
type Target struct {
	Module      string   `koanf:"module"`
	Start       string   `koanf:"start"`
	End         string   `koanf:"end"`
	SpanVar     string   `koanf:"span_var"`
	ImportStyle string   `koanf:"import_style"`
	Markers     []string `koanf:"markers"` // decorators that already trace a function
}

// Targets holds the per-language tracing targets.
type Targets struct {
	JS     Target `koanf:"js"`
	Python Target `koanf:"py"`
}

// DefaultTargets targets the Handit SDKs.
func DefaultTargets() Targets {
	return Targets{
		JS: Target{
			Module:      "@handit.ai/node",
			Start:       "startTracing",
			End:         "endTracing",
			SpanVar:     "__traceSpan",
			ImportStyle: StyleAuto,
		},
		Python: Target{
			Module:  "handit_ai",
			Start:   "start_tracing",
			End:     "end_tracing",
			SpanVar: "_trace_span",
			Markers: []string{"tracing"},
		},
	}
}

// For returns the target used for lang.
func (t Targets) For(lang parser.Language) Target {
	if lang == parser.LangPython {
		return t.Python
	}
	return t.JS
}

// Validate rejects targets that would produce broken code.
func (t Target) Validate() error {
	for name, value := range map[string]string{"module": t.Module, "start": t.Start, "end": t.End, "span_var": t.SpanVar} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("tracing target %s must not be empty", name)
		}
	}
	switch t.ImportStyle {
	case "", StyleAuto, StyleESM, StyleCJS:
	default:
		return fmt.Errorf("unknown import style %q", t.ImportStyle)
	}
	return nil
}

// isStartCall reports whether callee invokes the start primitive, directly or through a module.
func (t Target) isStartCall(callee string) bool {
	return callee != "" && (callee == t.Start || strings.HasSuffix(callee, "."+t.Start))
}

// isMarker reports whether a decorator already traces the function.
func (t Target) isMarker(decorator string) bool {
	last := decorator
	if idx := strings.LastIndex(decorator, "."); idx != -1 {
		last = decorator[idx+1:]
	}
	for _, m := range t.Markers {
		if decorator == m || last == m {
			return true
		}
	}
	return false
}
