package languages

import (
	"context"
	"errors"
	"testing"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

func TestJavaScriptExtractsFunctionsAndCalls(t *testing.T) {
	src := `#!/usr/bin/env node
"use strict";
import OpenAI from "openai";
import * as helpers from "./helpers.js";
import { parseResponse as parse, format } from "./parse.js";

export async function main() {
  const data = await fetchData();
  helpers.log(data);
  this.ignored();
  handlers[name]();
  return parse(data);
}

async function fetchData() {
  const client = new OpenAI();
  return client.chat.completions.create({ model: "gpt-4o" });
}

export const format2 = (x) => format(x);

class Agent {
  run() {
    return this.step();
  }
  step = () => {
    return 1;
  };
}

export default Agent;
`
	unit, err := NewJavaScriptParser().Parse(context.Background(), "app.js", []byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	names := map[string]*parser.FunctionDecl{}
	for _, fn := range unit.Functions {
		names[fn.QualifiedName] = fn
	}
	for _, want := range []string{"main", "fetchData", "format2", "Agent.run", "Agent.step"} {
		if names[want] == nil {
			t.Fatalf("expected function %q, got %#v", want, keys(names))
		}
	}

	main := names["main"]
	if !main.IsAsync || !main.IsExported {
		t.Fatalf("expected main to be async and exported: %#v", main)
	}
	if main.BodyKind != parser.BodyBlock {
		t.Fatalf("expected block body for main")
	}
	if main.LeadingCall != "fetchData" {
		t.Fatalf("expected leading call fetchData, got %q", main.LeadingCall)
	}
	if names["fetchData"].IsExported {
		t.Fatalf("fetchData is not exported")
	}
	if names["format2"].BodyKind != parser.BodyExpression {
		t.Fatalf("expected expression body for format2")
	}
	if names["Agent.run"].Kind != parser.SymbolMethod || !names["Agent.run"].IsExported {
		t.Fatalf("expected exported method Agent.run: %#v", names["Agent.run"])
	}

	shapes := map[string]parser.CallShape{}
	for _, call := range main.Calls {
		shapes[call.Raw] = call.Shape
	}
	expect := map[string]parser.CallShape{
		"fetchData":      parser.CallIdentifier,
		"helpers.log":    parser.CallMember,
		"this.ignored":   parser.CallReceiver,
		"handlers[name]": parser.CallComputed,
		"parse":          parser.CallIdentifier,
	}
	for raw, shape := range expect {
		got, ok := shapes[raw]
		if !ok {
			t.Fatalf("expected call %q in %#v", raw, shapes)
		}
		if got != shape {
			t.Fatalf("expected %q to be %s, got %s", raw, shape, got)
		}
	}

	if b := unit.Imports["OpenAI"]; b.Kind != parser.BindingDefault || b.Module != "openai" {
		t.Fatalf("unexpected default import binding %#v", b)
	}
	if b := unit.Imports["helpers"]; b.Kind != parser.BindingNamespace || b.Module != "./helpers.js" {
		t.Fatalf("unexpected namespace import binding %#v", b)
	}
	if b := unit.Imports["parse"]; b.Imported != "parseResponse" || b.Kind != parser.BindingNamed {
		t.Fatalf("unexpected aliased import binding %#v", b)
	}
	if !unit.HasESM || unit.HasRequire {
		t.Fatalf("expected ESM-only unit")
	}
	if len(unit.ImportSpans) != 3 {
		t.Fatalf("expected 3 import spans, got %d", len(unit.ImportSpans))
	}
	if unit.Exports["default"] != "Agent" {
		t.Fatalf("expected default export Agent, got %q", unit.Exports["default"])
	}
}

func TestJavaScriptCommonJSBindingsAndExports(t *testing.T) {
	src := `const { handle, other: renamed } = require("./handlers");
const lib = require("./lib");
const single = require("./lib").single;

function run() {
  handle();
  renamed();
  lib.go();
  single();
}

exports.start = async function () {
  run();
};

module.exports = { run, alias: run };
`
	unit, err := NewJavaScriptParser().Parse(context.Background(), "index.cjs", []byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	if !unit.HasRequire || unit.HasESM {
		t.Fatalf("expected CommonJS unit")
	}
	if b := unit.Imports["handle"]; b.Module != "./handlers" || b.Imported != "handle" || b.Kind != parser.BindingNamed {
		t.Fatalf("unexpected destructured binding %#v", b)
	}
	if b := unit.Imports["renamed"]; b.Imported != "other" {
		t.Fatalf("unexpected renamed binding %#v", b)
	}
	if b := unit.Imports["lib"]; b.Kind != parser.BindingNamespace {
		t.Fatalf("unexpected namespace binding %#v", b)
	}
	if b := unit.Imports["single"]; b.Imported != "single" || b.Kind != parser.BindingNamed {
		t.Fatalf("unexpected member binding %#v", b)
	}

	if unit.Function("start") == nil {
		t.Fatalf("expected exports.start to be declared")
	}
	if unit.Exports["alias"] != "run" || unit.Exports["run"] != "run" {
		t.Fatalf("unexpected exports %#v", unit.Exports)
	}
	if !unit.Function("run").IsExported {
		t.Fatalf("expected run to be marked exported")
	}
}

func TestJavaScriptModuleExportsFunctionValues(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		exports map[string]string
		dflt    string
	}{
		{
			name:    "named function expression",
			src:     "module.exports = function helper() {\n  return 1;\n};\n",
			exports: map[string]string{"default": "helper"},
			dflt:    "helper",
		},
		{
			name:    "anonymous function expression",
			src:     "module.exports = async () => {\n  return 1;\n};\n",
			exports: map[string]string{"default": "default"},
			dflt:    "default",
		},
		{
			name:    "object of arrows and methods",
			src:     "module.exports = {\n  run: async () => {\n    return 2;\n  },\n  async go() {\n    return 3;\n  },\n  \"x-y\": function () {\n    return 4;\n  },\n};\n",
			exports: map[string]string{"run": "run", "go": "go", "x-y": "x-y"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit, err := NewJavaScriptParser().Parse(context.Background(), "m.js", []byte(tc.src))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			defer unit.Tree.Close()

			for exported, local := range tc.exports {
				if unit.Exports[exported] != local {
					t.Fatalf("expected export %q -> %q, got %#v", exported, local, unit.Exports)
				}
				fn := unit.ModuleFunction(local)
				if fn == nil || !fn.IsExported || fn.BodyKind != parser.BodyBlock {
					t.Fatalf("expected exported block function %q, got %#v", local, fn)
				}
			}
			if tc.dflt != "" {
				if fn := unit.DefaultExport(); fn == nil || fn.Name != tc.dflt {
					t.Fatalf("expected default export %q, got %#v", tc.dflt, fn)
				}
			}
		})
	}
}

func TestTypeScriptParsesTypedSource(t *testing.T) {
	src := `import { startTracing, endTracing } from "@handit.ai/node";

export class Service {
  private client: Client;

  async handle(input: string): Promise<string> {
    const __traceSpan = startTracing("Service.handle");
    try {
      return await this.client.send(input);
    } finally {
      endTracing(__traceSpan);
    }
  }
}

export default function (req: Request): void {
  console.log(req);
}
`
	unit, err := NewTypeScriptParser().Parse(context.Background(), "service.ts", []byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	handle := unit.Method("Service", "handle")
	if handle == nil {
		t.Fatalf("expected Service.handle")
	}
	if handle.LeadingCall != "startTracing" {
		t.Fatalf("expected startTracing leading call, got %q", handle.LeadingCall)
	}
	if !unit.ImportsModule("@handit.ai/node") {
		t.Fatalf("expected tracing import to be recorded")
	}
	def := unit.DefaultExport()
	if def == nil || def.Name != "default" {
		t.Fatalf("expected anonymous default export, got %#v", def)
	}
}

func TestTypeScriptSyntaxErrorIsParseError(t *testing.T) {
	_, err := NewTypeScriptParser().Parse(context.Background(), "broken.ts", []byte("function main( {\n"))
	var parseErr *parser.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Line == 0 {
		t.Fatalf("expected error position, got %#v", parseErr)
	}
}

func TestJavaScriptPrologueAndProtectedRows(t *testing.T) {
	src := "#!/usr/bin/env node\n'use strict';\nfunction f() {\n  const s = `a\nb`;\n  return s;\n}\n"
	unit, err := NewJavaScriptParser().Parse(context.Background(), "cli.js", []byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	want := len("#!/usr/bin/env node\n'use strict';\n")
	if unit.Prologue != want {
		t.Fatalf("expected prologue %d, got %d", want, unit.Prologue)
	}
	if !unit.ProtectedRows[4] || unit.ProtectedRows[3] {
		t.Fatalf("expected only row 4 protected, got %#v", unit.ProtectedRows)
	}
}

func TestDefaultRegistryDetectsLanguages(t *testing.T) {
	r := NewDefaultRegistry()
	cases := map[string]parser.Language{
		"a.js":  parser.LangJavaScript,
		"a.mjs": parser.LangJavaScript,
		"a.cjs": parser.LangJavaScript,
		"a.jsx": parser.LangJavaScript,
		"a.ts":  parser.LangTypeScript,
		"a.tsx": parser.LangTypeScript,
		"a.py":  parser.LangPython,
	}
	for file, want := range cases {
		got, ok := r.Detect(file)
		if !ok || got != want {
			t.Fatalf("detect %s: expected %s, got %s (%v)", file, want, got, ok)
		}
	}
	if _, ok := r.Detect("main.rb"); ok {
		t.Fatalf("ruby must not be detected")
	}
}

func keys(m map[string]*parser.FunctionDecl) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
