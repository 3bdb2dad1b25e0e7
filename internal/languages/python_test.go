package languages

import (
	"context"
	"errors"
	"testing"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

func TestPythonFromImportCapturesAliasedMembers(t *testing.T) {
	unit, err := NewPythonParser().Parse(context.Background(), "main.py", []byte(`from util import foo as myfoo, bar
import os.path
import numpy as np
from . import sibling
from .pkg.mod import helper

def run():
    myfoo()
    bar()
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	if got := unit.Imports["myfoo"]; got.Module != "util" || got.Imported != "foo" || got.Kind != parser.BindingNamed {
		t.Fatalf("expected aliased import myfoo=>util#foo, got %#v", got)
	}
	if got := unit.Imports["bar"]; got.Module != "util" || got.Imported != "bar" {
		t.Fatalf("expected named import bar=>util#bar, got %#v", got)
	}
	if _, exists := unit.Imports["foo"]; exists {
		t.Fatalf("did not expect original name foo for aliased import")
	}
	if got := unit.Imports["os.path"]; got.Kind != parser.BindingNamespace || got.Module != "os.path" {
		t.Fatalf("expected dotted namespace binding, got %#v", got)
	}
	if got := unit.Imports["os"]; got.Module != "os" {
		t.Fatalf("expected dotted import to bind its head, got %#v", got)
	}
	if got := unit.Imports["np"]; got.Module != "numpy" {
		t.Fatalf("expected alias np=>numpy, got %#v", got)
	}
	if got := unit.Imports["sibling"]; got.Module != "." || got.Imported != "sibling" {
		t.Fatalf("expected relative import binding, got %#v", got)
	}
	if got := unit.Imports["helper"]; got.Module != ".pkg.mod" {
		t.Fatalf("expected relative dotted module, got %#v", got)
	}
}

func TestPythonExtractsFunctionsMethodsAndDocstrings(t *testing.T) {
	src := `#!/usr/bin/env python
"""Agent module."""
from openai import OpenAI
from handit_ai import tracing


@tracing(agent="support")
def main():
    """Entry point."""
    client = OpenAI()
    return Agent().run(client)


class Agent:
    def __init__(self):
        self.history = []

    async def run(self, client):
        result = await client.chat.completions.create(model="gpt-4o")
        return self._format(result)

    def _format(self, result):
        return handlers[result.kind](result)
`
	unit, err := NewPythonParser().Parse(context.Background(), "agent.py", []byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	main := unit.Function("main")
	if main == nil {
		t.Fatalf("expected main")
	}
	if len(main.Decorators) != 1 || main.Decorators[0] != "tracing" {
		t.Fatalf("expected tracing decorator, got %#v", main.Decorators)
	}
	if main.StartLine != 7 {
		t.Fatalf("expected declaration to start at the decorator line, got %d", main.StartLine)
	}
	if main.DocEndRow != 8 {
		t.Fatalf("expected docstring on row 8, got %d", main.DocEndRow)
	}
	if main.LeadingCall != "OpenAI" {
		t.Fatalf("expected leading call OpenAI after docstring, got %q", main.LeadingCall)
	}

	run := unit.Method("Agent", "run")
	if run == nil || !run.IsAsync || run.Kind != parser.SymbolMethod {
		t.Fatalf("expected async method Agent.run, got %#v", run)
	}
	if run.QualifiedName != "Agent.run" {
		t.Fatalf("unexpected qualified name %q", run.QualifiedName)
	}
	var sawReceiver bool
	for _, call := range run.Calls {
		if call.Shape == parser.CallReceiver && call.Name == "_format" && call.Receiver == "self" {
			sawReceiver = true
		}
	}
	if !sawReceiver {
		t.Fatalf("expected self._format receiver call, got %#v", run.Calls)
	}

	format := unit.Method("Agent", "_format")
	if format == nil || format.IsExported {
		t.Fatalf("expected private method _format, got %#v", format)
	}
	if len(format.Calls) == 0 || format.Calls[0].Shape != parser.CallComputed {
		t.Fatalf("expected computed call in _format, got %#v", format.Calls)
	}
	if ctor := unit.Method("Agent", "__init__"); ctor == nil || !ctor.IsExported {
		t.Fatalf("expected dunder __init__ to count as public")
	}
	if !unit.Classes["Agent"] {
		t.Fatalf("expected class Agent to be recorded")
	}
	if !unit.ImportsModule("handit_ai") {
		t.Fatalf("expected handit_ai import span")
	}

	wantPrologue := len("#!/usr/bin/env python\n\"\"\"Agent module.\"\"\"\n")
	if unit.Prologue != wantPrologue {
		t.Fatalf("expected prologue %d, got %d", wantPrologue, unit.Prologue)
	}
}

func TestPythonMultilineStringRowsAreProtected(t *testing.T) {
	src := "def prompt():\n    text = \"\"\"first\nsecond\n\"\"\"\n    return text\n"
	unit, err := NewPythonParser().Parse(context.Background(), "prompt.py", []byte(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer unit.Tree.Close()

	if !unit.ProtectedRows[2] || !unit.ProtectedRows[3] || unit.ProtectedRows[1] || unit.ProtectedRows[4] {
		t.Fatalf("unexpected protected rows %#v", unit.ProtectedRows)
	}
}

func TestPythonSyntaxErrorIsParseError(t *testing.T) {
	_, err := NewPythonParser().Parse(context.Background(), "broken.py", []byte("def broken(:\n    pass\n"))
	var parseErr *parser.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
