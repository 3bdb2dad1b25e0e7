package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/autotrace-dev/autotrace/internal/config"
	"github.com/autotrace-dev/autotrace/internal/graph"
	"github.com/autotrace-dev/autotrace/internal/state"
)

const appJS = `import OpenAI from "openai";
import { parseResponse } from "./parse.js";

const client = new OpenAI();

export async function main() {
  const data = await fetchData();
  console.log(data);
}

async function fetchData() {
  const res = await client.chat.completions.create({ model: "gpt-4o" });
  return parseResponse(res);
}
`

const parseJS = `export function parseResponse(res) {
  return res.choices[0].message.content;
}
`

const agentPy = `import anthropic

client = anthropic.Anthropic()


def run(prompt):
    return ask(prompt)


def ask(prompt):
    msg = client.messages.create(model="claude", messages=[prompt])
    return msg.content
`

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if out != "autotrace test\n" {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestInstrumentYesIsIdempotent(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "instrument", "--root", root, "--yes", "app.js", "main")
	if err != nil {
		t.Fatalf("instrument failed: %v", err)
	}
	if !strings.Contains(out, "applied=1") {
		t.Fatalf("expected one applied file in summary, got:\n%s", out)
	}

	app := readFile(t, filepath.Join(root, "app.js"))
	for _, want := range []string{
		`import { startTracing, endTracing } from "@handit.ai/node";`,
		`const __traceSpan = startTracing("main");`,
		`const __traceSpan = startTracing("fetchData");`,
		`endTracing(__traceSpan);`,
	} {
		if !strings.Contains(app, want) {
			t.Fatalf("expected app.js to contain %q, got:\n%s", want, app)
		}
	}
	if got := readFile(t, filepath.Join(root, "parse.js")); got != parseJS {
		t.Fatalf("parse.js should be untouched, got:\n%s", got)
	}
	assertExists(t, state.Path(filepath.Join(root, state.DefaultDir)))

	if _, err := execute(t, "instrument", "--root", root, "--yes", "app.js", "main"); err != nil {
		t.Fatalf("second instrument failed: %v", err)
	}
	if again := readFile(t, filepath.Join(root, "app.js")); again != app {
		t.Fatalf("second run changed app.js:\n%s", again)
	}
}

func TestInstrumentPython(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "agent.py"), agentPy)

	if _, err := execute(t, "instrument", "--root", root, "--yes", "agent.py", "run"); err != nil {
		t.Fatalf("instrument failed: %v", err)
	}
	got := readFile(t, filepath.Join(root, "agent.py"))
	if !strings.HasPrefix(got, "import anthropic\nfrom handit_ai import start_tracing, end_tracing\n") {
		t.Fatalf("expected import after existing imports, got:\n%s", got)
	}
	if !strings.Contains(got, "    _trace_span = start_tracing(\"ask\")\n    try:\n        msg = client.messages.create") {
		t.Fatalf("expected ask to be wrapped, got:\n%s", got)
	}
}

func TestInstrumentDryRunPrintsDiff(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "instrument", "--root", root, "--dry-run", "app.js", "main")
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out, "+++ b/app.js") || !strings.Contains(out, `+  const __traceSpan = startTracing("main");`) {
		t.Fatalf("expected a unified diff for app.js, got:\n%s", out)
	}
	if !strings.Contains(out, "(dry-run)") {
		t.Fatalf("expected dry-run summary, got:\n%s", out)
	}
	if got := readFile(t, filepath.Join(root, "app.js")); got != appJS {
		t.Fatalf("dry run modified app.js")
	}
	assertNotExists(t, filepath.Join(root, state.DefaultDir))
}

func TestInstrumentJSONSummary(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "instrument", "--root", root, "--json", "app.js", "main")
	if err != nil {
		t.Fatalf("instrument --json failed: %v", err)
	}
	var summary RunSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid JSON summary: %v\n%s", err, out)
	}
	if summary.Mode != "instrument" || summary.Applied != 1 || summary.Selected != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.SessionID == "" {
		t.Fatalf("expected a session id")
	}
	if len(summary.Results) != 1 || summary.Results[0].File != "app.js" {
		t.Fatalf("unexpected results: %+v", summary.Results)
	}
}

func TestInstrumentMissingEntryFails(t *testing.T) {
	root := newProject(t)

	_, err := execute(t, "instrument", "--root", root, "--yes", "app.js", "nope")
	if !errors.Is(err, graph.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if got := readFile(t, filepath.Join(root, "app.js")); got != appJS {
		t.Fatalf("failed run modified app.js")
	}
}

func TestGraphJSON(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "graph", "--root", root, "--json", "app.js", "main")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	var payload struct {
		Nodes []struct {
			QualifiedName string   `json:"qualified_name"`
			Tags          []string `json:"tags"`
		} `json:"nodes"`
		Analysis struct {
			Recommended []string `json:"recommended"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid graph JSON: %v\n%s", err, out)
	}
	if len(payload.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(payload.Nodes))
	}
	if payload.Nodes[0].QualifiedName != "main" || !containsString(payload.Nodes[0].Tags, graph.TagEntry) {
		t.Fatalf("expected entry node first, got %+v", payload.Nodes[0])
	}
	if len(payload.Analysis.Recommended) != 2 {
		t.Fatalf("expected main and fetchData recommended, got %v", payload.Analysis.Recommended)
	}
}

func TestGraphJSONLAndTree(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "graph", "--root", root, "--jsonl", "app.js", "main")
	if err != nil {
		t.Fatalf("graph --jsonl failed: %v", err)
	}
	types := make(map[string]int)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var record struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", line, err)
		}
		types[record.Type]++
	}
	if types["node"] != 3 || types["edge"] == 0 {
		t.Fatalf("unexpected record counts: %v", types)
	}

	tree, err := execute(t, "graph", "--root", root, "app.js", "main")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.HasPrefix(tree, "* main (app.js:") || !strings.Contains(tree, "  * fetchData (app.js:") {
		t.Fatalf("unexpected tree:\n%s", tree)
	}
	if !strings.Contains(tree, "[llm-call]") {
		t.Fatalf("expected llm-call tag in tree:\n%s", tree)
	}

	if _, err := execute(t, "graph", "--root", root, "--json", "--jsonl", "app.js", "main"); err == nil {
		t.Fatalf("expected --json with --jsonl to fail")
	}
}

func TestStatusReportsModifiedFiles(t *testing.T) {
	root := newProject(t)

	out, err := execute(t, "status", "--root", root)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "files=0") {
		t.Fatalf("expected empty status, got:\n%s", out)
	}

	if _, err := execute(t, "instrument", "--root", root, "--yes", "app.js", "main"); err != nil {
		t.Fatalf("instrument failed: %v", err)
	}
	out, err = execute(t, "status", "--root", root, "--json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var summary StatusSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid status JSON: %v\n%s", err, out)
	}
	if !summary.Clean || summary.Functions != 2 || len(summary.Entries) != 1 {
		t.Fatalf("unexpected status after instrument: %+v", summary)
	}
	if summary.Entries[0].Status != statusUnchanged {
		t.Fatalf("expected unchanged, got %s", summary.Entries[0].Status)
	}

	app := filepath.Join(root, "app.js")
	mustWriteFile(t, app, readFile(t, app)+"// edited\n")
	out, err = execute(t, "status", "--root", root, "--json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if summary.Clean || summary.Entries[0].Status != statusModified {
		t.Fatalf("expected app.js modified, got %+v", summary)
	}

	if err := os.Remove(app); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	out, err = execute(t, "status", "--root", root, "--json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if summary.Entries[0].Status != statusMissing {
		t.Fatalf("expected app.js missing, got %+v", summary.Entries[0])
	}
}

func TestInitWritesDefaultConfig(t *testing.T) {
	root := t.TempDir()

	if _, err := execute(t, "init", "--root", root); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	path := filepath.Join(root, config.FileName)
	assertExists(t, path)
	if !strings.Contains(readFile(t, path), "max_depth = 8") {
		t.Fatalf("expected defaults in %s:\n%s", path, readFile(t, path))
	}

	if _, err := execute(t, "init", "--root", root); err == nil {
		t.Fatalf("expected init to refuse to overwrite")
	}
	if _, err := execute(t, "init", "--root", root, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
}

func TestIgnoreFileExcludesFiles(t *testing.T) {
	root := newProject(t)
	mustWriteFile(t, filepath.Join(root, IgnoreFile), "# generated\nparse.js\n")

	rules, err := LoadIgnoreRules(root)
	if err != nil {
		t.Fatalf("LoadIgnoreRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0] != "parse.js" {
		t.Fatalf("unexpected rules %v", rules)
	}

	out, err := execute(t, "graph", "--root", root, "--json", "app.js", "main")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if strings.Contains(out, `"qualified_name": "parseResponse"`) {
		t.Fatalf("ignored file should not be expanded:\n%s", out)
	}
}

func TestSummarizePaths(t *testing.T) {
	if got := SummarizePaths([]string{"a", "b"}, 3); got != "a, b" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SummarizePaths([]string{"a", "b", "c", "d"}, 2); got != "a, b ... (+2 more)" {
		t.Fatalf("unexpected %q", got)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "app.js"), appJS)
	mustWriteFile(t, filepath.Join(root, "parse.js"), parseJS)
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func assertNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	} else if !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent: %v", path, err)
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}
