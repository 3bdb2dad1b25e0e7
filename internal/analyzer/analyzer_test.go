package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autotrace-dev/autotrace/internal/boundary"
	"github.com/autotrace-dev/autotrace/internal/graph"
	"github.com/autotrace-dev/autotrace/internal/languages"
	"github.com/autotrace-dev/autotrace/internal/parser"
)

func TestAnalyzeScenarioRecommendsEntryAndLLMCaller(t *testing.T) {
	root := t.TempDir()
	write(t, root, "app.js", `import OpenAI from "openai";

const client = new OpenAI();

export async function main() {
  return fetchData();
}

async function fetchData() {
  const res = await client.chat.completions.create({ model: "gpt-4o" });
  return parseResponse(res);
}

function parseResponse(res) {
  return res.choices[0].message.content;
}
`)

	g := buildGraph(t, root, "app.js", "main")
	a := Analyze(g, DefaultRules())

	main := byName(g, "main")
	fetchData := byName(g, "fetchData")
	parseResponse := byName(g, "parseResponse")
	require.NotNil(t, main)
	require.NotNil(t, fetchData)
	require.NotNil(t, parseResponse)

	assert.True(t, main.HasTag(graph.TagEntry))
	assert.True(t, fetchData.HasTag(graph.TagLLMCall))
	assert.False(t, parseResponse.HasTag(graph.TagLLMCall))

	assert.Equal(t, []string{main.ID, fetchData.ID}, a.Recommended)
	assert.True(t, main.Selected)
	assert.True(t, fetchData.Selected)
	assert.False(t, parseResponse.Selected)
	assert.Equal(t, 1, a.TagCounts[graph.TagLLMCall])
}

func TestAnalyzeTagsProviderImportsAndIO(t *testing.T) {
	g := graph.NewCallGraph()
	entry := addNode(g, "entry")
	ask := addNode(g, "ask")
	save := addNode(g, "save")
	g.EntryID = entry.ID

	g.Edges = append(g.Edges,
		graph.CallEdge{CallerID: entry.ID, CalleeID: ask.ID, Resolution: graph.Resolved, Callee: "ask"},
		graph.CallEdge{CallerID: entry.ID, CalleeID: save.ID, Resolution: graph.Resolved, Callee: "save"},
		graph.CallEdge{CallerID: ask.ID, CalleeID: "external:anthropic#Anthropic", Resolution: graph.External, Module: "anthropic", Callee: "anthropic.Anthropic"},
		graph.CallEdge{CallerID: save.ID, CalleeID: "external:builtin#open", Resolution: graph.External, Module: "builtin", Callee: "open"},
		graph.CallEdge{CallerID: save.ID, CalleeID: "external:fs/promises#writeFile", Resolution: graph.External, Module: "fs/promises", Callee: "writeFile"},
	)

	a := Analyze(g, DefaultRules())

	assert.True(t, ask.HasTag(graph.TagLLMCall))
	assert.True(t, save.HasTag(graph.TagIO))
	assert.False(t, save.HasTag(graph.TagLLMCall))
	assert.ElementsMatch(t, []string{entry.ID, ask.ID}, a.Recommended)
	assert.Equal(t, 1, a.TagCounts[graph.TagIO])
}

func TestAnalyzeMarksRecursion(t *testing.T) {
	g := graph.NewCallGraph()
	a := addNode(g, "a")
	b := addNode(g, "b")
	c := addNode(g, "c")
	d := addNode(g, "d")
	g.EntryID = a.ID
	g.Edges = append(g.Edges,
		graph.CallEdge{CallerID: a.ID, CalleeID: b.ID, Resolution: graph.Resolved},
		graph.CallEdge{CallerID: b.ID, CalleeID: c.ID, Resolution: graph.Resolved},
		graph.CallEdge{CallerID: c.ID, CalleeID: b.ID, Resolution: graph.Resolved},
		graph.CallEdge{CallerID: d.ID, CalleeID: d.ID, Resolution: graph.Resolved},
	)

	Analyze(g, DefaultRules())

	assert.False(t, a.HasTag(graph.TagRecursive))
	assert.True(t, b.HasTag(graph.TagRecursive))
	assert.True(t, c.HasTag(graph.TagRecursive))
	assert.True(t, d.HasTag(graph.TagRecursive))
}

func TestCalleeMatchesWholeSegments(t *testing.T) {
	list := []string{"messages.create"}
	assert.True(t, calleeMatches("client.messages.create", list))
	assert.True(t, calleeMatches("messages.create", list))
	assert.False(t, calleeMatches("client.mymessages.create", list))

	assert.True(t, moduleMatches("@langchain/openai", []string{"@langchain"}))
	assert.True(t, moduleMatches("openai.types", []string{"openai"}))
	assert.False(t, moduleMatches("openaix", []string{"openai"}))
}

func TestAnalyzeEmptyRulesOnlyRecommendsEntry(t *testing.T) {
	g := graph.NewCallGraph()
	entry := addNode(g, "entry")
	other := addNode(g, "other")
	g.EntryID = entry.ID
	g.Edges = append(g.Edges,
		graph.CallEdge{CallerID: entry.ID, CalleeID: other.ID, Resolution: graph.Resolved},
		graph.CallEdge{CallerID: other.ID, CalleeID: "unknown:client.chat.completions.create", Resolution: graph.Unknown, Callee: "client.chat.completions.create"},
	)

	a := Analyze(g, Rules{})
	assert.Equal(t, []string{entry.ID}, a.Recommended)
}

func addNode(g *graph.CallGraph, name string) *graph.FunctionNode {
	n := &graph.FunctionNode{ID: "id-" + name, Name: name, QualifiedName: name, File: "f.js"}
	g.Nodes[n.ID] = n
	g.Order = append(g.Order, n.ID)
	return n
}

func byName(g *graph.CallGraph, name string) *graph.FunctionNode {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildGraph(t *testing.T, root, entry, fn string) *graph.CallGraph {
	t.Helper()
	b, err := boundary.New(root, "", nil)
	require.NoError(t, err)
	loader := parser.NewLoader(languages.NewDefaultRegistry(), b.Root(), nil)
	t.Cleanup(loader.Close)
	g, err := graph.NewBuilder(loader, b, graph.Options{}, nil).Build(context.Background(), filepath.Join(root, entry), fn)
	require.NoError(t, err)
	return g
}
