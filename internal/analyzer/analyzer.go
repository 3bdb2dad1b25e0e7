// Package analyzer tags call graph nodes and recommends which ones to trace.
package analyzer

import (
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/autotrace-dev/autotrace/internal/graph"
)

// Rules are the allowlists behind the llm-call and io tags.
type Rules struct {
	Providers  []string `koanf:"providers"`   // AI SDK modules
	LLMMethods []string `koanf:"llm_methods"` // callee suffixes that invoke a model
	IOModules  []string `koanf:"io_modules"`  // file and network modules
	IOCalls    []string `koanf:"io_calls"`    // io builtins
}

// DefaultRules covers the common OpenAI, Anthropic, Google, LangChain and
// Vercel AI SDKs plus standard file and network modules.
func DefaultRules() Rules {
	return Rules{
		Providers: []string{
			"openai", "@anthropic-ai/sdk", "anthropic", "@google/generative-ai", "@google/genai",
			"google.generativeai", "google.genai", "vertexai", "cohere", "cohere-ai", "groq", "groq-sdk",
			"mistralai", "@mistralai/mistralai", "ollama", "litellm", "replicate", "together", "together-ai",
			"langchain", "langchain_core", "langchain_openai", "langchain_anthropic", "@langchain",
			"ai", "@ai-sdk", "llama_index", "llamaindex", "boto3.bedrock",
		},
		LLMMethods: []string{
			"chat.completions.create", "completions.create", "responses.create", "messages.create",
			"messages.stream", "embeddings.create", "generateContent", "generate_content",
			"generateContentStream", "generate_content_async", "generateText", "streamText",
			"generateObject", "streamObject", "ChatCompletion.create", "chat.complete", "chat.stream",
			"ainvoke", "invoke_model", "converse",
		},
		IOModules: []string{
			"fs", "fs/promises", "node:fs", "node:fs/promises", "http", "https", "node:http", "node:https",
			"net", "axios", "node-fetch", "undici", "got", "requests", "httpx", "aiohttp", "urllib",
			"urllib.request", "socket", "shutil", "pathlib", "sqlite3", "psycopg2", "pg", "mysql2",
			"mongodb", "pymongo", "redis", "ioredis", "boto3", "@aws-sdk",
		},
		IOCalls: []string{
			"fetch", "open", "readFile", "writeFile", "readFileSync", "writeFileSync", "appendFile",
			"readdir", "createReadStream", "createWriteStream", "urlopen",
		},
	}
}

// Analysis is the analyzer's view of a graph: tag counts and the recommended selection.
type Analysis struct {
	Graph       *graph.CallGraph `json:"-"`
	Recommended []string         `json:"recommended"` // node ids in discovery order
	TagCounts   map[string]int   `json:"tag_counts"`
}

// IsRecommended reports whether id is part of the recommendation.
func (a *Analysis) IsRecommended(id string) bool {
	for _, r := range a.Recommended {
		if r == id {
			return true
		}
	}
	return false
}

// Analyze tags every node and sets Selected to the recommendation:
// the entry, every llm-call node and the direct callers of llm-call nodes.
// It performs no I/O.
func Analyze(g *graph.CallGraph, rules Rules) *Analysis {
	m := newMatcher(rules)

	if entry := g.Entry(); entry != nil {
		entry.AddTag(graph.TagEntry)
	}
	for _, e := range g.Edges {
		caller := g.Node(e.CallerID)
		if caller == nil || e.Resolution == graph.Resolved {
			continue
		}
		if m.isLLMCall(e) {
			caller.AddTag(graph.TagLLMCall)
		}
		if m.isIO(e) {
			caller.AddTag(graph.TagIO)
		}
	}
	for _, id := range recursiveNodes(g) {
		g.Node(id).AddTag(graph.TagRecursive)
	}

	recommended := make(map[string]bool)
	for _, n := range g.OrderedNodes() {
		if n.HasTag(graph.TagEntry) || n.HasTag(graph.TagLLMCall) {
			recommended[n.ID] = true
		}
		if n.HasTag(graph.TagLLMCall) {
			for _, caller := range g.Callers(n.ID) {
				recommended[caller] = true
			}
		}
	}

	a := &Analysis{
		Graph:       g,
		Recommended: make([]string, 0, len(recommended)),
		TagCounts:   make(map[string]int),
	}
	for _, n := range g.OrderedNodes() {
		n.Selected = recommended[n.ID]
		if n.Selected {
			a.Recommended = append(a.Recommended, n.ID)
		}
		for _, tag := range n.Tags {
			a.TagCounts[tag]++
		}
	}
	return a
}

// recursiveNodes returns nodes on a call cycle, including direct self-calls.
func recursiveNodes(g *graph.CallGraph) []string {
	dg := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(g.Order))
	for i, id := range g.Order {
		ids[id] = int64(i)
		dg.AddNode(simple.Node(int64(i)))
	}

	self := make(map[string]bool)
	for _, e := range g.Edges {
		if e.Resolution != graph.Resolved {
			continue
		}
		if e.CallerID == e.CalleeID {
			// simple graphs reject self loops
			self[e.CallerID] = true
			continue
		}
		from, to := ids[e.CallerID], ids[e.CalleeID]
		if !dg.HasEdgeFromTo(from, to) {
			dg.SetEdge(dg.NewEdge(dg.Node(from), dg.Node(to)))
		}
	}

	onCycle := make(map[int64]bool)
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		for _, n := range scc {
			onCycle[n.ID()] = true
		}
	}

	out := make([]string, 0)
	for i, id := range g.Order {
		if onCycle[int64(i)] || self[id] {
			out = append(out, id)
		}
	}
	return out
}

type matcher struct {
	rules Rules
}

func newMatcher(rules Rules) *matcher {
	return &matcher{rules: rules}
}

func (m *matcher) isLLMCall(e graph.CallEdge) bool {
	if e.Resolution == graph.External && moduleMatches(e.Module, m.rules.Providers) {
		return true
	}
	return calleeMatches(e.Callee, m.rules.LLMMethods)
}

func (m *matcher) isIO(e graph.CallEdge) bool {
	if e.Resolution == graph.External && moduleMatches(e.Module, m.rules.IOModules) {
		return true
	}
	name := e.Callee
	if idx := strings.LastIndex(name, "."); idx != -1 {
		name = name[idx+1:]
	}
	for _, call := range m.rules.IOCalls {
		if name == call {
			return true
		}
	}
	return false
}

// moduleMatches matches a module specifier against a list, accepting
// submodules: "@langchain" matches "@langchain/openai", "openai" matches "openai.types".
func moduleMatches(module string, list []string) bool {
	if module == "" || module == "builtin" {
		return false
	}
	for _, candidate := range list {
		if module == candidate ||
			strings.HasPrefix(module, candidate+"/") ||
			strings.HasPrefix(module, candidate+".") {
			return true
		}
	}
	return false
}

// calleeMatches compares whole dotted segments: "client.messages.create" matches
// "messages.create" but "mymessages.create" does not.
func calleeMatches(callee string, list []string) bool {
	for _, candidate := range list {
		if callee == candidate || strings.HasSuffix(callee, "."+candidate) {
			return true
		}
	}
	return false
}
