package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/autotrace-dev/autotrace/internal/analyzer"
	"github.com/autotrace-dev/autotrace/internal/fileutil"
	"github.com/autotrace-dev/autotrace/internal/graph"
)

type graphOutput struct {
	Graph    *graph.CallGraph      `json:"graph"`
	Nodes    []*graph.FunctionNode `json:"nodes"`
	Analysis *analyzer.Analysis    `json:"analysis"`
}

type graphRecord struct {
	Type        string              `json:"type"` // node|edge|issue
	Node        *graph.FunctionNode `json:"node,omitempty"`
	Edge        *graph.CallEdge     `json:"edge,omitempty"`
	Issue       *graph.Issue        `json:"issue,omitempty"`
	Recommended bool                `json:"recommended,omitempty"`
}

func RunGraph(cmd *cobra.Command, args []string) error {
	start := time.Now()
	cfg, s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}
	asJSONL, err := OptionalBoolFlag(cmd, "jsonl")
	if err != nil {
		return err
	}
	if asJSON && asJSONL {
		return fmt.Errorf("--json and --jsonl are mutually exclusive")
	}

	g, analysis, err := s.Analyze(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case asJSON:
		return fileutil.PrintJSON(out, graphOutput{Graph: g, Nodes: g.OrderedNodes(), Analysis: analysis})
	case asJSONL:
		return writeGraphJSONL(out, g, analysis)
	}

	printGraphTree(out, g, analysis)
	counts := g.ResolutionCounts()
	fmt.Fprintf(out, "\ngraph: root=%s nodes=%d edges=%d (resolved=%d external=%d unknown=%d) recommended=%d duration=%dms\n",
		cfg.Root, len(g.Nodes), len(g.Edges),
		counts[graph.Resolved], counts[graph.External], counts[graph.Unknown],
		len(analysis.Recommended), time.Since(start).Milliseconds())
	for _, issue := range g.Issues {
		fmt.Fprintf(out, "  issue %s:%d %s\n", issue.File, issue.Line, issue.Message)
	}
	return nil
}

func writeGraphJSONL(w io.Writer, g *graph.CallGraph, analysis *analyzer.Analysis) error {
	records := make([]graphRecord, 0, len(g.Nodes)+len(g.Edges)+len(g.Issues))
	for _, n := range g.OrderedNodes() {
		records = append(records, graphRecord{Type: "node", Node: n, Recommended: analysis.IsRecommended(n.ID)})
	}
	for i := range g.Edges {
		records = append(records, graphRecord{Type: "edge", Edge: &g.Edges[i]})
	}
	for i := range g.Issues {
		records = append(records, graphRecord{Type: "issue", Issue: &g.Issues[i]})
	}
	data, err := fileutil.EncodeJSONL(records)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// printGraphTree prints the discovery tree: each node under the caller that
// first reached it. * marks recommended nodes.
func printGraphTree(w io.Writer, g *graph.CallGraph, analysis *analyzer.Analysis) {
	entry := g.Entry()
	if entry == nil {
		return
	}
	var walk func(n *graph.FunctionNode, prefix string)
	walk = func(n *graph.FunctionNode, prefix string) {
		fmt.Fprintf(w, "%s%s\n", prefix, describeNode(n, analysis))
		for _, child := range g.Children(n.ID) {
			walk(child, prefix+"  ")
		}
		for _, e := range g.EdgesFrom(n.ID) {
			if e.Resolution == graph.Resolved {
				continue
			}
			label := e.Callee
			if e.Module != "" {
				label = e.Module + "." + e.Callee
			}
			fmt.Fprintf(w, "%s  - %s [%s] line %d\n", prefix, label, e.Resolution, e.Line)
		}
	}
	walk(entry, "")
}

func describeNode(n *graph.FunctionNode, analysis *analyzer.Analysis) string {
	mark := " "
	if analysis.IsRecommended(n.ID) {
		mark = "*"
	}
	line := fmt.Sprintf("%s %s (%s:%d)", mark, n.QualifiedName, n.File, n.StartLine)
	if len(n.Tags) > 0 {
		line += " [" + strings.Join(n.Tags, ", ") + "]"
	}
	if n.AlreadyInstrumented {
		line += " (traced)"
	}
	return line
}
