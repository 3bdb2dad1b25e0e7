package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

// Resolution classifies how a call site was resolved
type Resolution string

const (
	// Resolved edges point at a node in the graph.
	Resolved Resolution = "resolved"
	// External edges leave the project boundary (packages, builtins).
	External Resolution = "external"
	// Unknown edges could not be resolved statically.
	Unknown Resolution = "unknown"
)

// Node tags shared by the builder and the analyzer.
const (
	TagEntry             = "entry"
	TagLLMCall           = "llm-call"
	TagIO                = "io"
	TagBoundaryTruncated = "boundary-truncated"
	TagRecursive         = "recursive"
)

// FunctionNode represents a function discovered during traversal
type FunctionNode struct {
	ID            string          `json:"id"` // stable function ID (file|qualified name|start offset)
	Name          string          `json:"name"`
	QualifiedName string          `json:"qualified_name"`
	File          string          `json:"file"` // relative to the project root
	Path          string          `json:"-"`
	Language      parser.Language `json:"language"`
	StartOffset   int             `json:"start_offset"`
	EndOffset     int             `json:"end_offset"`
	StartLine     int             `json:"start_line"`
	EndLine       int             `json:"end_line"`
	IsAsync       bool            `json:"is_async,omitempty"`
	IsExported    bool            `json:"is_exported,omitempty"`
	Depth         int             `json:"depth"`
	ParentID      string          `json:"parent_id,omitempty"` // caller that discovered this node

	AlreadyInstrumented bool     `json:"already_instrumented,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Selected            bool     `json:"selected"`

	Decl *parser.FunctionDecl `json:"-"`
}

// HasTag reports whether the node carries tag.
func (n *FunctionNode) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds tag once, keeping tags sorted.
func (n *FunctionNode) AddTag(tag string) {
	if n.HasTag(tag) {
		return
	}
	n.Tags = append(n.Tags, tag)
	sort.Strings(n.Tags)
}

// CallEdge is one call site. CalleeID is only a graph node when Resolution is Resolved;
// otherwise it is a synthetic id (external:<module>#<name> or unknown:<callee>).
type CallEdge struct {
	CallerID       string     `json:"caller_id"`
	CalleeID       string     `json:"callee_id"`
	CallSiteOffset int        `json:"call_site_offset"`
	Line           int        `json:"line"`
	Resolution     Resolution `json:"resolution"`
	Callee         string     `json:"callee"`
	Module         string     `json:"module,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Issue is a non-fatal problem met during traversal, such as an unparseable import target.
type Issue struct {
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// CallGraph is the call relation reachable from one entry function. It may contain cycles.
type CallGraph struct {
	EntryID string                   `json:"entry_id"`
	Nodes   map[string]*FunctionNode `json:"-"`
	Order   []string                 `json:"order"` // discovery order
	Edges   []CallEdge               `json:"edges"` // discovery order
	Issues  []Issue                  `json:"issues,omitempty"`
}

// NewCallGraph creates an empty graph
func NewCallGraph() *CallGraph {
	return &CallGraph{
		Nodes: make(map[string]*FunctionNode),
		Order: make([]string, 0),
		Edges: make([]CallEdge, 0),
	}
}

func (g *CallGraph) addNode(n *FunctionNode) {
	g.Nodes[n.ID] = n
	g.Order = append(g.Order, n.ID)
}

// Node returns the node with id, or nil.
func (g *CallGraph) Node(id string) *FunctionNode {
	return g.Nodes[id]
}

// Entry returns the root node.
func (g *CallGraph) Entry() *FunctionNode {
	return g.Nodes[g.EntryID]
}

// OrderedNodes returns nodes in discovery order.
func (g *CallGraph) OrderedNodes() []*FunctionNode {
	nodes := make([]*FunctionNode, 0, len(g.Order))
	for _, id := range g.Order {
		nodes = append(nodes, g.Nodes[id])
	}
	return nodes
}

// EdgesFrom returns the edges whose caller is id, in discovery order.
func (g *CallGraph) EdgesFrom(id string) []CallEdge {
	out := make([]CallEdge, 0)
	for _, e := range g.Edges {
		if e.CallerID == id {
			out = append(out, e)
		}
	}
	return out
}

// Callers returns distinct nodes with a resolved edge into id, in discovery order.
func (g *CallGraph) Callers(id string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, e := range g.Edges {
		if e.Resolution == Resolved && e.CalleeID == id && !seen[e.CallerID] {
			seen[e.CallerID] = true
			out = append(out, e.CallerID)
		}
	}
	return out
}

// Callees returns distinct resolved callees of id, in discovery order.
func (g *CallGraph) Callees(id string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, e := range g.Edges {
		if e.Resolution == Resolved && e.CallerID == id && !seen[e.CalleeID] {
			seen[e.CalleeID] = true
			out = append(out, e.CalleeID)
		}
	}
	return out
}

// Children returns nodes first discovered from id, in discovery order.
func (g *CallGraph) Children(id string) []*FunctionNode {
	out := make([]*FunctionNode, 0)
	for _, nid := range g.Order {
		if n := g.Nodes[nid]; n.ParentID == id && nid != g.EntryID {
			out = append(out, n)
		}
	}
	return out
}

// NodesForFile returns the nodes declared in file (relative path), sorted by offset.
func (g *CallGraph) NodesForFile(file string) []*FunctionNode {
	nodes := make([]*FunctionNode, 0)
	for _, id := range g.Order {
		if n := g.Nodes[id]; n.File == file {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].StartOffset < nodes[j].StartOffset
	})
	return nodes
}

// Files returns all unique files holding nodes
func (g *CallGraph) Files() []string {
	seen := make(map[string]bool)
	files := make([]string, 0)
	for _, n := range g.Nodes {
		if !seen[n.File] {
			seen[n.File] = true
			files = append(files, n.File)
		}
	}
	sort.Strings(files)
	return files
}

// ResolutionCounts tallies edges per resolution kind.
func (g *CallGraph) ResolutionCounts() map[Resolution]int {
	counts := map[Resolution]int{Resolved: 0, External: 0, Unknown: 0}
	for _, e := range g.Edges {
		counts[e.Resolution]++
	}
	return counts
}

// ErrEntryNotFound is wrapped by BuildError when the entry function does not exist.
var ErrEntryNotFound = errors.New("entry function not found")

// BuildErrorKind distinguishes fatal build failures
type BuildErrorKind int

const (
	EntryNotFound BuildErrorKind = iota
	EntryUnreadable
)

func (k BuildErrorKind) String() string {
	switch k {
	case EntryNotFound:
		return "EntryNotFound"
	case EntryUnreadable:
		return "EntryUnreadable"
	default:
		return "unknown"
	}
}

// BuildError is the only fatal outcome of a build. Nothing downstream runs after it.
type BuildError struct {
	Kind     BuildErrorKind
	File     string
	Function string
	Err      error
}

func (e *BuildError) Error() string {
	switch e.Kind {
	case EntryNotFound:
		return fmt.Sprintf("%s: function %q not found in %s", e.Kind, e.Function, e.File)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.File, e.Err)
	}
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
