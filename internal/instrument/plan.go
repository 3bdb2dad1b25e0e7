// Package instrument plans the source rewrites that wrap selected functions
// with tracing calls. It never writes files.
package instrument

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/autotrace-dev/autotrace/internal/graph"
	"github.com/autotrace-dev/autotrace/internal/parser"
)

// Status is the lifecycle state of a PendingEdit
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusConflicted Status = "conflicted"
	StatusFailed     Status = "failed"
)

// PendingEdit is the full rewrite of one file. Baseline is the content the
// rewrite was computed from; the applier refuses to write if the file changed.
type PendingEdit struct {
	File           string          `json:"-"`
	RelPath        string          `json:"file"`
	Language       parser.Language `json:"language"`
	Baseline       []byte          `json:"-"`
	Transformed    []byte          `json:"-"`
	TouchedNodeIDs []string        `json:"touched_node_ids"`
	TouchedNames   []string        `json:"touched_functions"`
	ImportAdded    bool            `json:"import_added"`
	Status         Status          `json:"status"`
	Reason         string          `json:"reason,omitempty"`
}

// Diff renders the edit as a unified diff.
func (e *PendingEdit) Diff() string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(e.Baseline)),
		B:        difflib.SplitLines(string(e.Transformed)),
		FromFile: "a/" + e.RelPath,
		ToFile:   "b/" + e.RelPath,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

// WarningKind classifies planner warnings
type WarningKind string

// UnsafeWrapTarget marks a selected function that could not be wrapped safely.
const UnsafeWrapTarget WarningKind = "UnsafeWrapTarget"

// Warning reports a selected node the planner skipped.
type Warning struct {
	Kind          WarningKind `json:"kind"`
	NodeID        string      `json:"node_id"`
	QualifiedName string      `json:"function"`
	File          string      `json:"file"`
	Line          int         `json:"line"`
	Message       string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d %s: %s", w.File, w.Line, w.QualifiedName, w.Message)
}

// Plan is the planner output: at most one edit per file.
type Plan struct {
	Edits    map[string]*PendingEdit `json:"-"` // keyed by absolute path
	Warnings []Warning               `json:"warnings"`
	Skipped  []string                `json:"already_instrumented"` // selected ids that were already traced
}

// Files returns the edited files' absolute paths, sorted.
func (p *Plan) Files() []string {
	files := make([]string, 0, len(p.Edits))
	for f := range p.Edits {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// OrderedEdits returns the edits sorted by path.
func (p *Plan) OrderedEdits() []*PendingEdit {
	edits := make([]*PendingEdit, 0, len(p.Edits))
	for _, f := range p.Files() {
		edits = append(edits, p.Edits[f])
	}
	return edits
}

// Selection is the set of node ids chosen for instrumentation.
type Selection interface {
	Has(id string) bool
}

// StateLookup answers whether a function was recorded as instrumented by an
// earlier run while its file still had the given hash. Functions are matched
// by id or, since ids shift when a run inserts code above them, by qualified name.
type StateLookup interface {
	Instrumented(file, id, qualifiedName, hash string) bool
}

// Planner computes PendingEdits for a selection.
type Planner struct {
	targets Targets
	loader  *parser.Loader
	state   StateLookup
	logger  *slog.Logger
}

// NewPlanner creates a planner. state may be nil.
func NewPlanner(targets Targets, loader *parser.Loader, state StateLookup, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Planner{targets: targets, loader: loader, state: state, logger: logger}
}

// MarkInstrumented sets AlreadyInstrumented on every node of g.
func (p *Planner) MarkInstrumented(g *graph.CallGraph) {
	for _, n := range g.Nodes {
		unit, ok := p.loader.Cached(n.Path)
		if !ok {
			continue
		}
		n.AlreadyInstrumented = p.alreadyInstrumented(unit, n)
	}
}

// alreadyInstrumented detects tracing structurally: a leading start call, a
// marker decorator, or a state record for the unchanged file.
func (p *Planner) alreadyInstrumented(unit *parser.SourceUnit, n *graph.FunctionNode) bool {
	target := p.targets.For(unit.Language)
	if target.isStartCall(n.Decl.LeadingCall) {
		return true
	}
	for _, d := range n.Decl.Decorators {
		if target.isMarker(d) {
			return true
		}
	}
	return p.state != nil && p.state.Instrumented(n.File, n.ID, n.QualifiedName, unit.Hash)
}

// Plan computes one PendingEdit per file holding selected, not yet traced
// nodes. Unsafe targets become warnings; nothing is written.
func (p *Planner) Plan(ctx context.Context, g *graph.CallGraph, selected Selection) (*Plan, error) {
	plan := &Plan{
		Edits:    make(map[string]*PendingEdit),
		Warnings: make([]Warning, 0),
		Skipped:  make([]string, 0),
	}

	byFile := make(map[string][]*graph.FunctionNode)
	files := make([]string, 0)
	for _, n := range g.OrderedNodes() {
		if !selected.Has(n.ID) {
			continue
		}
		unit, ok := p.loader.Cached(n.Path)
		if !ok {
			continue
		}
		if p.alreadyInstrumented(unit, n) {
			n.AlreadyInstrumented = true
			plan.Skipped = append(plan.Skipped, n.ID)
			continue
		}
		if _, seen := byFile[n.Path]; !seen {
			files = append(files, n.Path)
		}
		byFile[n.Path] = append(byFile[n.Path], n)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unit, _ := p.loader.Cached(file)
		edit, warnings := p.planFile(unit, byFile[file])
		plan.Warnings = append(plan.Warnings, warnings...)
		if edit != nil {
			plan.Edits[file] = edit
		}
	}

	for _, w := range plan.Warnings {
		p.logger.Warn("skipping function", "function", w.QualifiedName, "file", w.File, "line", w.Line, "reason", w.Message)
	}
	p.logger.Debug("plan computed", "files", len(plan.Edits), "warnings", len(plan.Warnings), "already_instrumented", len(plan.Skipped))
	return plan, nil
}

// splice replaces baseline[start:end] with text.
type splice struct {
	start, end int
	text       []byte
}

func (p *Planner) planFile(unit *parser.SourceUnit, nodes []*graph.FunctionNode) (*PendingEdit, []Warning) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Decl.Start < nodes[j].Decl.Start
	})

	target := p.targets.For(unit.Language)
	src := newSourceText(unit)
	splices := make([]splice, 0, len(nodes)+1)
	warnings := make([]Warning, 0)
	touched := make([]*graph.FunctionNode, 0, len(nodes))

	lastEnd := -1
	for _, n := range nodes {
		if n.Decl.Start < lastEnd {
			warnings = append(warnings, unsafe(n, "overlaps another selected function"))
			continue
		}
		var s splice
		var err error
		if unit.Language == parser.LangPython {
			s, err = wrapPython(src, n.Decl, target)
		} else {
			s, err = wrapJS(src, n.Decl, target)
		}
		if err != nil {
			warnings = append(warnings, unsafe(n, err.Error()))
			continue
		}
		splices = append(splices, s)
		touched = append(touched, n)
		lastEnd = n.Decl.End
	}
	if len(touched) == 0 {
		return nil, warnings
	}

	importAdded := false
	if !unit.ImportsModule(target.Module) {
		splices = append(splices, importSplice(src, target))
		importAdded = true
	}

	transformed := applySplices(unit.Content, splices)
	if bytes.Equal(transformed, unit.Content) {
		return nil, warnings
	}

	edit := &PendingEdit{
		File:        unit.Path,
		RelPath:     unit.RelPath,
		Language:    unit.Language,
		Baseline:    unit.Content,
		Transformed: transformed,
		ImportAdded: importAdded,
		Status:      StatusPending,
	}
	for _, n := range touched {
		edit.TouchedNodeIDs = append(edit.TouchedNodeIDs, n.ID)
		edit.TouchedNames = append(edit.TouchedNames, n.QualifiedName)
	}
	return edit, warnings
}

// applySplices applies non-overlapping splices in ascending offset order,
// shifting each by the length change of the ones before it.
func applySplices(baseline []byte, splices []splice) []byte {
	sort.SliceStable(splices, func(i, j int) bool {
		return splices[i].start < splices[j].start
	})
	out := append([]byte(nil), baseline...)
	delta := 0
	for _, s := range splices {
		start, end := s.start+delta, s.end+delta
		next := make([]byte, 0, len(out)+len(s.text)-(end-start))
		next = append(next, out[:start]...)
		next = append(next, s.text...)
		next = append(next, out[end:]...)
		out = next
		delta += len(s.text) - (s.end - s.start)
	}
	return out
}

func unsafe(n *graph.FunctionNode, msg string) Warning {
	return Warning{
		Kind:          UnsafeWrapTarget,
		NodeID:        n.ID,
		QualifiedName: n.QualifiedName,
		File:          n.File,
		Line:          n.StartLine,
		Message:       msg,
	}
}
