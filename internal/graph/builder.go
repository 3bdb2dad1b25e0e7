package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/autotrace-dev/autotrace/internal/boundary"
	"github.com/autotrace-dev/autotrace/internal/parser"
)

// maxReexportHops bounds how far a symbol is chased through re-exporting modules.
const maxReexportHops = 4

// Options bound the traversal.
type Options struct {
	MaxDepth    int // nodes at this depth are created but not expanded
	MaxFiles    int // distinct files whose functions may be expanded
	Concurrency int // parallel parses per BFS level
}

// Builder discovers the call graph reachable from an entry function.
type Builder struct {
	loader   *parser.Loader
	boundary *boundary.Boundary
	opts     Options
	logger   *slog.Logger
}

// NewBuilder creates a builder. Zero options fall back to small defaults.
func NewBuilder(loader *parser.Loader, b *boundary.Boundary, opts Options, logger *slog.Logger) *Builder {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 200
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{loader: loader, boundary: b, opts: opts, logger: logger}
}

// build holds the state of a single Build call.
type build struct {
	*Builder
	graph    *CallGraph
	expanded map[string]bool // files whose functions were expanded
	reported map[string]bool // files already recorded as issues
}

// target is the outcome of resolving one call site.
type target struct {
	resolution Resolution
	unit       *parser.SourceUnit
	decl       *parser.FunctionDecl
	module     string
	name       string
	reason     string
}

// Build loads entryFile, locates entryFunction and walks its calls breadth first.
// Only a missing or unparseable entry is fatal; every other problem becomes an
// unknown edge or an Issue.
func (b *Builder) Build(ctx context.Context, entryFile, entryFunction string) (*CallGraph, error) {
	unit, err := b.loader.Load(ctx, entryFile)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &BuildError{Kind: EntryUnreadable, File: entryFile, Function: entryFunction, Err: err}
	}
	decl := unit.Function(entryFunction)
	if decl == nil {
		return nil, &BuildError{Kind: EntryNotFound, File: unit.RelPath, Function: entryFunction, Err: ErrEntryNotFound}
	}

	st := &build{
		Builder:  b,
		graph:    NewCallGraph(),
		expanded: map[string]bool{unit.Path: true},
		reported: make(map[string]bool),
	}
	entry := newNode(unit, decl, 0, "")
	st.graph.EntryID = entry.ID
	st.graph.addNode(entry)

	frontier := []*FunctionNode{entry}
	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := st.preload(ctx, frontier); err != nil {
			return nil, err
		}
		frontier = st.expandLevel(ctx, frontier, depth)
	}

	b.logger.Debug("call graph built",
		"entry", entry.QualifiedName,
		"nodes", len(st.graph.Nodes),
		"edges", len(st.graph.Edges),
		"files", len(st.expanded),
	)
	return st.graph, nil
}

func newNode(unit *parser.SourceUnit, decl *parser.FunctionDecl, depth int, parentID string) *FunctionNode {
	return &FunctionNode{
		ID:            parser.StableFunctionID(unit.RelPath, decl),
		Name:          decl.Name,
		QualifiedName: decl.QualifiedName,
		File:          unit.RelPath,
		Path:          unit.Path,
		Language:      unit.Language,
		StartOffset:   decl.Start,
		EndOffset:     decl.End,
		StartLine:     decl.StartLine,
		EndLine:       decl.EndLine,
		IsAsync:       decl.IsAsync,
		IsExported:    decl.IsExported,
		Depth:         depth,
		ParentID:      parentID,
		Tags:          make([]string, 0),
		Decl:          decl,
	}
}

// preload parses every project file the frontier imports, in parallel. Edge
// resolution for the level starts only after all of them are cached.
func (st *build) preload(ctx context.Context, frontier []*FunctionNode) error {
	paths := make([]string, 0)
	seen := make(map[string]bool)
	for _, node := range frontier {
		unit, ok := st.loader.Cached(node.Path)
		if !ok {
			continue
		}
		for _, call := range node.Decl.Calls {
			for _, path := range st.importCandidates(unit, call) {
				if !seen[path] {
					seen[path] = true
					paths = append(paths, path)
				}
			}
		}
	}
	if len(paths) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.opts.Concurrency)
	for _, path := range paths {
		g.Go(func() error {
			// parse failures are cached and surface during resolution
			_, _ = st.loader.Load(gctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (st *build) importCandidates(unit *parser.SourceUnit, call parser.CallSite) []string {
	binding, ok := st.bindingFor(unit, call)
	if !ok {
		return nil
	}
	out := make([]string, 0, 2)
	if loc := st.locateModule(unit, binding.Module); loc.kind == moduleInternal {
		out = append(out, loc.path)
	}
	if unit.Language == parser.LangPython && binding.Kind == parser.BindingNamed {
		if loc := st.locateModule(unit, joinPythonModule(binding.Module, binding.Imported)); loc.kind == moduleInternal {
			out = append(out, loc.path)
		}
	}
	return out
}

func (st *build) bindingFor(unit *parser.SourceUnit, call parser.CallSite) (parser.ImportBinding, bool) {
	switch call.Shape {
	case parser.CallIdentifier:
		b, ok := unit.Imports[call.Name]
		return b, ok
	case parser.CallMember:
		if b, ok := unit.Imports[call.Qualifier]; ok {
			return b, true
		}
		b, ok := unit.Imports[call.Root]
		return b, ok
	}
	return parser.ImportBinding{}, false
}

func (st *build) expandLevel(ctx context.Context, frontier []*FunctionNode, depth int) []*FunctionNode {
	next := make([]*FunctionNode, 0)
	for _, node := range frontier {
		unit, ok := st.loader.Cached(node.Path)
		if !ok {
			continue
		}
		for _, call := range node.Decl.Calls {
			t := st.resolve(ctx, unit, node.Decl, call)
			edge := CallEdge{
				CallerID:       node.ID,
				CallSiteOffset: call.Offset,
				Line:           call.Line,
				Resolution:     t.resolution,
				Callee:         call.Raw,
				Module:         t.module,
				Reason:         t.reason,
			}

			switch t.resolution {
			case Resolved:
				calleeID := parser.StableFunctionID(t.unit.RelPath, t.decl)
				edge.CalleeID = calleeID
				if _, visited := st.graph.Nodes[calleeID]; !visited {
					callee := newNode(t.unit, t.decl, depth+1, node.ID)
					st.graph.addNode(callee)
					if st.admit(callee) {
						next = append(next, callee)
					}
				}
			case External:
				edge.CalleeID = fmt.Sprintf("external:%s#%s", t.module, t.name)
			default:
				edge.CalleeID = "unknown:" + call.Raw
			}
			st.graph.Edges = append(st.graph.Edges, edge)
		}
	}
	return next
}

// admit decides whether a new node is expanded. Nodes beyond the depth or file
// boundary are kept but tagged and left unexpanded.
func (st *build) admit(n *FunctionNode) bool {
	truncated := n.Depth >= st.opts.MaxDepth ||
		(!st.expanded[n.Path] && len(st.expanded) >= st.opts.MaxFiles)
	if truncated {
		n.AddTag(TagBoundaryTruncated)
		st.logger.Debug("traversal boundary reached", "function", n.QualifiedName, "file", n.File, "depth", n.Depth)
		return false
	}
	st.expanded[n.Path] = true
	return true
}

func (st *build) resolve(ctx context.Context, unit *parser.SourceUnit, caller *parser.FunctionDecl, call parser.CallSite) target {
	switch call.Shape {
	case parser.CallReceiver:
		if caller.Class == "" {
			return unknownTarget("receiver outside a class")
		}
		if m := unit.Method(caller.Class, call.Name); m != nil {
			return resolvedTarget(unit, m)
		}
		return unknownTarget("method not declared on " + caller.Class)

	case parser.CallIdentifier:
		if fn := unit.ModuleFunction(call.Name); fn != nil {
			return resolvedTarget(unit, fn)
		}
		if binding, ok := unit.Imports[call.Name]; ok {
			return st.resolveImport(ctx, unit, binding, "", 0)
		}
		if unit.Classes[call.Name] {
			return constructorTarget(unit, call.Name)
		}
		if isBuiltin(unit.Language, call.Name) {
			return externalTarget("builtin", call.Name)
		}
		return unknownTarget("not a declared or imported function")

	case parser.CallMember:
		if binding, ok := st.bindingFor(unit, call); ok {
			if binding.Local != call.Qualifier {
				if st.locateModule(unit, binding.Module).kind == moduleExternal {
					rest := strings.TrimPrefix(call.Qualifier[len(binding.Local):], ".")
					return externalTarget(binding.Module, rest+"."+call.Name)
				}
				return unknownTarget("nested member of " + binding.Local)
			}
			return st.resolveImport(ctx, unit, binding, call.Name, 0)
		}
		if call.Qualifier == call.Root && unit.Classes[call.Root] {
			if m := unit.Method(call.Root, call.Name); m != nil {
				return resolvedTarget(unit, m)
			}
			return unknownTarget("method not declared on " + call.Root)
		}
		if isBuiltin(unit.Language, call.Root) {
			return externalTarget("builtin", call.Raw)
		}
		return unknownTarget("member of a local value")

	case parser.CallComputed:
		return unknownTarget("computed member access")
	}
	return unknownTarget("dynamic callee")
}

// resolveImport resolves a call through an import binding. member is the
// accessed name for namespace-style calls (ns.fn()), empty for direct calls.
func (st *build) resolveImport(ctx context.Context, unit *parser.SourceUnit, binding parser.ImportBinding, member string, hops int) target {
	loc := st.locateModule(unit, binding.Module)
	symbol := binding.Imported
	if member != "" {
		symbol = member
	}

	switch loc.kind {
	case moduleExternal:
		if symbol == "" {
			symbol = "default"
		}
		return externalTarget(binding.Module, symbol)
	case moduleMissing:
		if unit.Language == parser.LangPython && binding.Kind == parser.BindingNamed && member != "" {
			return st.resolveSubmodule(ctx, unit, binding, member, hops)
		}
		return unknownTarget("module " + binding.Module + " not found")
	}

	target, ok := st.loadTarget(ctx, loc.path, unit.RelPath, binding.Line)
	if !ok {
		return unknownTarget("module " + binding.Module + " could not be parsed")
	}

	switch {
	case member == "" && binding.Kind != parser.BindingNamed:
		if unit.Language == parser.LangPython {
			return unknownTarget("module called as a function")
		}
		symbol = "default"
	case member != "" && binding.Kind == parser.BindingNamed:
		// Class.staticMethod() or, in Python, submodule.fn()
		if target.Classes[binding.Imported] {
			if m := target.Method(binding.Imported, member); m != nil {
				return resolvedTarget(target, m)
			}
			return unknownTarget("method not declared on " + binding.Imported)
		}
		if unit.Language == parser.LangPython {
			return st.resolveSubmodule(ctx, unit, binding, member, hops)
		}
		return unknownTarget("member of imported value " + binding.Local)
	}

	return st.lookupExport(ctx, target, symbol, hops)
}

func (st *build) resolveSubmodule(ctx context.Context, unit *parser.SourceUnit, binding parser.ImportBinding, member string, hops int) target {
	sub := parser.ImportBinding{
		Local:  binding.Local,
		Module: joinPythonModule(binding.Module, binding.Imported),
		Kind:   parser.BindingNamespace,
		Line:   binding.Line,
	}
	if st.locateModule(unit, sub.Module).kind != moduleInternal {
		return unknownTarget("member of imported value " + binding.Local)
	}
	return st.resolveImport(ctx, unit, sub, member, hops)
}

// lookupExport finds the function a module exposes as symbol, following
// re-exports through the module's own imports.
func (st *build) lookupExport(ctx context.Context, unit *parser.SourceUnit, symbol string, hops int) target {
	name := symbol
	if local, ok := unit.Exports[symbol]; ok {
		name = local
	}
	if symbol == "default" {
		if fn := unit.DefaultExport(); fn != nil {
			return resolvedTarget(unit, fn)
		}
	}
	if fn := unit.ModuleFunction(name); fn != nil {
		return resolvedTarget(unit, fn)
	}
	if unit.Classes[name] {
		return constructorTarget(unit, name)
	}
	if binding, ok := unit.Imports[name]; ok && hops < maxReexportHops {
		return st.resolveImport(ctx, unit, binding, "", hops+1)
	}
	return unknownTarget(fmt.Sprintf("%s does not export %s", unit.RelPath, symbol))
}

func (st *build) loadTarget(ctx context.Context, path, fromFile string, line int) (*parser.SourceUnit, bool) {
	unit, err := st.loader.Load(ctx, path)
	if err == nil {
		return unit, true
	}
	if !st.reported[path] {
		st.reported[path] = true
		issue := Issue{File: fromFile, Line: line, Message: err.Error()}
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			issue = Issue{File: parseErr.Path, Line: parseErr.Line, Message: parseErr.Message}
		}
		st.graph.Issues = append(st.graph.Issues, issue)
		st.logger.Warn("import target skipped", "file", issue.File, "error", err)
	}
	return nil, false
}

// constructorTarget maps a class call to its initializer. Only Python classes
// are called without new, so this is where __init__ comes from.
func constructorTarget(unit *parser.SourceUnit, class string) target {
	if unit.Language != parser.LangPython {
		return unknownTarget("class " + class + " called without new")
	}
	if m := unit.Method(class, "__init__"); m != nil {
		return resolvedTarget(unit, m)
	}
	return unknownTarget("class " + class + " has no __init__")
}

func resolvedTarget(unit *parser.SourceUnit, decl *parser.FunctionDecl) target {
	return target{resolution: Resolved, unit: unit, decl: decl}
}

func externalTarget(module, name string) target {
	return target{resolution: External, module: module, name: name}
}

func unknownTarget(reason string) target {
	return target{resolution: Unknown, reason: reason}
}
