// Package session runs the instrumentation pipeline for one invocation:
// build, analyze, select, plan, apply, record.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/autotrace-dev/autotrace/internal/analyzer"
	"github.com/autotrace-dev/autotrace/internal/apply"
	"github.com/autotrace-dev/autotrace/internal/boundary"
	"github.com/autotrace-dev/autotrace/internal/config"
	"github.com/autotrace-dev/autotrace/internal/graph"
	"github.com/autotrace-dev/autotrace/internal/instrument"
	"github.com/autotrace-dev/autotrace/internal/languages"
	"github.com/autotrace-dev/autotrace/internal/parser"
	"github.com/autotrace-dev/autotrace/internal/selection"
	"github.com/autotrace-dev/autotrace/internal/state"
)

// Session owns everything one run shares: the loader cache, the boundary and
// the persisted state. Nothing is global, so sessions can run side by side.
type Session struct {
	ID     string
	cfg    *config.Config
	logger *slog.Logger

	boundary *boundary.Boundary
	loader   *parser.Loader
	state    *state.State
}

// Options selects the entry point and the collaborators of a run.
type Options struct {
	EntryFile     string // absolute, or relative to the project root
	EntryFunction string
	Resolver      selection.Resolver // defaults to selection.NonInteractive
	Confirmer     apply.Confirmer    // nil writes without asking
	DryRun        bool
}

// Result is everything a run produced.
type Result struct {
	SessionID string                    `json:"session_id"`
	Graph     *graph.CallGraph          `json:"graph"`
	Analysis  *analyzer.Analysis        `json:"analysis"`
	Selected  []string                  `json:"selected"`
	Plan      *instrument.Plan          `json:"plan"`
	Edits     []*instrument.PendingEdit `json:"edits"`
	Report    *apply.Report             `json:"report,omitempty"`
	DryRun    bool                      `json:"dry_run"`
}

// New opens a session rooted at cfg.Root.
func New(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	logger = logger.With("session", id)

	b, err := boundary.New(cfg.Root, cfg.StateDir, cfg.Ignore)
	if err != nil {
		return nil, fmt.Errorf("project boundary: %w", err)
	}

	st, err := state.Load(cfg.StatePath())
	if err != nil {
		var corrupt *state.ErrCorrupt
		if !errors.As(err, &corrupt) {
			return nil, fmt.Errorf("load state: %w", err)
		}
		logger.Warn("ignoring corrupt state file", "path", corrupt.Path, "err", corrupt.Err)
	}

	return &Session{
		ID:       id,
		cfg:      cfg,
		logger:   logger,
		boundary: b,
		loader:   parser.NewLoader(languages.NewDefaultRegistry(), b.Root(), logger),
		state:    st,
	}, nil
}

// Close releases the parsed syntax trees.
func (s *Session) Close() {
	s.loader.Close()
}

// State returns the persisted instrumentation state.
func (s *Session) State() *state.State {
	return s.state
}

// Analyze builds and analyzes the call graph rooted at the entry function and
// marks the nodes that are already traced.
func (s *Session) Analyze(ctx context.Context, entryFile, entryFunction string) (*graph.CallGraph, *analyzer.Analysis, error) {
	entry := entryFile
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(s.boundary.Root(), entry)
	}

	s.logger.Info("building call graph", "entry", entryFunction, "file", entryFile)
	builder := graph.NewBuilder(s.loader, s.boundary, graph.Options{
		MaxDepth:    s.cfg.MaxDepth,
		MaxFiles:    s.cfg.MaxFiles,
		Concurrency: s.cfg.Concurrency,
	}, s.logger)
	g, err := builder.Build(ctx, entry, entryFunction)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	analysis := analyzer.Analyze(g, s.cfg.Analyzer)
	s.planner().MarkInstrumented(g)
	s.logger.Info("call graph analyzed", "nodes", len(g.Nodes), "edges", len(g.Edges),
		"recommended", len(analysis.Recommended), "issues", len(g.Issues))
	return g, analysis, nil
}

func (s *Session) planner() *instrument.Planner {
	return instrument.NewPlanner(s.cfg.Tracing, s.loader, s.state, s.logger)
}

// Run executes the whole pipeline. The context is checked between stages; a
// cancelled run leaves every file that was not yet written untouched.
func (s *Session) Run(ctx context.Context, opts Options) (*Result, error) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = selection.NonInteractive{}
	}

	g, analysis, err := s.Analyze(ctx, opts.EntryFile, opts.EntryFunction)
	if err != nil {
		return nil, err
	}

	chosen, err := resolver.Resolve(ctx, analysis)
	if err != nil {
		return nil, err
	}
	chosen = selection.Restrict(g, chosen)
	selection.Mark(g, chosen)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := s.planner().Plan(ctx, g, chosen)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		SessionID: s.ID,
		Graph:     g,
		Analysis:  analysis,
		Selected:  chosen.IDs(),
		Plan:      plan,
		Edits:     plan.OrderedEdits(),
		DryRun:    opts.DryRun,
	}
	s.logger.Info("plan ready", "selected", len(result.Selected), "files", len(result.Edits),
		"warnings", len(plan.Warnings), "already_instrumented", len(plan.Skipped))
	if opts.DryRun || len(result.Edits) == 0 {
		return result, nil
	}

	result.Report = s.apply(ctx, opts.Confirmer, result.Edits)
	return result, nil
}

// Retry re-applies the edits of result that are not applied yet, for instance
// after the user resolved a conflict by reverting the file.
func (s *Session) Retry(ctx context.Context, result *Result, confirmer apply.Confirmer) *apply.Report {
	result.Report = s.apply(ctx, confirmer, result.Edits)
	return result.Report
}

func (s *Session) apply(ctx context.Context, confirmer apply.Confirmer, edits []*instrument.PendingEdit) *apply.Report {
	report := apply.NewApplier(confirmer, s.cfg.Concurrency, s.logger).ApplyAll(ctx, edits)
	if err := s.record(edits); err != nil {
		s.logger.Warn("could not save state", "err", err)
	}
	return report
}

// record persists the applied edits. Nothing is written when no file was applied.
func (s *Session) record(edits []*instrument.PendingEdit) error {
	now := time.Now()
	applied := 0
	for _, edit := range edits {
		if edit.Status != instrument.StatusApplied {
			continue
		}
		nodes := make([]state.NodeRecord, 0, len(edit.TouchedNodeIDs))
		for i, id := range edit.TouchedNodeIDs {
			nodes = append(nodes, state.NodeRecord{ID: id, QualifiedName: edit.TouchedNames[i]})
		}
		s.state.Record(edit.RelPath, parser.HashContent(edit.Transformed), nodes, now)
		applied++
	}
	if applied == 0 {
		return nil
	}
	s.state.LastSession = s.ID
	return s.state.Save(s.cfg.StatePath())
}
