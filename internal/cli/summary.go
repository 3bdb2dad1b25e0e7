package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/apply"
	"github.com/autotrace-dev/autotrace/internal/fileutil"
	"github.com/autotrace-dev/autotrace/internal/graph"
	"github.com/autotrace-dev/autotrace/internal/instrument"
	"github.com/autotrace-dev/autotrace/internal/session"
)

type RunSummary struct {
	Mode                string               `json:"mode"`
	RootPath            string               `json:"root_path"`
	SessionID           string               `json:"session_id"`
	Entry               string               `json:"entry"`
	Nodes               int                  `json:"nodes"`
	Edges               int                  `json:"edges"`
	Resolved            int                  `json:"resolved"`
	External            int                  `json:"external"`
	Unknown             int                  `json:"unknown"`
	Selected            int                  `json:"selected"`
	AlreadyInstrumented int                  `json:"already_instrumented"`
	Files               int                  `json:"files"`
	Applied             int                  `json:"applied"`
	Conflicted          int                  `json:"conflicted"`
	Failed              int                  `json:"failed"`
	Pending             int                  `json:"pending"`
	DryRun              bool                 `json:"dry_run"`
	DurationMS          int64                `json:"duration_ms"`
	Results             []apply.FileResult   `json:"results,omitempty"`
	Warnings            []instrument.Warning `json:"warnings,omitempty"`
	Issues              []graph.Issue        `json:"issues,omitempty"`
}

type StatusSummary struct {
	Mode        string       `json:"mode"`
	RootPath    string       `json:"root_path"`
	StateFile   string       `json:"state_file"`
	LastSession string       `json:"last_session,omitempty"`
	Files       int          `json:"files"`
	Functions   int          `json:"functions"`
	Clean       bool         `json:"clean"`
	Entries     []FileStatus `json:"entries"`
}

type FileStatus struct {
	File      string   `json:"file"`
	Status    string   `json:"status"` // unchanged|modified|missing
	Functions []string `json:"functions"`
}

func NewRunSummary(root string, res *session.Result) RunSummary {
	counts := res.Graph.ResolutionCounts()
	summary := RunSummary{
		Mode:                "instrument",
		RootPath:            root,
		SessionID:           res.SessionID,
		Nodes:               len(res.Graph.Nodes),
		Edges:               len(res.Graph.Edges),
		Resolved:            counts[graph.Resolved],
		External:            counts[graph.External],
		Unknown:             counts[graph.Unknown],
		Selected:            len(res.Selected),
		AlreadyInstrumented: len(res.Plan.Skipped),
		Files:               len(res.Edits),
		DryRun:              res.DryRun,
		Warnings:            res.Plan.Warnings,
		Issues:              res.Graph.Issues,
	}
	if entry := res.Graph.Entry(); entry != nil {
		summary.Entry = entry.File + ":" + entry.QualifiedName
	}
	if res.Report != nil {
		c := res.Report.Counts()
		summary.Applied = c[instrument.StatusApplied]
		summary.Conflicted = c[instrument.StatusConflicted]
		summary.Failed = c[instrument.StatusFailed]
		summary.Pending = c[instrument.StatusPending]
		summary.Results = res.Report.Results
	}
	return summary
}

func PrintRunSummary(w io.Writer, summary RunSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, summary)
	}

	mode := summary.Mode
	if summary.DryRun {
		mode += " (dry-run)"
	}
	fmt.Fprintf(w,
		"%s: entry=%s nodes=%d edges=%d (resolved=%d external=%d unknown=%d) selected=%d already_instrumented=%d duration=%dms\n",
		mode,
		summary.Entry,
		summary.Nodes,
		summary.Edges,
		summary.Resolved,
		summary.External,
		summary.Unknown,
		summary.Selected,
		summary.AlreadyInstrumented,
		summary.DurationMS,
	)
	if !summary.DryRun {
		fmt.Fprintf(w, "files: planned=%d applied=%d conflicted=%d failed=%d pending=%d\n",
			summary.Files, summary.Applied, summary.Conflicted, summary.Failed, summary.Pending)
	}

	applied := make([]string, 0)
	for _, res := range summary.Results {
		switch res.Status {
		case instrument.StatusApplied:
			applied = append(applied, res.File)
		case instrument.StatusConflicted, instrument.StatusFailed, instrument.StatusPending:
			fmt.Fprintf(w, "  %s %s: %s\n", res.Status, res.File, res.Reason)
		}
	}
	if len(applied) > 0 {
		fmt.Fprintf(w, "applied files (%d): %s\n", len(applied), SummarizePaths(applied, 8))
	}
	if len(summary.Warnings) > 0 {
		fmt.Fprintf(w, "warnings (%d):\n", len(summary.Warnings))
		for _, warning := range summary.Warnings {
			fmt.Fprintf(w, "  %s\n", warning)
		}
	}
	if len(summary.Issues) > 0 {
		fmt.Fprintf(w, "unresolved imports (%d):\n", len(summary.Issues))
		for _, issue := range summary.Issues {
			fmt.Fprintf(w, "  %s:%d %s\n", issue.File, issue.Line, issue.Message)
		}
	}
	return nil
}

func PrintStatusSummary(w io.Writer, summary StatusSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, summary)
	}

	fmt.Fprintf(w, "status: files=%d functions=%d clean=%t\n", summary.Files, summary.Functions, summary.Clean)
	if summary.LastSession != "" {
		fmt.Fprintf(w, "last session: %s\n", summary.LastSession)
	}
	for _, entry := range summary.Entries {
		fmt.Fprintf(w, "  %-9s %s (%s)\n", entry.Status, entry.File, strings.Join(entry.Functions, ", "))
	}
	return nil
}

func SummarizePaths(paths []string, max int) string {
	if len(paths) <= max {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s ... (+%d more)", strings.Join(paths[:max], ", "), len(paths)-max)
}
