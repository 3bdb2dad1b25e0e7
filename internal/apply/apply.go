// Package apply writes planned edits to disk, one atomic replace per file.
package apply

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/autotrace-dev/autotrace/internal/fileutil"
	"github.com/autotrace-dev/autotrace/internal/instrument"
)

const (
	ReasonConflict  = "file changed since it was analyzed"
	ReasonDeclined  = "declined"
	ReasonCancelled = "cancelled"
)

// Confirmer approves each file before it is written. Returning an error
// cancels the rest of the run.
type Confirmer interface {
	ConfirmFile(ctx context.Context, edit *instrument.PendingEdit) (bool, error)
}

// FileResult is the outcome for one file.
type FileResult struct {
	File      string            `json:"file"`
	Status    instrument.Status `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Functions []string          `json:"functions,omitempty"`
}

// Report collects per-file results sorted by path.
type Report struct {
	Results []FileResult `json:"results"`
}

// Counts tallies results by status.
func (r *Report) Counts() map[instrument.Status]int {
	counts := make(map[instrument.Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Applied returns the results that were written.
func (r *Report) Applied() []FileResult {
	return r.withStatus(instrument.StatusApplied)
}

// Problems returns conflicted and failed results.
func (r *Report) Problems() []FileResult {
	return append(r.withStatus(instrument.StatusConflicted), r.withStatus(instrument.StatusFailed)...)
}

func (r *Report) withStatus(status instrument.Status) []FileResult {
	out := make([]FileResult, 0)
	for _, res := range r.Results {
		if res.Status == status {
			out = append(out, res)
		}
	}
	return out
}

// Applier writes PendingEdits. Files are isolated: a conflict or failure in
// one file never affects another.
type Applier struct {
	confirmer   Confirmer
	concurrency int
	logger      *slog.Logger
}

// NewApplier creates an applier. With a nil confirmer files are written
// concurrently; otherwise they are confirmed and written one by one.
func NewApplier(confirmer Confirmer, concurrency int, logger *slog.Logger) *Applier {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{confirmer: confirmer, concurrency: concurrency, logger: logger}
}

// ApplyAll applies every edit. Edits already applied are skipped, so calling
// it again retries only the pending, conflicted and failed ones.
func (a *Applier) ApplyAll(ctx context.Context, edits []*instrument.PendingEdit) *Report {
	ordered := append([]*instrument.PendingEdit(nil), edits...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RelPath < ordered[j].RelPath
	})

	results := make([]FileResult, len(ordered))
	if a.confirmer != nil {
		a.applySequential(ctx, ordered, results)
	} else {
		a.applyConcurrent(ctx, ordered, results)
	}

	report := &Report{Results: results}
	counts := report.Counts()
	a.logger.Info("edits applied",
		"applied", counts[instrument.StatusApplied],
		"conflicted", counts[instrument.StatusConflicted],
		"failed", counts[instrument.StatusFailed],
		"pending", counts[instrument.StatusPending])
	return report
}

func (a *Applier) applySequential(ctx context.Context, edits []*instrument.PendingEdit, results []FileResult) {
	for i, edit := range edits {
		if edit.Status == instrument.StatusApplied {
			results[i] = resultOf(edit)
			continue
		}
		if ctx.Err() != nil {
			results[i] = a.cancel(edit)
			continue
		}

		ok, err := a.confirmer.ConfirmFile(ctx, edit)
		if err != nil {
			a.logger.Debug("confirmation aborted", "file", edit.RelPath, "err", err)
			for j := i; j < len(edits); j++ {
				if edits[j].Status == instrument.StatusApplied {
					results[j] = resultOf(edits[j])
					continue
				}
				results[j] = a.cancel(edits[j])
			}
			return
		}
		if !ok {
			edit.Status = instrument.StatusPending
			edit.Reason = ReasonDeclined
			results[i] = resultOf(edit)
			continue
		}
		results[i] = a.ApplyOne(ctx, edit)
	}
}

func (a *Applier) applyConcurrent(ctx context.Context, edits []*instrument.PendingEdit, results []FileResult) {
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, edit := range edits {
		g.Go(func() error {
			results[i] = a.ApplyOne(ctx, edit)
			return nil
		})
	}
	_ = g.Wait()
}

// ApplyOne re-reads the file, refuses to write when it no longer matches the
// baseline, and otherwise replaces it atomically keeping its mode.
func (a *Applier) ApplyOne(ctx context.Context, edit *instrument.PendingEdit) FileResult {
	if edit.Status == instrument.StatusApplied {
		return resultOf(edit)
	}
	if ctx.Err() != nil {
		return a.cancel(edit)
	}

	info, err := os.Stat(edit.File)
	if err != nil {
		return a.fail(edit, err.Error())
	}
	current, err := os.ReadFile(edit.File)
	if err != nil {
		return a.fail(edit, err.Error())
	}
	if !bytes.Equal(current, edit.Baseline) {
		edit.Status = instrument.StatusConflicted
		edit.Reason = ReasonConflict
		a.logger.Warn("file changed, not writing", "file", edit.RelPath)
		return resultOf(edit)
	}

	if err := fileutil.WriteAtomic(edit.File, edit.Transformed, info.Mode().Perm()); err != nil {
		return a.fail(edit, err.Error())
	}
	edit.Status = instrument.StatusApplied
	edit.Reason = ""
	a.logger.Debug("file written", "file", edit.RelPath, "functions", len(edit.TouchedNodeIDs))
	return resultOf(edit)
}

func (a *Applier) fail(edit *instrument.PendingEdit, reason string) FileResult {
	edit.Status = instrument.StatusFailed
	edit.Reason = reason
	a.logger.Warn("write failed", "file", edit.RelPath, "reason", reason)
	return resultOf(edit)
}

func (a *Applier) cancel(edit *instrument.PendingEdit) FileResult {
	edit.Status = instrument.StatusFailed
	edit.Reason = ReasonCancelled
	return resultOf(edit)
}

func resultOf(edit *instrument.PendingEdit) FileResult {
	return FileResult{
		File:      edit.RelPath,
		Status:    edit.Status,
		Reason:    edit.Reason,
		Functions: edit.TouchedNames,
	}
}
