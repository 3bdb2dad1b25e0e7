package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autotrace-dev/autotrace/internal/selection"
	"github.com/autotrace-dev/autotrace/internal/session"
)

func RunInstrument(cmd *cobra.Command, args []string) error {
	start := time.Now()
	cfg, s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	yes, err := OptionalBoolFlag(cmd, "yes")
	if err != nil {
		return err
	}
	dryRun, err := OptionalBoolFlag(cmd, "dry-run")
	if err != nil {
		return err
	}
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	interactive := !yes && !asJSON && isTerminal(os.Stdin) && isTerminal(os.Stderr)
	opts := session.Options{
		EntryFile:     args[0],
		EntryFunction: args[1],
		Resolver:      selection.NonInteractive{},
		DryRun:        dryRun,
	}
	if interactive {
		opts.Resolver = selection.Interactive{In: os.Stdin, Out: os.Stderr}
		if !dryRun {
			opts.Confirmer = selection.NewPromptConfirm(os.Stdin, os.Stderr)
		}
	}

	res, err := s.Run(cmd.Context(), opts)
	if err != nil {
		if errors.Is(err, selection.ErrCancelled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "cancelled; no files were changed")
			return nil
		}
		return err
	}

	if dryRun && !asJSON {
		printDiffs(out, res, isTerminal(os.Stdout))
	}

	summary := NewRunSummary(cfg.Root, res)
	summary.DurationMS = time.Since(start).Milliseconds()
	if err := PrintRunSummary(out, summary, asJSON); err != nil {
		return err
	}
	if res.Report != nil && len(res.Report.Problems()) > 0 && !asJSON {
		fmt.Fprintln(cmd.ErrOrStderr(), "some files were not written; revert or re-run to retry them")
	}
	return nil
}

func printDiffs(w io.Writer, res *session.Result, color bool) {
	for _, edit := range res.Edits {
		diff := edit.Diff()
		if color {
			diff = selection.ColorDiff(diff)
		}
		fmt.Fprint(w, diff)
	}
	if len(res.Edits) == 0 {
		fmt.Fprintln(w, "nothing to instrument")
	}
}
