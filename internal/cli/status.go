package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autotrace-dev/autotrace/internal/fileutil"
	"github.com/autotrace-dev/autotrace/internal/state"
)

const (
	statusUnchanged = "unchanged"
	statusModified  = "modified"
	statusMissing   = "missing"
)

func RunStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	asJSON, err := OptionalBoolFlag(cmd, "json")
	if err != nil {
		return err
	}

	st, err := state.Load(cfg.StatePath())
	if err != nil {
		var corrupt *state.ErrCorrupt
		if !errors.As(err, &corrupt) {
			return fmt.Errorf("failed to load state: %w", err)
		}
		logger.Warn("corrupt state file; reporting nothing as instrumented", "path", corrupt.Path, "err", corrupt.Err)
	}

	currentHashes := make(map[string]string, len(st.Files))
	for _, file := range fileutil.MapKeysSorted(st.Files) {
		hash, err := fileutil.HashFile(filepath.Join(cfg.Root, filepath.FromSlash(file)))
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("could not hash file", "file", file, "err", err)
			}
			continue
		}
		currentHashes[file] = hash
	}
	changed := make(map[string]bool)
	for _, file := range st.ChangedFiles(currentHashes) {
		changed[file] = true
	}

	summary := StatusSummary{
		Mode:        "status",
		RootPath:    cfg.Root,
		StateFile:   state.Path(cfg.StatePath()),
		LastSession: st.LastSession,
		Files:       len(st.Files),
		Functions:   st.NodeCount(),
		Clean:       len(changed) == 0,
		Entries:     make([]FileStatus, 0, len(st.Files)),
	}
	for _, file := range fileutil.MapKeysSorted(st.Files) {
		entry := FileStatus{File: file, Status: statusUnchanged}
		if _, ok := currentHashes[file]; !ok {
			entry.Status = statusMissing
		} else if changed[file] {
			entry.Status = statusModified
		}
		names := make([]string, 0, len(st.Files[file].Nodes))
		for _, node := range st.Files[file].Nodes {
			names = append(names, node.QualifiedName)
		}
		entry.Functions = fileutil.DedupeStrings(names)
		summary.Entries = append(summary.Entries, entry)
	}

	return PrintStatusSummary(cmd.OutOrStdout(), summary, asJSON)
}
