package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autotrace-dev/autotrace/internal/config"
	"github.com/autotrace-dev/autotrace/internal/fileutil"
)

func RunInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	force, err := OptionalBoolFlag(cmd, "force")
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.Root, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := config.DefaultTOML()
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}
	data = []byte(fileutil.EnsureTrailingNewline(string(data)))
	if _, err := fileutil.WriteIfChanged(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
