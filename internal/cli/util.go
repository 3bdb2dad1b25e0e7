package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autotrace-dev/autotrace/internal/config"
	"github.com/autotrace-dev/autotrace/internal/logging"
	"github.com/autotrace-dev/autotrace/internal/session"
)

const IgnoreFile = ".autotraceignore"

// loadConfig reads the layered configuration and the project's ignore file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	rules, err := LoadIgnoreRules(cfg.Root)
	if err != nil {
		return nil, err
	}
	cfg.Ignore = append(cfg.Ignore, rules...)
	return cfg, nil
}

// newLogger writes to stderr so stdout stays parseable with --json.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	return logging.New(os.Stderr, level, cfg.LogJSON)
}

func openSession(cmd *cobra.Command) (*config.Config, *session.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	s, err := session.New(cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func LoadIgnoreRules(rootPath string) ([]string, error) {
	ignorePath := filepath.Join(rootPath, IgnoreFile)
	f, err := os.Open(ignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFile, err)
	}
	defer f.Close()

	rules := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", IgnoreFile, err)
	}

	return rules, nil
}
