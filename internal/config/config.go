// Package config loads autotrace settings from defaults, autotrace.toml (or
// autotrace.yaml), the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/autotrace-dev/autotrace/internal/analyzer"
	"github.com/autotrace-dev/autotrace/internal/instrument"
	"github.com/autotrace-dev/autotrace/internal/logging"
	"github.com/autotrace-dev/autotrace/internal/state"
)

const (
	FileName  = "autotrace.toml"
	EnvPrefix = "AUTOTRACE_"
)

// fileNames are probed in order when no config file is named.
var fileNames = []string{FileName, "autotrace.yaml", "autotrace.yml"}

// Config holds all configuration for a run
type Config struct {
	Root        string             `koanf:"root"`
	ConfigFile  string             `koanf:"config"`
	MaxDepth    int                `koanf:"max_depth"`
	MaxFiles    int                `koanf:"max_files"`
	Concurrency int                `koanf:"concurrency"`
	LogLevel    string             `koanf:"log_level"`
	LogJSON     bool               `koanf:"log_json"`
	Ignore      []string           `koanf:"ignore"`
	StateDir    string             `koanf:"state_dir"`
	Tracing     instrument.Targets `koanf:"tracing"`
	Analyzer    analyzer.Rules     `koanf:"analyzer"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Root:        ".",
		MaxDepth:    8,
		MaxFiles:    200,
		Concurrency: 8,
		LogLevel:    "info",
		StateDir:    state.DefaultDir,
		Ignore:      []string{},
		Tracing:     instrument.DefaultTargets(),
		Analyzer:    analyzer.DefaultRules(),
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
//
// The config file is autotrace.toml in the project root unless --config (or
// AUTOTRACE_CONFIG) names one; a named file must exist.
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(makeMapProvider(defaultsMap(Defaults())), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// root and config may come from env or flags, so those layers are read
	// once to find the file and again so they win over it
	if err := loadOverrides(k, f); err != nil {
		return nil, err
	}

	path := k.String("config")
	explicit := path != ""
	if !explicit {
		path = findConfigFile(k.String("root"))
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if err := loadOverrides(k, f); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if explicit {
		cfg.ConfigFile = path
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findConfigFile(root string) string {
	for _, name := range fileNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(root, FileName)
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return toml.Parser()
	}
}

func loadOverrides(k *koanf.Koanf, f *pflag.FlagSet) error {
	// Prefix: AUTOTRACE_ (e.g. AUTOTRACE_MAX_DEPTH=4, AUTOTRACE_TRACING__JS__MODULE=@acme/trace)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load env vars: %w", err)
	}

	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, func(flag *pflag.Flag) (string, interface{}) {
			return flagKey(flag.Name), posflag.FlagVal(f, flag)
		}), nil); err != nil {
			return fmt.Errorf("failed to load flags: %w", err)
		}
	}
	return nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth))
	}
	if c.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("max_files must be positive, got %d", c.MaxFiles))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, errors.New("state_dir must not be empty"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tracing.JS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing.js: %w", err))
	}
	if err := c.Tracing.Python.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing.py: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// StatePath returns the absolute state directory.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.Root, c.StateDir)
}

// DefaultTOML renders the defaults as an autotrace.toml document.
func DefaultTOML() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(makeMapProvider(defaultsMap(Defaults())), nil); err != nil {
		return nil, err
	}
	k.Delete("root")
	k.Delete("config")
	return k.Marshal(toml.Parser())
}

func defaultsMap(c Config) map[string]interface{} {
	target := func(t instrument.Target) map[string]interface{} {
		return map[string]interface{}{
			"module":       t.Module,
			"start":        t.Start,
			"end":          t.End,
			"span_var":     t.SpanVar,
			"import_style": t.ImportStyle,
			"markers":      t.Markers,
		}
	}
	return map[string]interface{}{
		"root":        c.Root,
		"config":      "",
		"max_depth":   c.MaxDepth,
		"max_files":   c.MaxFiles,
		"concurrency": c.Concurrency,
		"log_level":   c.LogLevel,
		"log_json":    c.LogJSON,
		"ignore":      c.Ignore,
		"state_dir":   c.StateDir,
		"tracing": map[string]interface{}{
			"js": target(c.Tracing.JS),
			"py": target(c.Tracing.Python),
		},
		"analyzer": map[string]interface{}{
			"providers":   c.Analyzer.Providers,
			"llm_methods": c.Analyzer.LLMMethods,
			"io_modules":  c.Analyzer.IOModules,
			"io_calls":    c.Analyzer.IOCalls,
		},
	}
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
