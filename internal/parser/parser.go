package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupportedLanguage is returned for files no registered parser handles.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// LanguageParser defines the interface each language must implement
type LanguageParser interface {
	// Language returns the language this parser produces
	Language() Language

	// Extensions returns file extensions this parser handles
	Extensions() []string

	// Parse builds a source unit from file content. It must be safe for concurrent use.
	// A syntax error is reported as *ParseError.
	Parse(ctx context.Context, filename string, content []byte) (*SourceUnit, error)
}

// Registry holds all registered language parsers
type Registry struct {
	parsers   map[Language]LanguageParser
	extToLang map[string]Language
}

// NewRegistry creates a new parser registry
func NewRegistry() *Registry {
	return &Registry{
		parsers:   make(map[Language]LanguageParser),
		extToLang: make(map[string]Language),
	}
}

// Register adds a language parser to the registry
func (r *Registry) Register(p LanguageParser) {
	lang := p.Language()
	r.parsers[lang] = p
	for _, ext := range p.Extensions() {
		r.extToLang[strings.ToLower(ext)] = lang
	}
}

// Detect returns the language for a file based on its extension.
func (r *Registry) Detect(filename string) (Language, bool) {
	lang, ok := r.extToLang[strings.ToLower(filepath.Ext(filename))]
	return lang, ok
}

// GetParserForFile returns the appropriate parser for a file
func (r *Registry) GetParserForFile(filename string) (LanguageParser, bool) {
	lang, ok := r.Detect(filename)
	if !ok {
		return nil, false
	}
	p, ok := r.parsers[lang]
	return p, ok
}

// SupportedExtensions returns all supported file extensions
func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

type loadEntry struct {
	once sync.Once
	unit *SourceUnit
	err  error
}

// Loader reads and parses source units, caching them by absolute path for the
// lifetime of one session. Content is read exactly once per path.
type Loader struct {
	registry *Registry
	root     string
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*loadEntry
}

// NewLoader creates a loader for files under root.
func NewLoader(registry *Registry, root string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		registry: registry,
		root:     root,
		logger:   logger,
		entries:  make(map[string]*loadEntry),
	}
}

// Root returns the project root the loader computes relative paths against.
func (l *Loader) Root() string {
	return l.root
}

// Registry exposes the language registry used for detection.
func (l *Loader) Registry() *Registry {
	return l.registry
}

// Load returns the parsed unit for path. Repeated calls, including concurrent
// ones, return the same cached unit or error.
func (l *Loader) Load(ctx context.Context, path string) (*SourceUnit, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %q: %w", path, err)
	}

	l.mu.Lock()
	entry, ok := l.entries[abs]
	if !ok {
		entry = &loadEntry{}
		l.entries[abs] = entry
	}
	l.mu.Unlock()

	entry.once.Do(func() {
		entry.unit, entry.err = l.parse(ctx, abs)
	})
	if errors.Is(entry.err, context.Canceled) || errors.Is(entry.err, context.DeadlineExceeded) {
		// a cancelled parse says nothing about the file; let a later run retry
		l.mu.Lock()
		if l.entries[abs] == entry {
			delete(l.entries, abs)
		}
		l.mu.Unlock()
	}
	return entry.unit, entry.err
}

// Cached returns a previously loaded unit without touching the file system.
func (l *Loader) Cached(path string) (*SourceUnit, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	entry, ok := l.entries[abs]
	l.mu.Unlock()
	if !ok || entry.unit == nil {
		return nil, false
	}
	return entry.unit, true
}

// Units returns every successfully loaded unit sorted by path.
func (l *Loader) Units() []*SourceUnit {
	l.mu.Lock()
	defer l.mu.Unlock()

	units := make([]*SourceUnit, 0, len(l.entries))
	for _, entry := range l.entries {
		if entry.unit != nil {
			units = append(units, entry.unit)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].Path < units[j].Path
	})
	return units
}

// Close releases the syntax trees held by cached units.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.unit != nil && entry.unit.Tree != nil {
			entry.unit.Tree.Close()
			entry.unit.Tree = nil
		}
	}
}

func (l *Loader) parse(ctx context.Context, abs string) (*SourceUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, ok := l.registry.GetParserForFile(abs)
	if !ok {
		return nil, fmt.Errorf("%s: %w", abs, ErrUnsupportedLanguage)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	unit, err := p.Parse(ctx, abs, content)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			parseErr.Path = l.relPath(abs)
		}
		l.logger.Debug("parse failed", "file", l.relPath(abs), "error", err)
		return nil, err
	}

	unit.Path = abs
	unit.RelPath = l.relPath(abs)
	unit.Hash = HashContent(content)
	l.logger.Debug("parsed source unit", "file", unit.RelPath, "language", unit.Language, "functions", len(unit.Functions))
	return unit, nil
}

func (l *Loader) relPath(abs string) string {
	if l.root == "" {
		return filepath.ToSlash(abs)
	}
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// HashContent returns a short content hash used for change detection.
func HashContent(content []byte) string {
	h := sha256.New()
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))[:16] // short hash
}
