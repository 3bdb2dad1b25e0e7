// Package boundary decides which files the call graph builder may enter.
package boundary

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// dependencyRules exclude third-party and generated code. They are evaluated
// before the project's .gitignore and user rules, so a later negation wins.
var dependencyRules = []string{
	".git/",
	"node_modules/",
	"bower_components/",
	"jspm_packages/",
	"vendor/",
	"venv/",
	".venv/",
	"env/",
	".tox/",
	"site-packages/",
	"dist-packages/",
	"__pycache__/",
	"*.egg-info/",
	"dist/",
	"build/",
}

// Boundary is the set of project files traversal may turn into nodes.
type Boundary struct {
	root    string
	matcher *ignore.GitIgnore
}

// New builds a boundary rooted at root. Rules come from the dependency
// defaults, the root .gitignore (when present) and userRules, in that order.
// stateDir is always excluded.
func New(root string, stateDir string, userRules []string) (*Boundary, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(dependencyRules)+len(userRules)+8)
	lines = append(lines, dependencyRules...)
	if stateDir != "" {
		lines = append(lines, strings.TrimSuffix(filepath.ToSlash(stateDir), "/")+"/")
	}
	lines = append(lines, readIgnoreFile(filepath.Join(abs, ".gitignore"))...)
	lines = append(lines, userRules...)

	return &Boundary{
		root:    abs,
		matcher: ignore.CompileIgnoreLines(lines...),
	}, nil
}

// Root returns the absolute project root.
func (b *Boundary) Root() string {
	return b.root
}

// Rel returns path relative to the root, slash separated. ok is false when
// the path lies outside the root.
func (b *Boundary) Rel(path string) (rel string, ok bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	r, err := filepath.Rel(b.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

// Contains reports whether path is inside the root and not excluded.
func (b *Boundary) Contains(path string) bool {
	rel, ok := b.Rel(path)
	if !ok {
		return false
	}
	if rel == "." {
		return true
	}
	return !b.matcher.MatchesPath(rel)
}

func readIgnoreFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
}
