package boundary

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBoundaryDefaultsAndUserOverrides(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("generated/\n"), 0o644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}

	b, err := New(root, ".autotrace", []string{"*.spec.js", "!vendor/keep/"})
	if err != nil {
		t.Fatalf("new boundary: %v", err)
	}

	cases := []struct {
		path     string
		contains bool
	}{
		{path: "src/app.js", contains: true},
		{path: "node_modules/openai/index.js", contains: false},
		{path: "packages/web/node_modules/react/index.js", contains: false},
		{path: ".venv/lib/python3.12/site-packages/openai/__init__.py", contains: false},
		{path: "lib/python3.12/site-packages/requests/api.py", contains: false},
		{path: "generated/client.ts", contains: false},
		{path: "src/app.spec.js", contains: false},
		{path: ".autotrace/state.json", contains: false},
		{path: "vendor/lib/a.js", contains: false},
		{path: "vendor/keep/a.js", contains: true},
	}

	for _, tc := range cases {
		got := b.Contains(filepath.Join(root, filepath.FromSlash(tc.path)))
		if got != tc.contains {
			t.Fatalf("path %s: expected contains=%v, got %v", tc.path, tc.contains, got)
		}
	}
}

func TestBoundaryRejectsPathsOutsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "project")
	b, err := New(root, "", nil)
	if err != nil {
		t.Fatalf("new boundary: %v", err)
	}

	if b.Contains(filepath.Join(parent, "shared", "util.js")) {
		t.Fatalf("expected sibling directory to be outside the boundary")
	}
	if _, ok := b.Rel(filepath.Join(parent, "project-other", "a.js")); ok {
		t.Fatalf("expected prefix-sharing sibling to be outside the boundary")
	}
	rel, ok := b.Rel(filepath.Join(root, "src", "a.js"))
	if !ok || rel != "src/a.js" {
		t.Fatalf("expected src/a.js, got %q (%v)", rel, ok)
	}
}
