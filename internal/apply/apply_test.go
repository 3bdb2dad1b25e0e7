package apply

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autotrace-dev/autotrace/internal/instrument"
)

type scriptedConfirm struct {
	answers map[string]bool
	err     error
	asked   []string
}

func (s *scriptedConfirm) ConfirmFile(_ context.Context, edit *instrument.PendingEdit) (bool, error) {
	s.asked = append(s.asked, edit.RelPath)
	if s.err != nil {
		return false, s.err
	}
	return s.answers[edit.RelPath], nil
}

func TestApplyAllWritesAndIsolatesConflicts(t *testing.T) {
	dir := t.TempDir()
	a := newEdit(t, dir, "a.js", "old a\n", "new a\n", 0o600)
	b := newEdit(t, dir, "b.js", "old b\n", "new b\n", 0o644)
	c := newEdit(t, dir, "c.js", "old c\n", "new c\n", 0o644)

	// c changes after planning
	require.NoError(t, os.WriteFile(c.File, []byte("edited c\n"), 0o644))

	report := NewApplier(nil, 2, nil).ApplyAll(context.Background(), []*instrument.PendingEdit{c, b, a})

	require.Len(t, report.Results, 3)
	assert.Equal(t, []string{"a.js", "b.js", "c.js"}, files(report))
	assert.Equal(t, instrument.StatusApplied, report.Results[0].Status)
	assert.Equal(t, instrument.StatusApplied, report.Results[1].Status)
	assert.Equal(t, instrument.StatusConflicted, report.Results[2].Status)
	assert.Equal(t, ReasonConflict, report.Results[2].Reason)

	assertContent(t, a.File, "new a\n")
	assertContent(t, b.File, "new b\n")
	assertContent(t, c.File, "edited c\n")

	info, err := os.Stat(a.File)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "temp files must not be left behind")
}

func TestApplyAllRetriesOnlyUnapplied(t *testing.T) {
	dir := t.TempDir()
	a := newEdit(t, dir, "a.py", "old\n", "new\n", 0o644)
	b := newEdit(t, dir, "b.py", "old\n", "new\n", 0o644)
	require.NoError(t, os.WriteFile(b.File, []byte("changed\n"), 0o644))

	applier := NewApplier(nil, 4, nil)
	first := applier.ApplyAll(context.Background(), []*instrument.PendingEdit{a, b})
	assert.Equal(t, 1, first.Counts()[instrument.StatusConflicted])

	// the user reverts b; a must not be rewritten
	require.NoError(t, os.WriteFile(b.File, []byte("old\n"), 0o644))
	require.NoError(t, os.WriteFile(a.File, []byte("touched after apply\n"), 0o644))

	second := applier.ApplyAll(context.Background(), []*instrument.PendingEdit{a, b})
	assert.Equal(t, 2, second.Counts()[instrument.StatusApplied])
	assertContent(t, a.File, "touched after apply\n")
	assertContent(t, b.File, "new\n")
}

func TestApplyOneFailsForMissingFile(t *testing.T) {
	dir := t.TempDir()
	edit := newEdit(t, dir, "gone.js", "x\n", "y\n", 0o644)
	require.NoError(t, os.Remove(edit.File))

	res := NewApplier(nil, 1, nil).ApplyOne(context.Background(), edit)
	assert.Equal(t, instrument.StatusFailed, res.Status)
	assert.NotEmpty(t, res.Reason)
}

func TestApplyAllCancelledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	a := newEdit(t, dir, "a.js", "old\n", "new\n", 0o644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewApplier(nil, 1, nil).ApplyAll(ctx, []*instrument.PendingEdit{a})
	require.Len(t, report.Results, 1)
	assert.Equal(t, instrument.StatusFailed, report.Results[0].Status)
	assert.Equal(t, ReasonCancelled, report.Results[0].Reason)
	assertContent(t, a.File, "old\n")
}

func TestApplyAllWithConfirmer(t *testing.T) {
	dir := t.TempDir()
	a := newEdit(t, dir, "a.js", "old\n", "new\n", 0o644)
	b := newEdit(t, dir, "b.js", "old\n", "new\n", 0o644)

	confirm := &scriptedConfirm{answers: map[string]bool{"a.js": true}}
	report := NewApplier(confirm, 4, nil).ApplyAll(context.Background(), []*instrument.PendingEdit{b, a})

	assert.Equal(t, []string{"a.js", "b.js"}, confirm.asked)
	assert.Equal(t, instrument.StatusApplied, report.Results[0].Status)
	assert.Equal(t, instrument.StatusPending, report.Results[1].Status)
	assert.Equal(t, ReasonDeclined, report.Results[1].Reason)
	assertContent(t, b.File, "old\n")
}

func TestApplyAllConfirmerAbortCancelsRemaining(t *testing.T) {
	dir := t.TempDir()
	a := newEdit(t, dir, "a.js", "old\n", "new\n", 0o644)
	b := newEdit(t, dir, "b.js", "old\n", "new\n", 0o644)

	confirm := &scriptedConfirm{err: errors.New("quit")}
	report := NewApplier(confirm, 1, nil).ApplyAll(context.Background(), []*instrument.PendingEdit{a, b})

	assert.Equal(t, []string{"a.js"}, confirm.asked)
	assert.Equal(t, 2, report.Counts()[instrument.StatusFailed])
	assert.Len(t, report.Problems(), 2)
	assertContent(t, a.File, "old\n")
	assertContent(t, b.File, "old\n")
}

func newEdit(t *testing.T, dir, name, baseline, transformed string, perm os.FileMode) *instrument.PendingEdit {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(baseline), perm))
	require.NoError(t, os.Chmod(path, perm))
	return &instrument.PendingEdit{
		File:        path,
		RelPath:     name,
		Baseline:    []byte(baseline),
		Transformed: []byte(transformed),
		Status:      instrument.StatusPending,
	}
}

func files(r *Report) []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.File)
	}
	return out
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}
